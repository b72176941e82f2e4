package app

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solveeverylight/internal/config"
	"solveeverylight/internal/imaging"
	"solveeverylight/internal/metrics"
	"solveeverylight/internal/options"
	"solveeverylight/internal/pipeline"
	"solveeverylight/internal/platesolve"
	"solveeverylight/internal/profile"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.LoadFile(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	cfg.Database.Path = filepath.Join(dir, "sel.db")
	cfg.Paths.TempDir = dir
	return cfg
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	a, err := New(testConfig(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// solvedRunner imitates ASTAP by writing an ini next to the -o base.
func solvedRunner(_ context.Context, _ string, args ...string) ([]byte, error) {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == "-o" {
			ini := strings.Join([]string{
				"PLTSOLVD=T",
				"CRVAL1=10.6847",
				"CRVAL2=41.2690",
				"CD1_1=-0.000430",
				"CD1_2=0",
				"CD2_1=0",
				"CD2_2=0.000430",
				"CROTA2=0",
			}, "\n")
			return nil, os.WriteFile(args[i+1]+".ini", []byte(ini), 0o644)
		}
	}
	return nil, nil
}

func writeLight(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "m31_light.fits")
	require.NoError(t, imaging.CreateFITS(path, 16, 128, 96, []imaging.HeaderEntry{
		{Key: "IMAGETYP", Value: "LIGHT"},
		{Key: "XPIXSZ", Value: 4.63},
		{Key: "RA", Value: 10.68},
		{Key: "DEC", Value: 41.27},
	}))
	return path
}

func TestProfileFromConfig(t *testing.T) {
	p, err := ProfileFromConfig(config.Profile{Name: "Refractor", FileType: "XISF", PlateSolve: platesolve.ProfileSettings{FocalLength: 0}})
	require.NoError(t, err)
	assert.Equal(t, imaging.FormatXISF, p.ImageFileSettings.FileType)
	assert.True(t, math.IsNaN(p.PlateSolve.FocalLength))

	again, err := ProfileFromConfig(config.Profile{Name: "Refractor"})
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID, "derived ids are stable")

	id := uuid.New()
	p, err = ProfileFromConfig(config.Profile{ID: id.String(), PlateSolve: platesolve.ProfileSettings{FocalLength: 990}})
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)
	assert.Equal(t, 990.0, p.PlateSolve.FocalLength)

	_, err = ProfileFromConfig(config.Profile{ID: "not-a-uuid"})
	assert.Error(t, err)
}

func TestNewMigratesActiveProfile(t *testing.T) {
	a := newTestApp(t)
	acc := a.ActiveOptions().Accessor()
	assert.True(t, acc.GetBool(options.KeyHasMigratedProperties, false))
	assert.Equal(t, options.DefaultPluginOptions(), a.ActiveOptions().Snapshot())
}

func TestProfileSwitchLoadsOtherOptions(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, a.ActiveOptions().Set(options.KeySnapshotsEnabled, "true"))

	other := a.Profiles.Put(profile.Profile{Name: "Newtonian", PlateSolve: a.Profiles.ActiveProfile().PlateSolve})
	require.NoError(t, a.Profiles.SetActive(other.ID))

	assert.False(t, a.ActiveOptions().Snapshot().SnapshotsEnabled)
	assert.True(t, a.ActiveOptions().Accessor().GetBool(options.KeyHasMigratedProperties, false))
	assert.False(t, a.PluginOptions(other).SnapshotsEnabled)
}

func TestPipelineSolvesSavedLight(t *testing.T) {
	a := newTestApp(t)
	a.Factory.Run = solvedRunner

	path := writeLight(t, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pipe := a.NewPipeline(ctx)
	defer pipe.Stop()
	results, unsub := pipe.Subscribe()
	defer unsub()

	require.NoError(t, pipe.Submit(pipeline.Job{ID: "job-1", Path: path, Source: "test"}))

	var res pipeline.Result
	select {
	case res = <-results:
	case <-time.After(5 * time.Second):
		t.Fatal("no result")
	}
	require.NoError(t, res.Error)
	require.True(t, res.Solved())
	assert.Equal(t, strings.TrimSuffix(path, ".fits")+".wcs", res.Sidecar)

	entries, err := imaging.ReadFITSFile(res.Sidecar)
	require.NoError(t, err)
	var keys []string
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	assert.Contains(t, keys, "CTYPE1")
	assert.Contains(t, keys, "PLTSOLVD1")

	recs, err := a.Store.RecentSolves(10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "solved", recs[0].Outcome)
	assert.Equal(t, "job-1", recs[0].ImageID)
	assert.InDelta(t, 10.6847, recs[0].RA, 1e-6)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.Metrics.Counter(metrics.Solved)))
	assert.Empty(t, a.Status.Current(), "status is reset after the solve")
}

func TestPipelineSkipsDarkFrames(t *testing.T) {
	a := newTestApp(t)
	a.Factory.Run = func(context.Context, string, ...string) ([]byte, error) {
		t.Fatal("solver must not run for darks")
		return nil, nil
	}

	path := filepath.Join(t.TempDir(), "dark.fits")
	require.NoError(t, imaging.CreateFITS(path, 16, 100, 100, []imaging.HeaderEntry{
		{Key: "IMAGETYP", Value: "DARK"},
	}))

	res := pipeline.NewSaveProcessor(a.SaveMediator).Process(context.Background(), pipeline.Job{Path: path})
	require.NoError(t, res.Error)
	assert.False(t, res.Solved())
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Metrics.Counter(metrics.Skipped)))
}
