package autosolve

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solveeverylight/internal/astro"
	"solveeverylight/internal/imaging"
	"solveeverylight/internal/logging"
	"solveeverylight/internal/mediator"
	"solveeverylight/internal/options"
	"solveeverylight/internal/platesolve"
	"solveeverylight/internal/profile"
	"solveeverylight/internal/storage"
	"solveeverylight/internal/wcs"
)

type stubSolver struct {
	calls  int
	result platesolve.Result
	err    error
	panic  any
	req    platesolve.Request
}

func (s *stubSolver) Name() string { return "ASTAP" }

func (s *stubSolver) Solve(ctx context.Context, image *imaging.Frame, req platesolve.Request, progress platesolve.Progress) (platesolve.Result, error) {
	s.calls++
	s.req = req
	if progress != nil {
		progress("solving")
	}
	if s.panic != nil {
		panic(s.panic)
	}
	return s.result, s.err
}

type stubFactory struct {
	solver *stubSolver
	calls  int
	err    error
}

func (f *stubFactory) Solver(platesolve.ProfileSettings) (platesolve.Solver, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.solver, nil
}

type recordingNotifier struct {
	warnings []string
	errors   []string
}

func (n *recordingNotifier) ShowWarning(text string) { n.warnings = append(n.warnings, text) }
func (n *recordingNotifier) ShowError(text string)   { n.errors = append(n.errors, text) }

type staticProfiles struct{ p profile.Profile }

func (s staticProfiles) ActiveProfile() profile.Profile { return s.p }

type memHistory struct{ recs []storage.SolveRecord }

func (m *memHistory) RecordSolve(rec storage.SolveRecord) error {
	m.recs = append(m.recs, rec)
	return nil
}

type fixture struct {
	handler  *Handler
	solver   *stubSolver
	factory  *stubFactory
	notifier *recordingNotifier
	statuses []mediator.ApplicationStatus
	history  *memHistory
	profile  profile.Profile
	opts     options.PluginOptions
	logs     *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		solver:   &stubSolver{result: solvedResult()},
		notifier: &recordingNotifier{},
		history:  &memHistory{},
		logs:     &bytes.Buffer{},
		opts:     options.DefaultPluginOptions(),
		profile: profile.Profile{
			ID:                uuid.New(),
			Name:              "Test",
			ImageFileSettings: profile.ImageFileSettings{FileType: imaging.FormatFITS},
			PlateSolve: platesolve.ProfileSettings{
				SolverType:       platesolve.SolverASTAP,
				DownSampleFactor: 2,
				MaxObjects:       100,
				SearchRadius:     2.0,
				Regions:          5000,
				FocalLength:      990,
			},
		},
	}
	f.factory = &stubFactory{solver: f.solver}
	f.rebuild()
	return f
}

func (f *fixture) rebuild() {
	f.handler = New(Deps{
		Profiles: staticProfiles{f.profile},
		Options:  OptionsFunc(func(profile.Profile) options.PluginOptions { return f.opts }),
		Factory:  f.factory,
		Status:   mediator.StatusFunc(func(s mediator.ApplicationStatus) { f.statuses = append(f.statuses, s) }),
		Notifier: f.notifier,
		History:  f.history,
		Logger:   slog.New(logging.NewTraditionalHandler(f.logs, "debug")),
		Provenance: wcs.Provenance{
			PluginName:    "Solve Every Light",
			PluginVersion: "1.0.0",
			HostVersion:   "3.1",
		},
	})
}

func solvedResult() platesolve.Result {
	return platesolve.Result{
		Success:       true,
		Pixscale:      1.0,
		PositionAngle: 0,
		Flipped:       false,
		Coordinates:   astro.NewCoordinates(10, 10, astro.J2000),
	}
}

func lightFrame() *imaging.Frame {
	c := astro.NewCoordinates(10, 10, astro.J2000)
	return &imaging.Frame{
		ID:         "1",
		ImageType:  "LIGHT",
		FileFormat: imaging.FormatFITS,
		Camera:     imaging.Camera{PixelSize: 3.76, BinX: 1, BinY: 1},
		Telescope:  imaging.Telescope{Coordinates: &c},
		Properties: imaging.Properties{Width: 9576, Height: 6388},
	}
}

func event(img *imaging.Frame) mediator.BeforeImageSavedEvent {
	return mediator.BeforeImageSavedEvent{Image: img}
}

func TestShouldSolve(t *testing.T) {
	cases := []struct {
		enabled   bool
		format    imaging.FileFormat
		imageType string
		snapshots bool
		want      bool
	}{
		{true, imaging.FormatFITS, "LIGHT", false, true},
		{true, imaging.FormatFITS, "light", false, true},
		{true, imaging.FormatXISF, "LIGHT", false, true},
		{true, imaging.FormatFITS, "SNAPSHOT", false, false},
		{true, imaging.FormatFITS, "SNAPSHOT", true, true},
		{true, imaging.FormatXISF, "snapshot", true, true},
		{true, imaging.FormatFITS, "DARK", true, false},
		{true, imaging.FormatFITS, "FLAT", false, false},
		{true, imaging.FormatFITS, "", true, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ShouldSolve(tc.enabled, tc.format, tc.imageType, tc.snapshots), "%+v", tc)
	}
}

func TestShouldSolveRejectsWhenDisabled(t *testing.T) {
	formats := []imaging.FileFormat{imaging.FormatFITS, imaging.FormatXISF, imaging.FormatTIFF, imaging.FormatRAW, imaging.FormatUnknown}
	for _, format := range formats {
		for _, typ := range []string{"LIGHT", "SNAPSHOT", "DARK"} {
			for _, snaps := range []bool{true, false} {
				assert.False(t, ShouldSolve(false, format, typ, snaps))
			}
		}
	}
}

func TestShouldSolveRejectsOtherFormats(t *testing.T) {
	formats := []imaging.FileFormat{imaging.FormatTIFF, imaging.FormatRAW, imaging.FormatPNG, imaging.FormatJPEG, imaging.FormatUnknown}
	for _, format := range formats {
		for _, typ := range []string{"LIGHT", "SNAPSHOT"} {
			assert.False(t, ShouldSolve(true, format, typ, true), format)
		}
	}
}

func TestEvaluateReasons(t *testing.T) {
	_, reason := Evaluate(false, imaging.FormatFITS, "LIGHT", false)
	assert.Equal(t, "plugin disabled", reason)
	_, reason = Evaluate(true, imaging.FormatFITS, "SNAPSHOT", false)
	assert.Equal(t, "snapshots disabled", reason)
}

func TestBuildRequestProfileValues(t *testing.T) {
	f := newFixture(t)
	opts := f.opts
	opts.OptimizedSolverParameterEnabled = false
	opts.NotificationsEnabled = false

	req := BuildRequest(lightFrame(), f.profile.PlateSolve, opts)
	assert.Equal(t, 2, req.DownSampleFactor)
	assert.Equal(t, 100, req.MaxObjects)
	assert.Equal(t, 2.0, req.SearchRadius)
	assert.Equal(t, 5000, req.Regions)
	assert.Equal(t, 990.0, req.FocalLength)
	assert.Equal(t, 3.76, req.PixelSize)
	assert.Equal(t, 1, req.Binning)
	assert.Equal(t, 10.0, req.Coordinates.RA)
	assert.Equal(t, 10.0, req.Coordinates.Dec)
	assert.True(t, req.DisableNotifications)
	assert.False(t, req.BlindFailoverEnabled)
}

func TestBuildRequestOptimizedOverride(t *testing.T) {
	f := newFixture(t)
	opts := f.opts
	opts.OptimizedSolverParameterEnabled = true
	opts.DownSampleFactor = 4
	opts.SearchRadius = 7
	opts.MaxObjects = 250

	req := BuildRequest(lightFrame(), f.profile.PlateSolve, opts)
	assert.Equal(t, 4, req.DownSampleFactor)
	assert.Equal(t, 7.0, req.SearchRadius)
	assert.Equal(t, 250, req.MaxObjects)
	assert.False(t, req.DisableNotifications)
}

func TestBuildRequestCoordinateFallback(t *testing.T) {
	settings := platesolve.ProfileSettings{SearchRadius: 5, FocalLength: 400}

	img := lightFrame()
	img.Telescope.Coordinates = &astro.Coordinates{RA: math.NaN(), Dec: 12, Epoch: astro.JNOW}
	img.Target.Coordinates = &astro.Coordinates{RA: 25, Dec: 30}
	req := BuildRequest(img, settings, options.PluginOptions{})
	assert.Equal(t, 25.0, req.Coordinates.RA)
	assert.Equal(t, 12.0, req.Coordinates.Dec, "dec falls back independently")
	assert.Equal(t, astro.JNOW, req.Coordinates.Epoch)
	assert.Equal(t, 5.0, req.SearchRadius)

	img.Telescope.Coordinates = &astro.Coordinates{RA: math.Inf(1), Dec: math.NaN()}
	img.Target.Coordinates = nil
	req = BuildRequest(img, settings, options.PluginOptions{})
	assert.Equal(t, 0.0, req.Coordinates.RA)
	assert.Equal(t, 0.0, req.Coordinates.Dec)
	assert.Equal(t, BlindSearchRadius, req.SearchRadius)

	img.Telescope.Coordinates = nil
	req = BuildRequest(img, settings, options.PluginOptions{})
	assert.Equal(t, astro.J2000, req.Coordinates.Epoch)
	assert.Equal(t, BlindSearchRadius, req.SearchRadius)
}

func TestBuildRequestBlindOverridesOptimized(t *testing.T) {
	img := lightFrame()
	img.Telescope.Coordinates = nil
	opts := options.PluginOptions{OptimizedSolverParameterEnabled: true, SearchRadius: 3}
	req := BuildRequest(img, platesolve.ProfileSettings{}, opts)
	assert.Equal(t, BlindSearchRadius, req.SearchRadius)
}

func TestBuildRequestFocalLengthFallback(t *testing.T) {
	img := lightFrame()
	img.Camera.BinX = 0
	for _, fl := range []float64{math.NaN(), math.Inf(-1)} {
		req := BuildRequest(img, platesolve.ProfileSettings{FocalLength: fl}, options.PluginOptions{})
		assert.Equal(t, DefaultFocalLength, req.FocalLength)
		assert.Equal(t, 1, req.Binning)
	}
}

func TestHandleSolvesLightFrame(t *testing.T) {
	f := newFixture(t)
	img := lightFrame()

	outcome := f.handler.HandleBeforeImageSaved(context.Background(), event(img))
	require.Equal(t, OutcomeSolved, outcome)
	assert.Equal(t, 1, f.solver.calls)

	ctype := img.HeadersByKey("CTYPE1")
	require.Len(t, ctype, 1)
	v, _ := ctype[0].Text()
	assert.Equal(t, "RA---TAN", v)

	require.Len(t, f.statuses, 2)
	assert.Equal(t, mediator.ApplicationStatus{Source: "Plugin Solve Every Light", Status: StatusSolving}, f.statuses[0])
	assert.Equal(t, "", f.statuses[1].Status)

	require.Len(t, f.history.recs, 1)
	assert.Equal(t, "solved", f.history.recs[0].Outcome)
	assert.Equal(t, "ASTAP", f.history.recs[0].Solver)
	assert.Contains(t, f.logs.String(), "Plate solved LIGHT 1 and stored solution in header.")
	assert.Empty(t, f.notifier.errors)
}

func TestHandleUsesPluginOverridesInRequest(t *testing.T) {
	f := newFixture(t)
	f.handler.HandleBeforeImageSaved(context.Background(), event(lightFrame()))
	assert.Equal(t, 10.0, f.solver.req.SearchRadius)
	assert.Equal(t, 500, f.solver.req.MaxObjects)
}

func TestHandleSecondSaveDuplicatesHeaders(t *testing.T) {
	f := newFixture(t)
	img := lightFrame()
	f.handler.HandleBeforeImageSaved(context.Background(), event(img))
	f.handler.HandleBeforeImageSaved(context.Background(), event(img))
	assert.Len(t, img.HeadersByKey("CTYPE1"), 2)
	assert.Len(t, img.Headers(), 2*len(wcs.Keys))
}

func TestHandleSkipsIneligible(t *testing.T) {
	f := newFixture(t)

	f.opts.PluginEnabled = false
	assert.Equal(t, OutcomeSkipped, f.handler.HandleBeforeImageSaved(context.Background(), event(lightFrame())))

	f.opts.PluginEnabled = true
	snap := lightFrame()
	snap.ImageType = "SNAPSHOT"
	assert.Equal(t, OutcomeSkipped, f.handler.HandleBeforeImageSaved(context.Background(), event(snap)))

	tiff := lightFrame()
	tiff.FileFormat = imaging.FormatTIFF
	assert.Equal(t, OutcomeSkipped, f.handler.HandleBeforeImageSaved(context.Background(), event(tiff)))

	assert.Equal(t, OutcomeSkipped, f.handler.HandleBeforeImageSaved(context.Background(), event(nil)))

	assert.Zero(t, f.solver.calls)
	assert.Zero(t, f.factory.calls)
	assert.Empty(t, f.statuses)
	assert.Empty(t, f.history.recs)
	assert.Empty(t, f.logs.String())
}

func TestHandleFallsBackToProfileFileType(t *testing.T) {
	f := newFixture(t)
	img := lightFrame()
	img.FileFormat = imaging.FormatUnknown
	assert.Equal(t, OutcomeSolved, f.handler.HandleBeforeImageSaved(context.Background(), event(img)))

	f.profile.ImageFileSettings.FileType = imaging.FormatTIFF
	f.rebuild()
	img = lightFrame()
	img.FileFormat = imaging.FormatUnknown
	assert.Equal(t, OutcomeSkipped, f.handler.HandleBeforeImageSaved(context.Background(), event(img)))
}

func TestHandleSnapshotWhenEnabled(t *testing.T) {
	f := newFixture(t)
	f.opts.SnapshotsEnabled = true
	snap := lightFrame()
	snap.ImageType = "snapshot"
	assert.Equal(t, OutcomeSolved, f.handler.HandleBeforeImageSaved(context.Background(), event(snap)))
}

func TestHandleUnsupportedSolver(t *testing.T) {
	f := newFixture(t)
	f.profile.PlateSolve.SolverType = platesolve.SolverPinPoint
	f.rebuild()

	outcome := f.handler.HandleBeforeImageSaved(context.Background(), event(lightFrame()))
	assert.Equal(t, OutcomeConfigError, outcome)
	assert.Equal(t, []string{UnsupportedSolverWarning}, f.notifier.warnings)
	assert.Zero(t, f.solver.calls)
	assert.Zero(t, f.factory.calls)
	assert.Empty(t, f.statuses)
}

func TestHandleNoSolutionSolvesOnce(t *testing.T) {
	f := newFixture(t)
	f.solver.result = platesolve.Result{Success: false}
	img := lightFrame()

	outcome := f.handler.HandleBeforeImageSaved(context.Background(), event(img))
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, 1, f.solver.calls)
	assert.Empty(t, img.Headers())
	assert.Empty(t, f.notifier.errors)
	assert.Contains(t, f.logs.String(), "Plate solving of LIGHT 1 failed")
	require.Len(t, f.statuses, 2)
	assert.Equal(t, "", f.statuses[1].Status)
	require.Len(t, f.history.recs, 1)
	assert.Equal(t, "failed", f.history.recs[0].Outcome)
}

func TestHandleSolverErrorSolvesOnce(t *testing.T) {
	f := newFixture(t)
	f.solver.err = errors.New("astap crashed")
	img := lightFrame()

	outcome := f.handler.HandleBeforeImageSaved(context.Background(), event(img))
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, 1, f.solver.calls)
	assert.Empty(t, img.Headers())
	assert.Equal(t, []string{"Could not solve image. Error message: astap crashed"}, f.notifier.errors)
	require.Len(t, f.statuses, 2)
	assert.Equal(t, "", f.statuses[1].Status)
}

func TestHandleSolverPanicIsContained(t *testing.T) {
	f := newFixture(t)
	f.solver.panic = "index out of range"

	var outcome Outcome
	require.NotPanics(t, func() {
		outcome = f.handler.HandleBeforeImageSaved(context.Background(), event(lightFrame()))
	})
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, 1, f.solver.calls)
	require.Len(t, f.notifier.errors, 1)
	assert.Contains(t, f.notifier.errors[0], "index out of range")
	require.Len(t, f.statuses, 2)
	assert.Equal(t, "", f.statuses[1].Status)
}

func TestHandleFactoryError(t *testing.T) {
	f := newFixture(t)
	f.factory.err = platesolve.ErrSolverUnavailable
	outcome := f.handler.HandleBeforeImageSaved(context.Background(), event(lightFrame()))
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Zero(t, f.solver.calls)
	assert.Len(t, f.notifier.errors, 1)
	assert.Empty(t, f.statuses)
}

func TestAttachAndClose(t *testing.T) {
	f := newFixture(t)
	m := mediator.NewImageSaveMediator()

	f.handler.Attach(m)
	f.handler.Attach(m)
	assert.Equal(t, 1, m.Subscribers())

	img := lightFrame()
	m.BeforeImageSaved(context.Background(), event(img))
	assert.Len(t, img.HeadersByKey("CRVAL1"), 1)

	require.NoError(t, f.handler.Close())
	require.NoError(t, f.handler.Close())
	assert.Zero(t, m.Subscribers())

	m.BeforeImageSaved(context.Background(), event(lightFrame()))
	assert.Equal(t, 1, f.solver.calls)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "config_error", OutcomeConfigError.String())
	assert.Equal(t, "Outcome(9)", Outcome(9).String())
}
