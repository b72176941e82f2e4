package platesolve

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/ini.v1"

	"solveeverylight/internal/astro"
	"solveeverylight/internal/imaging"
)

// Runner executes an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// ASTAP drives the ASTAP command line solver. ASTAP writes its solution to
// <output>.ini next to a <output>.wcs header.
type ASTAP struct {
	Path      string
	ExtraArgs []string
	TempDir   string
	Run       Runner
}

// NewASTAP returns an ASTAP solver using the executable at path.
func NewASTAP(path string, extraArgs []string) *ASTAP {
	if path == "" {
		path = DefaultASTAPPath()
	}
	return &ASTAP{Path: path, ExtraArgs: extraArgs, TempDir: os.TempDir(), Run: execRunner}
}

func (a *ASTAP) Name() string { return string(SolverASTAP) }

// Args builds the ASTAP command line for req. outBase has no extension.
func (a *ASTAP) Args(image *imaging.Frame, req Request, outBase string) []string {
	args := []string{"-f", image.Path}

	fov := "0"
	if scale := req.ArcsecPerPixel(); astro.IsFinite(scale) && image.Properties.Height > 0 {
		fov = strconv.FormatFloat(scale*float64(image.Properties.Height)/3600, 'f', 4, 64)
	}
	args = append(args, "-fov", fov)

	if req.DownSampleFactor > 0 {
		args = append(args, "-z", strconv.Itoa(req.DownSampleFactor))
	}
	if req.MaxObjects > 0 {
		args = append(args, "-s", strconv.Itoa(req.MaxObjects))
	}
	args = append(args, "-r", strconv.FormatFloat(req.SearchRadius, 'f', 2, 64))
	if !req.Blind() {
		args = append(args,
			"-ra", strconv.FormatFloat(req.Coordinates.RAHours(), 'f', 6, 64),
			"-spd", strconv.FormatFloat(req.Coordinates.Dec+90, 'f', 6, 64),
		)
	}
	args = append(args, "-o", outBase)
	return append(args, a.ExtraArgs...)
}

func (a *ASTAP) Solve(ctx context.Context, image *imaging.Frame, req Request, progress Progress) (Result, error) {
	if image == nil || image.Path == "" {
		return Result{}, errors.New("astap: image has no backing file")
	}
	run := a.Run
	if run == nil {
		run = execRunner
	}
	tmp := a.TempDir
	if tmp == "" {
		tmp = os.TempDir()
	}
	outBase := filepath.Join(tmp, "sel-astap-"+uuid.NewString())
	defer os.Remove(outBase + ".ini")
	defer os.Remove(outBase + ".wcs")

	if progress != nil {
		progress("Solving with ASTAP")
	}
	out, runErr := run(ctx, a.Path, a.Args(image, req, outBase)...)

	res, err := ParseASTAPResult(outBase + ".ini")
	if err != nil {
		if runErr != nil {
			return Result{}, fmt.Errorf("astap: %w: %s", runErr, strings.TrimSpace(string(out)))
		}
		return Result{}, fmt.Errorf("astap: %w", err)
	}
	// ASTAP exits non-zero when no solution is found; the ini still says so.
	return res, nil
}

// ParseASTAPResult reads an ASTAP .ini solution file.
func ParseASTAPResult(path string) (Result, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return Result{}, err
	}
	sec := cfg.Section("")
	if !sec.HasKey("PLTSOLVD") {
		return Result{}, errors.New("solution file has no PLTSOLVD key")
	}
	if !strings.EqualFold(strings.TrimSpace(sec.Key("PLTSOLVD").String()), "T") {
		return Result{Success: false}, nil
	}

	f := func(key string) float64 {
		v, err := sec.Key(key).Float64()
		if err != nil {
			return math.NaN()
		}
		return v
	}

	res := Result{
		Success:     true,
		Coordinates: astro.NewCoordinates(f("CRVAL1"), f("CRVAL2"), astro.J2000),
	}

	cd11, cd12, cd21, cd22 := f("CD1_1"), f("CD1_2"), f("CD2_1"), f("CD2_2")
	det := cd11*cd22 - cd12*cd21
	if astro.IsFinite(det) && det != 0 {
		res.Pixscale = math.Sqrt(math.Abs(det)) * 3600
		// unmirrored sky images have a negative determinant
		res.Flipped = det > 0
	} else {
		res.Pixscale = math.Abs(f("CDELT2")) * 3600
	}
	res.PositionAngle = astro.WrapRA(f("CROTA2"))
	return res, nil
}
