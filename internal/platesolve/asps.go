package platesolve

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"solveeverylight/internal/astro"
	"solveeverylight/internal/imaging"
)

// ASPS drives All Sky Plate Solver through its PlateSolve2 compatible
// command line. The solution is written to <image>.apm.
type ASPS struct {
	Path string
	Run  Runner
}

// NewASPS returns an ASPS solver using the executable at path.
func NewASPS(path string) *ASPS {
	if path == "" {
		path = DefaultASPSPath()
	}
	return &ASPS{Path: path, Run: execRunner}
}

func (a *ASPS) Name() string { return string(SolverASPS) }

// Args renders the single comma separated PlateSolve2 argument:
// ra,dec,fovW,fovH (radians),regions,path,wait.
func (a *ASPS) Args(image *imaging.Frame, req Request) []string {
	scale := req.ArcsecPerPixel()
	fovW, fovH := 0.0, 0.0
	if astro.IsFinite(scale) {
		fovW = deg2rad(scale * float64(image.Properties.Width) / 3600)
		fovH = deg2rad(scale * float64(image.Properties.Height) / 3600)
	}
	regions := req.Regions
	if regions <= 0 {
		regions = 5000
	}
	parts := []string{
		fmtRad(deg2rad(req.Coordinates.RA)),
		fmtRad(deg2rad(req.Coordinates.Dec)),
		fmtRad(fovW),
		fmtRad(fovH),
		strconv.Itoa(regions),
		image.Path,
		"0",
	}
	return []string{strings.Join(parts, ",")}
}

func (a *ASPS) Solve(ctx context.Context, image *imaging.Frame, req Request, progress Progress) (Result, error) {
	if image == nil || image.Path == "" {
		return Result{}, errors.New("asps: image has no backing file")
	}
	run := a.Run
	if run == nil {
		run = execRunner
	}
	apm := strings.TrimSuffix(image.Path, filepath.Ext(image.Path)) + ".apm"
	defer os.Remove(apm)

	if progress != nil {
		progress("Solving with All Sky Plate Solver")
	}
	out, runErr := run(ctx, a.Path, a.Args(image, req)...)

	res, err := ParseAPM(apm)
	if err != nil {
		if runErr != nil {
			return Result{}, fmt.Errorf("asps: %w: %s", runErr, strings.TrimSpace(string(out)))
		}
		return Result{}, fmt.Errorf("asps: %w", err)
	}
	return res, nil
}

// ParseAPM reads a PlateSolve2 style .apm file:
//
//	ra(rad),dec(rad),code
//	scale(arcsec/px),angle(deg),flip(-1 when mirrored),...
//	Valid plate solution
func ParseAPM(path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, err
	}
	lines := strings.Split(strings.TrimSpace(strings.ReplaceAll(string(data), "\r\n", "\n")), "\n")
	if len(lines) < 3 {
		return Result{}, fmt.Errorf("apm: expected 3 lines, got %d", len(lines))
	}
	if !strings.EqualFold(strings.TrimSpace(lines[2]), "Valid plate solution") {
		return Result{Success: false}, nil
	}

	pos, err := parseFloats(lines[0], 2)
	if err != nil {
		return Result{}, fmt.Errorf("apm position: %w", err)
	}
	geo, err := parseFloats(lines[1], 3)
	if err != nil {
		return Result{}, fmt.Errorf("apm geometry: %w", err)
	}
	return Result{
		Success:       true,
		Coordinates:   astro.NewCoordinates(astro.WrapRA(rad2deg(pos[0])), rad2deg(pos[1]), astro.J2000),
		Pixscale:      geo[0],
		PositionAngle: astro.WrapRA(geo[1]),
		Flipped:       geo[2] < 0,
	}, nil
}

func parseFloats(line string, n int) ([]float64, error) {
	fields := strings.Split(line, ",")
	if len(fields) < n {
		return nil, fmt.Errorf("expected %d fields in %q", n, line)
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }
func rad2deg(r float64) float64 { return r * 180 / math.Pi }

func fmtRad(v float64) string { return strconv.FormatFloat(v, 'f', 8, 64) }
