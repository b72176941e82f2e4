package platesolve

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"solveeverylight/internal/astro"
	"solveeverylight/internal/imaging"
)

var (
	// ErrSolverUnavailable means the configured solver cannot be constructed.
	ErrSolverUnavailable = errors.New("plate solver unavailable")
	// ErrNoSolution means the solver ran but found no solution.
	ErrNoSolution = errors.New("no plate solution")
)

// SolverType names a plate solving backend.
type SolverType string

const (
	SolverASTAP         SolverType = "ASTAP"
	SolverASPS          SolverType = "ASPS"
	SolverAstrometryNet SolverType = "ASTROMETRY_NET"
	SolverPlateSolve2   SolverType = "PLATESOLVE2"
	SolverPlateSolve3   SolverType = "PLATESOLVE3"
	SolverPinPoint      SolverType = "PINPOINT"
	SolverTheSkyX       SolverType = "THESKYX"
)

// ParseSolverType accepts a solver name case-insensitively.
func ParseSolverType(s string) (SolverType, error) {
	t := SolverType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case SolverASTAP, SolverASPS, SolverAstrometryNet, SolverPlateSolve2, SolverPlateSolve3, SolverPinPoint, SolverTheSkyX:
		return t, nil
	case "ALLSKYPLATESOLVER", "ALL_SKY_PLATE_SOLVER":
		return SolverASPS, nil
	}
	return "", fmt.Errorf("unknown solver type %q", s)
}

// ProfileSettings are the plate solve settings of the active profile.
// FocalLength comes from the profile's telescope settings; NaN means unset.
type ProfileSettings struct {
	SolverType       SolverType `json:"solver_type" mapstructure:"solver_type"`
	DownSampleFactor int        `json:"down_sample_factor" mapstructure:"down_sample_factor"`
	MaxObjects       int        `json:"max_objects" mapstructure:"max_objects"`
	SearchRadius     float64    `json:"search_radius" mapstructure:"search_radius"`
	Regions          int        `json:"regions" mapstructure:"regions"`
	FocalLength      float64    `json:"focal_length" mapstructure:"focal_length"`
}

// Request is the parameter set for one solve attempt. It is built per event
// and passed by value.
type Request struct {
	Binning              int               `json:"binning"`
	Coordinates          astro.Coordinates `json:"coordinates"`
	FocalLength          float64           `json:"focal_length"`
	PixelSize            float64           `json:"pixel_size"`
	DownSampleFactor     int               `json:"down_sample_factor"`
	MaxObjects           int               `json:"max_objects"`
	SearchRadius         float64           `json:"search_radius"`
	Regions              int               `json:"regions"`
	DisableNotifications bool              `json:"disable_notifications"`
	BlindFailoverEnabled bool              `json:"blind_failover_enabled"`
}

// Blind reports whether the request asks for a full sky search.
func (r Request) Blind() bool {
	return r.SearchRadius >= 180
}

// ArcsecPerPixel is the expected image scale from optics and binning.
func (r Request) ArcsecPerPixel() float64 {
	if r.FocalLength <= 0 {
		return math.NaN()
	}
	bin := r.Binning
	if bin < 1 {
		bin = 1
	}
	return r.PixelSize * float64(bin) / r.FocalLength * 206.265
}

// Result is what a solver returns for one attempt.
type Result struct {
	Success       bool              `json:"success"`
	Pixscale      float64           `json:"pixscale"`       // arcsec/pixel
	PositionAngle float64           `json:"position_angle"` // degrees
	Flipped       bool              `json:"flipped"`
	Coordinates   astro.Coordinates `json:"coordinates"`
	Radius        float64           `json:"radius"` // degrees
}

// Progress receives free-form progress messages while a solve runs.
type Progress func(message string)

// Solver runs one plate solve.
type Solver interface {
	Name() string
	Solve(ctx context.Context, image *imaging.Frame, req Request, progress Progress) (Result, error)
}

// Factory resolves a Solver for the active profile.
type Factory interface {
	Solver(settings ProfileSettings) (Solver, error)
}
