package autosolve

import (
	"solveeverylight/internal/astro"
	"solveeverylight/internal/imaging"
	"solveeverylight/internal/options"
	"solveeverylight/internal/platesolve"
)

const (
	// DefaultFocalLength is used when the profile has no usable focal length.
	DefaultFocalLength = 500.0
	// BlindSearchRadius requests a full sky search.
	BlindSearchRadius = 180.0
)

// BuildRequest resolves the parameters for one solve. It never fails: every
// field falls back to a usable value.
func BuildRequest(image *imaging.Frame, profile platesolve.ProfileSettings, opts options.PluginOptions) platesolve.Request {
	downSample := profile.DownSampleFactor
	maxObjects := profile.MaxObjects
	radius := profile.SearchRadius
	if opts.OptimizedSolverParameterEnabled {
		downSample = opts.DownSampleFactor
		radius = opts.SearchRadius
		maxObjects = opts.MaxObjects
	}

	binning := image.Camera.BinX
	if binning < 1 {
		binning = 1
	}

	telescope := image.Telescope.Coordinates
	target := image.Target.Coordinates

	// each axis falls back on its own
	ra := astro.FiniteOr(0, astro.RAOf(telescope), astro.RAOf(target))
	dec := astro.FiniteOr(0, astro.DecOf(telescope), astro.DecOf(target))

	focalLength := DefaultFocalLength
	if astro.IsFinite(profile.FocalLength) {
		focalLength = profile.FocalLength
	}

	epoch := astro.J2000
	if telescope != nil {
		epoch = telescope.Epoch
	}

	// 0/0 means no coordinate source was usable
	if ra == 0 && dec == 0 {
		radius = BlindSearchRadius
	}

	return platesolve.Request{
		Binning:              binning,
		Coordinates:          astro.NewCoordinates(ra, dec, epoch),
		FocalLength:          focalLength,
		PixelSize:            image.Camera.PixelSize,
		DownSampleFactor:     downSample,
		MaxObjects:           maxObjects,
		SearchRadius:         radius,
		Regions:              profile.Regions,
		DisableNotifications: !opts.NotificationsEnabled,
		BlindFailoverEnabled: false,
	}
}
