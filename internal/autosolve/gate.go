// Package autosolve plate solves images as they are saved and writes the
// solution into their headers.
package autosolve

import (
	"strings"

	"solveeverylight/internal/imaging"
)

// Frame type tags the gate recognises.
const (
	ImageTypeLight    = "LIGHT"
	ImageTypeSnapshot = "SNAPSHOT"
)

// ShouldSolve decides whether an image qualifies for solving.
func ShouldSolve(pluginEnabled bool, format imaging.FileFormat, imageType string, snapshotsEnabled bool) bool {
	ok, _ := Evaluate(pluginEnabled, format, imageType, snapshotsEnabled)
	return ok
}

// Evaluate is ShouldSolve with the reason for a rejection.
func Evaluate(pluginEnabled bool, format imaging.FileFormat, imageType string, snapshotsEnabled bool) (bool, string) {
	if !pluginEnabled {
		return false, "plugin disabled"
	}
	// only FITS and XISF have a header slot for WCS
	if format != imaging.FormatFITS && format != imaging.FormatXISF {
		return false, "unsupported file format " + string(format)
	}
	isLight := strings.EqualFold(imageType, ImageTypeLight)
	isSnapshot := strings.EqualFold(imageType, ImageTypeSnapshot)
	switch {
	case isLight:
		return true, ""
	case isSnapshot && snapshotsEnabled:
		return true, ""
	case isSnapshot:
		return false, "snapshots disabled"
	default:
		return false, "image type " + imageType
	}
}
