// Package wcs turns a plate solve result into the FITS World Coordinate
// System keyword set.
package wcs

import (
	"fmt"
	"math"

	"solveeverylight/internal/imaging"
	"solveeverylight/internal/platesolve"
)

// Provenance identifies who wrote the solution.
type Provenance struct {
	PluginName    string
	PluginVersion string
	HostVersion   string
	SolverName    string
}

// Matrix is the CD matrix in degrees per pixel.
type Matrix struct {
	CD11, CD12, CD21, CD22 float64
}

// CDMatrix computes the linear transform for a solution of pixscale
// arcsec/pixel rotated by positionAngle degrees.
func CDMatrix(pixscale, positionAngle float64, flipped bool) Matrix {
	scale := pixscale / 3600
	pa := positionAngle * math.Pi / 180
	flip := 1.0
	if flipped {
		flip = -1
	}
	return Matrix{
		CD11: -flip * scale * math.Cos(pa),
		CD12: -scale * math.Sin(pa),
		CD21: scale * math.Sin(pa),
		CD22: -flip * scale * math.Cos(pa),
	}
}

// Keys lists the WCS keywords in the order Synthesize emits them.
var Keys = []string{
	"CTYPE1", "CTYPE2", "CUNIT1", "CUNIT2",
	"CRVAL1", "CRVAL2", "CRPIX1", "CRPIX2",
	"CD1_1", "CD1_2", "CD2_1", "CD2_2",
	"CDELT1", "CDELT2", "CROTA1", "CROTA2",
	"PLTSOLVD1", "PLTSOLVD2",
}

// Synthesize builds the header entries describing result for image. It does
// no validation: non-finite inputs produce non-finite values.
func Synthesize(image *imaging.Frame, result platesolve.Result, prov Provenance) []imaging.HeaderEntry {
	scale := result.Pixscale / 3600
	cd := CDMatrix(result.Pixscale, result.PositionAngle, result.Flipped)

	solver := prov.SolverName
	if solver == "" {
		solver = string(platesolve.SolverASTAP)
	}

	return []imaging.HeaderEntry{
		imaging.StringHeader("CTYPE1", "RA---TAN", "first parameter RA, projection TAN"),
		imaging.StringHeader("CTYPE2", "DEC--TAN", "second parameter DEC, projection TAN"),
		imaging.StringHeader("CUNIT1", "deg", "Unit of coordinates"),
		imaging.StringHeader("CUNIT2", "deg", "Unit of coordinates"),
		imaging.DoubleHeader("CRVAL1", result.Coordinates.RA, "RA of reference pixel (deg)"),
		imaging.DoubleHeader("CRVAL2", result.Coordinates.Dec, "DEC of reference pixel (deg)"),
		imaging.DoubleHeader("CRPIX1", float64(image.Properties.Width)/2+0.5, "X of reference pixel"),
		imaging.DoubleHeader("CRPIX2", float64(image.Properties.Height)/2+0.5, "Y of reference pixel"),
		imaging.DoubleHeader("CD1_1", cd.CD11, ""),
		imaging.DoubleHeader("CD1_2", cd.CD12, ""),
		imaging.DoubleHeader("CD2_1", cd.CD21, ""),
		imaging.DoubleHeader("CD2_2", cd.CD22, ""),
		imaging.DoubleHeader("CDELT1", math.Abs(scale), "X pixel size (deg)"),
		imaging.DoubleHeader("CDELT2", math.Abs(scale), "Y pixel size (deg)"),
		imaging.DoubleHeader("CROTA1", result.PositionAngle, "Image twist X axis (deg)"),
		imaging.DoubleHeader("CROTA2", result.PositionAngle, "Image twist Y axis (deg)"),
		imaging.StringHeader("PLTSOLVD1", "T", fmt.Sprintf("N.I.N.A. %s Plugin: %s", prov.HostVersion, prov.PluginName)),
		imaging.StringHeader("PLTSOLVD2", "T", fmt.Sprintf("Plugin Version: %s using %s", prov.PluginVersion, solver)),
	}
}

// Apply appends the synthesized entries to image and returns them. Calling it
// twice appends a second copy.
func Apply(image *imaging.Frame, result platesolve.Result, prov Provenance) []imaging.HeaderEntry {
	entries := Synthesize(image, result, prov)
	image.AddHeader(entries...)
	return entries
}
