package imaging

import (
	"fmt"
	"path/filepath"
	"strings"

	"solveeverylight/internal/astro"
)

// FileFormat is the on-disk format an image is saved as.
type FileFormat string

const (
	FormatUnknown FileFormat = ""
	FormatFITS    FileFormat = "FITS"
	FormatXISF    FileFormat = "XISF"
	FormatRAW     FileFormat = "RAW"
	FormatTIFF    FileFormat = "TIFF"
	FormatPNG     FileFormat = "PNG"
	FormatJPEG    FileFormat = "JPEG"
)

// ParseFileFormat accepts a format name case-insensitively.
func ParseFileFormat(s string) (FileFormat, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FITS", "FIT", "FTS":
		return FormatFITS, nil
	case "XISF":
		return FormatXISF, nil
	case "RAW":
		return FormatRAW, nil
	case "TIFF", "TIF":
		return FormatTIFF, nil
	case "PNG":
		return FormatPNG, nil
	case "JPEG", "JPG":
		return FormatJPEG, nil
	default:
		return FormatUnknown, fmt.Errorf("unknown file format %q", s)
	}
}

// FormatFromPath guesses the format from a file extension.
func FormatFromPath(path string) FileFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fits", ".fit", ".fts":
		return FormatFITS
	case ".xisf":
		return FormatXISF
	case ".tif", ".tiff":
		return FormatTIFF
	case ".png":
		return FormatPNG
	case ".jpg", ".jpeg":
		return FormatJPEG
	case ".cr2", ".cr3", ".nef", ".arw", ".dng", ".raf", ".orf", ".rw2":
		return FormatRAW
	default:
		return FormatUnknown
	}
}

// Camera describes the sensor settings an image was taken with.
type Camera struct {
	PixelSize float64 `json:"pixel_size"` // microns
	BinX      int     `json:"bin_x"`
	BinY      int     `json:"bin_y"`
}

// Telescope carries the mount position and optics at exposure time.
type Telescope struct {
	Coordinates *astro.Coordinates `json:"coordinates,omitempty"`
	FocalLength *float64           `json:"focal_length,omitempty"` // mm
}

// Target is the sequencer target the image belongs to, if any.
type Target struct {
	Name        string             `json:"name,omitempty"`
	Coordinates *astro.Coordinates `json:"coordinates,omitempty"`
}

// Properties are the pixel geometry of the image.
type Properties struct {
	Width    int `json:"width"`
	Height   int `json:"height"`
	BitDepth int `json:"bit_depth"`
}

// Frame is an image about to be saved. The caller owns it; solving only
// ever appends to Headers.
type Frame struct {
	ID         string     `json:"id"`
	Path       string     `json:"path,omitempty"`
	ImageType  string     `json:"image_type"`
	FileFormat FileFormat `json:"file_format"`
	Camera     Camera     `json:"camera"`
	Telescope  Telescope  `json:"telescope"`
	Target     Target     `json:"target"`
	Properties Properties `json:"properties"`

	headers []HeaderEntry
}

// Headers returns a copy of the generic header list in insertion order.
func (f *Frame) Headers() []HeaderEntry {
	out := make([]HeaderEntry, len(f.headers))
	copy(out, f.headers)
	return out
}

// AddHeader appends entries. Existing entries are never replaced or reordered.
func (f *Frame) AddHeader(entries ...HeaderEntry) {
	f.headers = append(f.headers, entries...)
}

// HeadersByKey returns every entry with the given key, oldest first.
func (f *Frame) HeadersByKey(key string) []HeaderEntry {
	var out []HeaderEntry
	for _, h := range f.headers {
		if h.Key == key {
			out = append(out, h)
		}
	}
	return out
}
