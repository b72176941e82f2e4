package imaging

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"solveeverylight/internal/astro"
)

// Loader builds Frames from image files on disk.
type Loader struct {
	Probe ProbeFunc
}

// NewLoader returns a Loader that falls back to ImageMagick for geometry.
func NewLoader() *Loader {
	return &Loader{Probe: MagickProbe}
}

// Load reads the header of a FITS or XISF file into a Frame. Other formats
// get a Frame with only geometry and format filled in.
func (l *Loader) Load(path string) (*Frame, error) {
	format := FormatFromPath(path)

	var (
		entries []HeaderEntry
		props   Properties
		err     error
	)
	switch format {
	case FormatFITS:
		entries, err = ReadFITSFile(path)
	case FormatXISF:
		entries, props, err = ReadXISFFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s header: %w", format, err)
	}

	frame := FrameFromHeaders(entries, props)
	frame.Path = path
	frame.FileFormat = format

	if (frame.Properties.Width == 0 || frame.Properties.Height == 0) && l.Probe != nil {
		w, h, err := l.Probe(path)
		if err != nil {
			return nil, err
		}
		frame.Properties.Width, frame.Properties.Height = w, h
	}
	return frame, nil
}

// FrameFromHeaders maps the common acquisition keywords (N.I.N.A., SGP and
// MaxIm conventions) onto a Frame.
func FrameFromHeaders(entries []HeaderEntry, props Properties) *Frame {
	kw := make(map[string]HeaderEntry, len(entries))
	for _, e := range entries {
		kw[strings.ToUpper(e.Key)] = e
	}
	num := func(key string) (float64, bool) {
		e, ok := kw[key]
		if !ok {
			return 0, false
		}
		if f, ok := e.Float(); ok {
			return f, true
		}
		if s, ok := e.Text(); ok {
			v, err := astro.ParseSexagesimal(s)
			return v, err == nil
		}
		return 0, false
	}
	text := func(key string) string {
		if e, ok := kw[key]; ok {
			if s, ok := e.Text(); ok {
				return s
			}
		}
		return ""
	}

	f := &Frame{
		ID:         uuid.NewString(),
		ImageType:  normalizeImageType(text("IMAGETYP")),
		Properties: props,
		Camera:     Camera{BinX: 1, BinY: 1},
	}

	if v, ok := num("NAXIS1"); ok {
		f.Properties.Width = int(v)
	}
	if v, ok := num("NAXIS2"); ok {
		f.Properties.Height = int(v)
	}
	if v, ok := num("BITPIX"); ok {
		bits := int(v)
		if bits < 0 {
			bits = -bits
		}
		f.Properties.BitDepth = bits
	}

	if v, ok := num("XBINNING"); ok && v >= 1 {
		f.Camera.BinX = int(v)
	}
	if v, ok := num("YBINNING"); ok && v >= 1 {
		f.Camera.BinY = int(v)
	}
	// XPIXSZ is recorded binned
	if v, ok := num("XPIXSZ"); ok {
		f.Camera.PixelSize = v / float64(f.Camera.BinX)
	} else if v, ok := num("PIXSIZE1"); ok {
		f.Camera.PixelSize = v
	}

	epoch := astro.J2000
	if e, ok := kw["EQUINOX"]; ok {
		if v, ok := e.Float(); ok {
			if parsed, err := astro.ParseEpoch(fmt.Sprintf("%.1f", v)); err == nil {
				epoch = parsed
			}
		}
	}

	if v, ok := num("FOCALLEN"); ok {
		f.Telescope.FocalLength = astro.Float(v)
	}
	ra, raOK := num("RA")
	dec, decOK := num("DEC")
	if raOK && decOK {
		c := astro.NewCoordinates(ra, dec, epoch)
		// a sexagesimal RA is in hours, like OBJCTRA
		if _, ok := kw["RA"].Text(); ok {
			c = astro.FromHours(ra, dec, epoch)
		}
		f.Telescope.Coordinates = &c
	}

	f.Target.Name = text("OBJECT")
	objRA, objRAOK := num("OBJCTRA")
	objDec, objDecOK := num("OBJCTDEC")
	if objRAOK && objDecOK {
		// OBJCTRA is sexagesimal hours
		c := astro.FromHours(objRA, objDec, epoch)
		f.Target.Coordinates = &c
	}
	return f
}

func normalizeImageType(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, " FRAME")
	return s
}
