package imaging

import (
	"fmt"
	"sync"

	"gopkg.in/gographics/imagick.v3/imagick"
)

var magickOnce sync.Once

// ProbeFunc reports the pixel dimensions of an image file.
type ProbeFunc func(path string) (width, height int, err error)

// MagickProbe pings the file through ImageMagick without decoding pixels.
func MagickProbe(path string) (int, int, error) {
	magickOnce.Do(imagick.Initialize)

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.PingImage(path); err != nil {
		return 0, 0, fmt.Errorf("imagemagick ping %s: %w", path, err)
	}
	return int(mw.GetImageWidth()), int(mw.GetImageHeight()), nil
}
