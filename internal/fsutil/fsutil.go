package fsutil

import (
	"os"
	"path/filepath"
	"strings"
)

// extensions of formats that carry a header the solution can be written to
var imageExts = map[string]struct{}{
	".fits": {},
	".fit":  {},
	".fts":  {},
	".xisf": {},
}

// ListImages returns all FITS and XISF files under root, skipping the .wcs
// sidecars written next to them.
func ListImages(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if IsImageFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// ExpandImages replaces every directory in paths with the images below it.
func ExpandImages(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || !info.IsDir() {
			// missing files are reported by whoever opens them
			out = append(out, p)
			continue
		}
		files, err := ListImages(p)
		if err != nil {
			return nil, err
		}
		out = append(out, files...)
	}
	return out, nil
}

// FirstExisting returns the first path that exists.
func FirstExisting(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// IsImageFile checks if a file is a FITS or XISF image.
func IsImageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, isImage := imageExts[ext]
	return isImage
}
