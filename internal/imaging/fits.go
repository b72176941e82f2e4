package imaging

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/astrogo/fitsio"
)

// ErrNoHDU is returned when a FITS stream holds no header/data unit.
var ErrNoHDU = errors.New("fits file has no HDU")

// ReadFITSHeader reads the primary header of a FITS stream. Pixel data is
// read past but never decoded.
func ReadFITSHeader(r io.Reader) ([]HeaderEntry, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, fmt.Errorf("decode fits: %w", err)
	}
	defer f.Close()

	if len(f.HDUs()) == 0 {
		return nil, ErrNoHDU
	}
	hdr := f.HDU(0).Header()

	keys := hdr.Keys()
	entries := make([]HeaderEntry, 0, len(keys)+3)
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		switch key {
		case "", "COMMENT", "HISTORY", "END":
			continue
		}
		card := hdr.Get(key)
		if card == nil {
			continue
		}
		seen[key] = true
		entries = append(entries, HeaderEntry{Key: key, Value: entryValue(card.Value), Comment: card.Comment})
	}

	// geometry lives in the mandatory cards; surface it even when the
	// decoder keeps those out of the card list
	if !seen["BITPIX"] {
		entries = append(entries, HeaderEntry{Key: "BITPIX", Value: hdr.Bitpix()})
	}
	for i, n := range hdr.Axes() {
		key := "NAXIS" + strconv.Itoa(i+1)
		if !seen[key] {
			entries = append(entries, HeaderEntry{Key: key, Value: n})
		}
	}
	return entries, nil
}

// ReadFITSFile opens path and reads its primary header.
func ReadFITSFile(path string) ([]HeaderEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadFITSHeader(f)
}

func entryValue(v any) any {
	switch x := v.(type) {
	case int8:
		return int(x)
	case int16:
		return int(x)
	case int32:
		return int(x)
	case int64:
		return int(x)
	case uint8:
		return int(x)
	case uint16:
		return int(x)
	case uint32:
		return int(x)
	case float32:
		return float64(x)
	case *big.Int:
		if x.IsInt64() {
			return int(x.Int64())
		}
		return x.String()
	}
	return v
}

// mandatory cards are written by the encoder from bitpix and axes
func isMandatory(key string) bool {
	switch key {
	case "SIMPLE", "BITPIX", "NAXIS", "EXTEND", "END":
		return true
	}
	if rest, ok := strings.CutPrefix(key, "NAXIS"); ok {
		_, err := strconv.Atoi(rest)
		return err == nil
	}
	return false
}

// fitsCards converts entries to cards. A repeated key keeps its first
// position and its last value. Non-finite floats have no FITS number form
// and are written as strings ("NaN", "+Inf", "-Inf").
func fitsCards(entries []HeaderEntry) []fitsio.Card {
	cards := make([]fitsio.Card, 0, len(entries))
	index := make(map[string]int, len(entries))
	for _, e := range entries {
		key := strings.ToUpper(e.Key)
		if key == "" || isMandatory(key) {
			continue
		}
		value := e.Value
		if f, ok := value.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			value = strconv.FormatFloat(f, 'g', -1, 64)
		}
		card := fitsio.Card{Name: key, Value: value, Comment: e.Comment}
		if i, dup := index[key]; dup {
			cards[i] = card
			continue
		}
		index[key] = len(cards)
		cards = append(cards, card)
	}
	return cards
}

func blankPixels(bitpix, n int) (any, error) {
	switch bitpix {
	case 8:
		return make([]uint8, n), nil
	case 16:
		return make([]int16, n), nil
	case 32:
		return make([]int32, n), nil
	case -32:
		return make([]float32, n), nil
	case -64:
		return make([]float64, n), nil
	default:
		return nil, fmt.Errorf("unsupported BITPIX %d", bitpix)
	}
}

// CreateFITS writes a single-HDU FITS file with a blank width x height image
// and the given header entries. Zero dimensions give a header-only file.
func CreateFITS(path string, bitpix, width, height int, entries []HeaderEntry) (err error) {
	var (
		axes []int
		data any
	)
	if width > 0 && height > 0 {
		axes = []int{width, height}
		if data, err = blankPixels(bitpix, width*height); err != nil {
			return err
		}
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	file, err := fitsio.Create(out)
	if err != nil {
		return fmt.Errorf("create fits: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()

	img := fitsio.NewImage(bitpix, axes)
	defer img.Close()
	if err := img.Header().Append(fitsCards(entries)...); err != nil {
		return fmt.Errorf("fits header: %w", err)
	}
	if data != nil {
		if err := img.Write(data); err != nil {
			return fmt.Errorf("fits data: %w", err)
		}
	}
	return file.Write(img)
}

// WriteSidecar writes entries as a header-only FITS file next to the image,
// using the ".wcs" extension the way ASTAP does. Non-finite values from an
// unvalidated solution are kept, as strings.
func WriteSidecar(imagePath string, entries []HeaderEntry) (string, error) {
	out := strings.TrimSuffix(imagePath, filepath.Ext(imagePath)) + ".wcs"
	if err := CreateFITS(out, 8, 0, 0, entries); err != nil {
		return "", fmt.Errorf("write wcs sidecar: %w", err)
	}
	return out, nil
}
