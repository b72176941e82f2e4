package imaging

import (
	"bytes"
	"encoding/binary"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var xisfSignature = []byte("XISF0100")

type xisfDocument struct {
	XMLName xml.Name    `xml:"xisf"`
	Images  []xisfImage `xml:"Image"`
}

type xisfImage struct {
	Geometry string        `xml:"geometry,attr"`
	Keywords []xisfKeyword `xml:"FITSKeyword"`
}

type xisfKeyword struct {
	Name    string `xml:"name,attr"`
	Value   string `xml:"value,attr"`
	Comment string `xml:"comment,attr"`
}

// ReadXISFHeader decodes the XML header of a monolithic XISF file and
// returns its FITS keywords plus the geometry of the first image.
func ReadXISFHeader(r io.Reader) ([]HeaderEntry, Properties, error) {
	var props Properties
	sig := make([]byte, len(xisfSignature))
	if _, err := io.ReadFull(r, sig); err != nil {
		return nil, props, fmt.Errorf("read xisf signature: %w", err)
	}
	if !bytes.Equal(sig, xisfSignature) {
		return nil, props, errors.New("not an XISF file")
	}
	var lengths [2]uint32
	if err := binary.Read(r, binary.LittleEndian, &lengths); err != nil {
		return nil, props, fmt.Errorf("read xisf header length: %w", err)
	}
	raw := make([]byte, lengths[0])
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, props, fmt.Errorf("read xisf header: %w", err)
	}

	var doc xisfDocument
	if err := xml.Unmarshal(bytes.TrimRight(raw, "\x00"), &doc); err != nil {
		return nil, props, fmt.Errorf("decode xisf header: %w", err)
	}
	if len(doc.Images) == 0 {
		return nil, props, errors.New("xisf header has no Image element")
	}

	img := doc.Images[0]
	parts := strings.Split(img.Geometry, ":")
	if len(parts) >= 2 {
		props.Width, _ = strconv.Atoi(parts[0])
		props.Height, _ = strconv.Atoi(parts[1])
	}

	entries := make([]HeaderEntry, 0, len(img.Keywords))
	for _, kw := range img.Keywords {
		val, _ := splitValue(kw.Value)
		entries = append(entries, HeaderEntry{Key: kw.Name, Value: val, Comment: kw.Comment})
	}
	return entries, props, nil
}

// ReadXISFFile opens path and decodes its header.
func ReadXISFFile(path string) ([]HeaderEntry, Properties, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Properties{}, err
	}
	defer f.Close()
	return ReadXISFHeader(f)
}
