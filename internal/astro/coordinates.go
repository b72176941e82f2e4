package astro

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Epoch identifies the reference frame RA/Dec are expressed in.
type Epoch int

const (
	J2000 Epoch = iota
	JNOW
	B1950
	J2050
)

func (e Epoch) String() string {
	switch e {
	case J2000:
		return "J2000"
	case JNOW:
		return "JNOW"
	case B1950:
		return "B1950"
	case J2050:
		return "J2050"
	default:
		return fmt.Sprintf("Epoch(%d)", int(e))
	}
}

// ParseEpoch accepts the names produced by String, case-insensitively.
// An empty string yields J2000.
func ParseEpoch(s string) (Epoch, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "J2000", "2000", "2000.0":
		return J2000, nil
	case "JNOW":
		return JNOW, nil
	case "B1950", "1950", "1950.0":
		return B1950, nil
	case "J2050", "2050", "2050.0":
		return J2050, nil
	default:
		return J2000, fmt.Errorf("unknown epoch %q", s)
	}
}

// Coordinates holds an equatorial position. RA and Dec are both in degrees.
type Coordinates struct {
	RA    float64 `json:"ra"`
	Dec   float64 `json:"dec"`
	Epoch Epoch   `json:"epoch"`
}

// NewCoordinates builds coordinates from RA and Dec in degrees.
func NewCoordinates(raDeg, decDeg float64, epoch Epoch) Coordinates {
	return Coordinates{RA: raDeg, Dec: decDeg, Epoch: epoch}
}

// FromHours builds coordinates from RA in hours and Dec in degrees.
func FromHours(raHours, decDeg float64, epoch Epoch) Coordinates {
	return Coordinates{RA: raHours * 15, Dec: decDeg, Epoch: epoch}
}

// RAHours returns the right ascension in hours.
func (c Coordinates) RAHours() float64 {
	return c.RA / 15
}

// RAString formats RA as HH:MM:SS.ss.
func (c Coordinates) RAString() string {
	if !IsFinite(c.RA) {
		return "NaN"
	}
	h, m, s := sexagesimal(WrapRA(c.RA) / 15)
	return fmt.Sprintf("%02d:%02d:%05.2f", h, m, s)
}

// DecString formats Dec as ±DD° MM' SS.s".
func (c Coordinates) DecString() string {
	if !IsFinite(c.Dec) {
		return "NaN"
	}
	sign := "+"
	if c.Dec < 0 {
		sign = "-"
	}
	d, m, s := sexagesimal(math.Abs(c.Dec))
	return fmt.Sprintf("%s%02d° %02d' %04.1f\"", sign, d, m, s)
}

// Normalize wraps RA into [0, 360) and folds Dec into [-90, 90]. A fold
// across a pole moves RA by 180 degrees. The epoch is preserved.
func (c Coordinates) Normalize() Coordinates {
	dec := wrap180(c.Dec)
	ra := c.RA
	switch {
	case dec > 90:
		dec = 180 - dec
		ra += 180
	case dec < -90:
		dec = -180 - dec
		ra += 180
	}
	return Coordinates{RA: WrapRA(ra), Dec: dec, Epoch: c.Epoch}
}

func (c Coordinates) String() string {
	return fmt.Sprintf("RA %s Dec %s (%s)", c.RAString(), c.DecString(), c.Epoch)
}

// WrapRA maps an angle in degrees into [0, 360).
func WrapRA(deg float64) float64 {
	if !IsFinite(deg) {
		return deg
	}
	r := math.Mod(deg, 360)
	if r < 0 {
		r += 360
	}
	if r >= 360 {
		r = 0
	}
	return r
}

// WrapDec folds a declination into [-90, 90] without touching RA.
func WrapDec(deg float64) float64 {
	if !IsFinite(deg) {
		return deg
	}
	d := wrap180(deg)
	switch {
	case d > 90:
		return 180 - d
	case d < -90:
		return -180 - d
	}
	return d
}

// wrap180 maps an angle into [-180, 180).
func wrap180(deg float64) float64 {
	r := math.Mod(deg+180, 360)
	if r < 0 {
		r += 360
	}
	return r - 180
}

func sexagesimal(v float64) (int, int, float64) {
	whole := math.Floor(v)
	minutes := (v - whole) * 60
	m := math.Floor(minutes)
	s := (minutes - m) * 60
	// rounding carry, e.g. 59.999 -> 60.00
	if s >= 59.995 {
		s = 0
		m++
	}
	if m >= 60 {
		m = 0
		whole++
	}
	return int(whole), int(m), s
}

// ParseSexagesimal parses "DD MM SS.s", "DD:MM:SS.s" or a plain decimal
// number. A leading sign applies to the whole value.
func ParseSexagesimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty angle")
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ':' || r == ' ' || r == 'h' || r == 'm' || r == 's' || r == 'd' || r == '\'' || r == '"' || r == '°'
	})
	if len(fields) == 0 || len(fields) > 3 {
		return 0, fmt.Errorf("malformed angle %q", s)
	}
	var v float64
	scale := 1.0
	for _, f := range fields {
		part, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed angle %q: %w", s, err)
		}
		v += part / scale
		scale *= 60
	}
	if neg {
		v = -v
	}
	return v, nil
}
