package astro

import "math"

// IsFinite reports whether v is neither NaN nor an infinity.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// FirstFinite returns the first candidate that is set and finite.
func FirstFinite(candidates ...*float64) (float64, bool) {
	for _, c := range candidates {
		if c != nil && IsFinite(*c) {
			return *c, true
		}
	}
	return 0, false
}

// FiniteOr returns the first usable candidate, or fallback when none is.
func FiniteOr(fallback float64, candidates ...*float64) float64 {
	if v, ok := FirstFinite(candidates...); ok {
		return v
	}
	return fallback
}

// RAOf returns a pointer to c.RA, or nil when c is nil.
func RAOf(c *Coordinates) *float64 {
	if c == nil {
		return nil
	}
	return &c.RA
}

// DecOf returns a pointer to c.Dec, or nil when c is nil.
func DecOf(c *Coordinates) *float64 {
	if c == nil {
		return nil
	}
	return &c.Dec
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
