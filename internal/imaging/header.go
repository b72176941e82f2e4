package imaging

// HeaderEntry is a single generic metadata header. Value holds a string,
// float64, int or bool.
type HeaderEntry struct {
	Key     string `json:"key"`
	Value   any    `json:"value"`
	Comment string `json:"comment"`
}

// StringHeader builds a string-valued entry.
func StringHeader(key, value, comment string) HeaderEntry {
	return HeaderEntry{Key: key, Value: value, Comment: comment}
}

// DoubleHeader builds a float-valued entry.
func DoubleHeader(key string, value float64, comment string) HeaderEntry {
	return HeaderEntry{Key: key, Value: value, Comment: comment}
}

// Float returns the value as float64 when it is numeric.
func (h HeaderEntry) Float() (float64, bool) {
	switch v := h.Value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// Text returns the value when it is a string.
func (h HeaderEntry) Text() (string, bool) {
	s, ok := h.Value.(string)
	return s, ok
}
