package jobs

import (
	"strconv"
	"strings"
)

// Concept is the schema-less generation payload of an item. The engine only reads
// the few keys exposed through the accessors below.
type Concept map[string]any

const (
	conceptKeyHook          = "hook"
	conceptKeyVideoProvider = "videoProvider"
	conceptKeyDuration      = "durationSeconds"
)

// Hook returns the hook text or "" when absent.
func (c Concept) Hook() string {
	return c.String(conceptKeyHook)
}

// VideoProvider returns the requested video provider, lower-cased.
func (c Concept) VideoProvider() string {
	return strings.ToLower(strings.TrimSpace(c.String(conceptKeyVideoProvider)))
}

// DurationSeconds returns the requested clip duration, or fallback when unset or invalid.
func (c Concept) DurationSeconds(fallback int) int {
	v, ok := c.Number(conceptKeyDuration)
	if !ok || v <= 0 {
		return fallback
	}
	return int(v)
}

// String returns a string value for key, formatting scalars.
func (c Concept) String(key string) string {
	v, ok := c[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// Number returns a numeric value for key. JSON numbers decode as float64; ints are
// accepted for payloads built in-process.
func (c Concept) Number(key string) (float64, bool) {
	switch t := c[key].(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Len returns the length of a list value, 0 when absent.
func (c Concept) Len(key string) int {
	switch t := c[key].(type) {
	case []string:
		return len(t)
	case []any:
		return len(t)
	default:
		return 0
	}
}

// With returns a shallow copy of c with key set to v.
func (c Concept) With(key string, v any) Concept {
	out := make(Concept, len(c)+1)
	for k, val := range c {
		out[k] = val
	}
	out[key] = v
	return out
}
