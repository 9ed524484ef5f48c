package definitions

import "github.com/spf13/cast"

// Well-known metadata keys. Any other key from the definitions file is
// carried through untouched.
const (
	KeyShortName           = "shortName"
	KeyIsMeasuredData      = "isMeasuredData"
	KeyEventCount          = "eventCount"
	KeyNormalizationFactor = "normalizationFactor"

	// keyDatasets holds the raw patterns in the definitions file. It is
	// never copied into metadata.
	keyDatasets = "datasets"
)

// Metadata is the free-form description attached to a pattern or dataset
type Metadata map[string]any

// Clone returns a shallow copy of m
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}

// ShortName returns the display name, or "" when unset
func (m Metadata) ShortName() string {
	return cast.ToString(m[KeyShortName])
}

// IsMeasuredData reports whether the entry came from the data section
func (m Metadata) IsMeasuredData() bool {
	return cast.ToBool(m[KeyIsMeasuredData])
}

// EventCount returns the summed event count, or 0 when unset
func (m Metadata) EventCount() int64 {
	return cast.ToInt64(m[KeyEventCount])
}

// HasNormalizationFactor reports whether the key is set at all, whatever
// its value. An explicit entry is never replaced by a lookup.
func (m Metadata) HasNormalizationFactor() bool {
	_, ok := m[KeyNormalizationFactor]
	return ok
}

// NormalizationFactor returns the factor and whether one is present and
// numeric. A key holding nil counts as absent.
func (m Metadata) NormalizationFactor() (float64, bool) {
	v, ok := m[KeyNormalizationFactor]
	if !ok || v == nil {
		return 0, false
	}

	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, false
	}

	return f, true
}
