package measurement

import (
	"math"
	"strconv"
)

// Optional is a float that may be unknown. The zero value is unknown.
// Unknown values render as JSON null.
type Optional struct {
	value float64
	known bool
}

// Known returns an Optional holding v. NaN and infinities are not numbers a
// sensor can report, so they become Unknown.
func Known(v float64) Optional {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Optional{}
	}
	return Optional{value: v, known: true}
}

// Unknown returns an Optional with no value.
func Unknown() Optional {
	return Optional{}
}

// Get returns the value and whether it is known.
func (o Optional) Get() (float64, bool) {
	return o.value, o.known
}

// IsKnown reports whether the value is known.
func (o Optional) IsKnown() bool {
	return o.known
}

// Or returns the value, or fallback when unknown.
func (o Optional) Or(fallback float64) float64 {
	if !o.known {
		return fallback
	}
	return o.value
}

// String formats the value with the shortest exact representation, or
// returns an empty string when unknown.
func (o Optional) String() string {
	if !o.known {
		return ""
	}
	return strconv.FormatFloat(o.value, 'f', -1, 64)
}

// MarshalJSON implements json.Marshaler.
func (o Optional) MarshalJSON() ([]byte, error) {
	if !o.known {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, o.value, 'f', -1, 64), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Optional) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = Optional{}
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*o = Known(v)
	return nil
}
