package models

import (
	"bytes"
	"encoding/json"
)

// Text is a free-form field decoded leniently from extractor JSON. Strings decode as-is,
// numbers and booleans keep their literal form, null and composite values decode as empty.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")):
		*t = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
	case data[0] == '{', data[0] == '[':
		*t = ""
	default:
		*t = Text(data)
	}
	return nil
}

// String returns the text.
func (t Text) String() string {
	return string(t)
}

// Value holds a producer-declared number exactly as emitted: a JSON number, a numeric
// string, null or anything else. Coercion happens in the reconciliation engine.
type Value struct {
	raw any
}

// NewValue wraps v.
func NewValue(v any) Value {
	return Value{raw: v}
}

// Raw returns the wrapped value. JSON numbers are json.Number.
func (v Value) Raw() any {
	return v.raw
}

// IsZero reports whether no value was supplied.
func (v Value) IsZero() bool {
	return v.raw == nil
}

// UnmarshalJSON implements json.Unmarshaler. It never rejects well-formed JSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	v.raw = raw
	return nil
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.raw)
}
