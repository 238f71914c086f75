// Package pipeline turns raw device lines into ordered records: an exclusion
// filter discards noise, and a chain of stages built from an extraction rule
// maps the survivors to named fields.
package pipeline

import (
	"bytes"

	"github.com/drblury/serialbridge/internal/runtime/jsoncodec"
)

// LineField is the key under which a chain is seeded with the raw line.
const LineField = "line"

// Field is one named value of a Record.
type Field struct {
	Key   string
	Value string
}

// Record is an ordered list of fields. Encoding keeps the order, so the
// published JSON follows the rule's field list.
type Record []Field

// Get returns the value for key and whether it was present.
func (r Record) Get(key string) (string, bool) {
	for _, f := range r {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Keys returns the field names in order.
func (r Record) Keys() []string {
	keys := make([]string, len(r))
	for i, f := range r {
		keys[i] = f.Key
	}
	return keys
}

// Map returns the fields as an unordered map.
func (r Record) Map() map[string]string {
	m := make(map[string]string, len(r))
	for _, f := range r {
		m[f.Key] = f.Value
	}
	return m
}

// MarshalJSON encodes the record as a compact JSON object in field order.
// Values are strings, written verbatim without HTML escaping.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := jsoncodec.MarshalPayload(f.Key)
		if err != nil {
			return nil, err
		}
		val, err := jsoncodec.MarshalPayload(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
