package coerce

import (
	"bytes"
	"sort"

	"github.com/drblury/serialbridge/internal/pipeline"
	"github.com/drblury/serialbridge/internal/runtime/jsoncodec"
)

// RawKey holds the whole payload when it is not a JSON object.
const RawKey = "raw"

// Entry is one coerced field.
type Entry struct {
	Key   string
	Value Value
}

// Document is an ordered coerced record, written to a store as one document.
type Document []Entry

// Get returns the value stored under key.
func (d Document) Get(key string) (Value, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return Value{}, false
}

// Map returns the document as plain Go values.
func (d Document) Map() map[string]any {
	m := make(map[string]any, len(d))
	for _, e := range d {
		m[e.Key] = e.Value.Interface()
	}
	return m
}

// MarshalJSON encodes the document as a JSON object in entry order.
func (d Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := jsoncodec.MarshalPayload(e.Key)
		if err != nil {
			return nil, err
		}
		val, err := e.Value.MarshalJSON()
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

// Record coerces every field of a record, keeping field order.
func Record(rec pipeline.Record) Document {
	doc := make(Document, len(rec))
	for i, f := range rec {
		doc[i] = Entry{Key: f.Key, Value: Coerce(f.Value)}
	}
	return doc
}

// Decode parses payload as a JSON object and coerces its values. Keys keep
// their payload order. When payload is not a JSON object the result is a
// single RawKey entry holding the payload text, coerced like any other
// value, and ok is false.
func Decode(payload []byte) (doc Document, ok bool) {
	var obj map[string]any
	if err := jsoncodec.UnmarshalUseNumber(payload, &obj); err != nil || obj == nil {
		return Document{{Key: RawKey, Value: Coerce(string(payload))}}, false
	}

	keys, err := jsoncodec.ObjectKeys(payload)
	if err != nil || len(keys) != len(obj) {
		keys = sortedKeys(obj)
	}

	doc = make(Document, 0, len(keys))
	for _, k := range keys {
		v, present := obj[k]
		if !present {
			continue
		}
		doc = append(doc, Entry{Key: k, Value: coerceDecoded(v)})
	}
	return doc, true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
