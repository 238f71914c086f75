// Package coerce reinterprets decoded string values as numbers before they
// are stored. The conversion is deliberately lossy: "007" is stored as 7.
package coerce

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/drblury/serialbridge/internal/runtime/jsoncodec"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	String Kind = iota
	Integer
	Float
	// Passthrough holds a decoded non-string JSON value (bool, null, array,
	// object) that is stored unchanged.
	Passthrough
)

func (k Kind) String() string {
	switch k {
	case Integer:
		return "integer"
	case Float:
		return "float"
	case Passthrough:
		return "passthrough"
	default:
		return "string"
	}
}

// Value is the typed result of coercing one field.
type Value struct {
	Kind  Kind
	Int   int64
	Float float64
	Str   string
	Other any
}

func IntValue(i int64) Value     { return Value{Kind: Integer, Int: i} }
func FloatValue(f float64) Value { return Value{Kind: Float, Float: f} }
func StringValue(s string) Value { return Value{Kind: String, Str: s} }
func PassthroughValue(v any) Value {
	return Value{Kind: Passthrough, Other: v}
}

// asciiSpace is the set trimmed before parsing.
const asciiSpace = " \t\n\v\f\r"

// Coerce parses s as a base-10 integer, then as a finite decimal float, and
// otherwise keeps it as the original string. Surrounding ASCII whitespace is
// ignored for the numeric attempts. Integers outside int64 fall through to
// float. Hex, underscores, and non-finite spellings ("nan", "inf") stay strings.
func Coerce(s string) Value {
	t := strings.Trim(s, asciiSpace)
	if t == "" {
		return StringValue(s)
	}
	if i, err := strconv.ParseInt(t, 10, 64); err == nil {
		return IntValue(i)
	}
	if strings.ContainsAny(t, "_xX") {
		return StringValue(s)
	}
	f, err := strconv.ParseFloat(t, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return StringValue(s)
	}
	return FloatValue(f)
}

// coerceDecoded applies Coerce to strings and JSON number literals and wraps
// any other decoded value as Passthrough. A number literal no store can hold
// as int64 or a finite float64 (1e400) is kept as its text.
func coerceDecoded(v any) Value {
	switch val := v.(type) {
	case string:
		return Coerce(val)
	case json.Number:
		return Coerce(val.String())
	default:
		return PassthroughValue(plain(val))
	}
}

// plain replaces the json.Number literals nested in arrays and objects with
// the int64, float64 or string Coerce picks for them.
func plain(v any) any {
	switch val := v.(type) {
	case json.Number:
		return Coerce(val.String()).Interface()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = plain(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = plain(e)
		}
		return out
	default:
		return v
	}
}

// Interface returns the Go value the stores persist.
func (v Value) Interface() any {
	switch v.Kind {
	case Integer:
		return v.Int
	case Float:
		return v.Float
	case Passthrough:
		return v.Other
	default:
		return v.Str
	}
}

// String renders the value. Re-coercing the result yields the same value,
// though not necessarily the original text ("007" renders as "7", "1e3" as
// "1000.0").
func (v Value) String() string {
	switch v.Kind {
	case Integer:
		return strconv.FormatInt(v.Int, 10)
	case Float:
		s := strconv.FormatFloat(v.Float, 'g', -1, 64)
		if !strings.ContainsAny(s, ".e") {
			s += ".0"
		}
		return s
	case Passthrough:
		b, err := jsoncodec.MarshalPayload(v.Other)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return v.Str
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return jsoncodec.MarshalPayload(v.Interface())
}
