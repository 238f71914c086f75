package coerce

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/serialbridge/internal/pipeline"
)

func TestCoerceParseOrder(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Value
	}{
		{name: "integer", in: "1024", want: IntValue(1024)},
		{name: "leading zeros are lost", in: "007", want: IntValue(7)},
		{name: "signed integer", in: "-42", want: IntValue(-42)},
		{name: "surrounding whitespace", in: " 17\r\n", want: IntValue(17)},
		{name: "float", in: "21.5", want: FloatValue(21.5)},
		{name: "exponent", in: "1e3", want: FloatValue(1000)},
		{name: "int64 overflow becomes float", in: "9223372036854775808", want: FloatValue(9223372036854775808)},
		{name: "time stays string", in: "13:02:39", want: StringValue("13:02:39")},
		{name: "version stays string", in: "CC128-v0.11", want: StringValue("CC128-v0.11")},
		{name: "empty", in: "", want: StringValue("")},
		{name: "blank", in: "  ", want: StringValue("  ")},
		{name: "nan", in: "nan", want: StringValue("nan")},
		{name: "inf", in: "Infinity", want: StringValue("Infinity")},
		{name: "hex integer", in: "0x1F", want: StringValue("0x1F")},
		{name: "hex float", in: "0x1p-2", want: StringValue("0x1p-2")},
		{name: "underscore", in: "1_000", want: StringValue("1_000")},
		{name: "float overflow", in: "1e400", want: StringValue("1e400")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Coerce(tt.in))
		})
	}
}

func TestCoerceIsIdempotentOnRenderedValue(t *testing.T) {
	for _, in := range []string{"007", "21.5", "1e3", "hello", "-0", "9223372036854775808"} {
		first := Coerce(in)
		second := Coerce(first.String())
		assert.Equal(t, first, second, in)
	}
}

func TestDecodeCoercesStringValues(t *testing.T) {
	doc, ok := Decode([]byte(`{"Watts":"1024","Temperature":"21.5"}`))
	require.True(t, ok)

	assert.Equal(t, Document{
		{Key: "Watts", Value: IntValue(1024)},
		{Key: "Temperature", Value: FloatValue(21.5)},
	}, doc)
	assert.Equal(t, map[string]any{"Watts": int64(1024), "Temperature": 21.5}, doc.Map())

	out, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Equal(t, `{"Watts":1024,"Temperature":21.5}`, string(out))
}

func TestDecodeKeepsPayloadKeyOrder(t *testing.T) {
	doc, ok := Decode([]byte(`{"z":"1","a":"2","m":"x"}`))
	require.True(t, ok)

	keys := make([]string, 0, len(doc))
	for _, e := range doc {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"z", "a", "m"}, keys)
}

func TestDecodeHandlesNonStringValues(t *testing.T) {
	doc, ok := Decode([]byte(`{"n":42,"f":1.5,"b":true,"nil":null,"nested":{"k":"v"}}`))
	require.True(t, ok)

	n, _ := doc.Get("n")
	assert.Equal(t, IntValue(42), n)

	f, _ := doc.Get("f")
	assert.Equal(t, FloatValue(1.5), f)

	b, _ := doc.Get("b")
	assert.Equal(t, Passthrough, b.Kind)
	assert.Equal(t, true, b.Interface())

	null, present := doc.Get("nil")
	assert.True(t, present)
	assert.Equal(t, Passthrough, null.Kind)
	assert.Nil(t, null.Interface())

	nested, _ := doc.Get("nested")
	assert.Equal(t, Passthrough, nested.Kind)
	assert.Equal(t, map[string]any{"k": "v"}, nested.Interface())
}

func TestDecodeFallsBackToRawKey(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Value
	}{
		{name: "plain text", payload: "not json", want: StringValue("not json")},
		{name: "array", payload: `["a"]`, want: StringValue(`["a"]`)},
		{name: "null", payload: "null", want: StringValue("null")},
		{name: "bare number", payload: "42", want: IntValue(42)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, ok := Decode([]byte(tt.payload))
			assert.False(t, ok)
			require.Len(t, doc, 1)
			assert.Equal(t, RawKey, doc[0].Key)
			assert.Equal(t, tt.want, doc[0].Value)
		})
	}
}

func TestRecordCoercesInFieldOrder(t *testing.T) {
	doc := Record(pipeline.Record{
		{Key: "Source", Value: "CC128-v0.11"},
		{Key: "DaysSinceBirth", Value: "00089"},
		{Key: "Temperature", Value: "21.5"},
	})

	out, err := doc.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"Source":"CC128-v0.11","DaysSinceBirth":89,"Temperature":21.5}`, string(out))
}

func TestValueMarshalKeepsMarkup(t *testing.T) {
	out, err := StringValue("<b>&").MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"<b>&"`, string(out))
}

func TestDecodeKeepsOutOfRangeNumbersAsText(t *testing.T) {
	doc, ok := Decode([]byte(`{"Watts":"1024","Spike":1e400,"nested":{"big":-1e400,"n":7,"list":[1.5,1e999]}}`))
	require.True(t, ok)

	spike, _ := doc.Get("Spike")
	assert.Equal(t, StringValue("1e400"), spike)

	nested, _ := doc.Get("nested")
	assert.Equal(t, Passthrough, nested.Kind)
	assert.Equal(t, map[string]any{
		"big":  "-1e400",
		"n":    int64(7),
		"list": []any{1.5, "1e999"},
	}, nested.Interface())
}
