package pipeline

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/serialbridge/internal/runtime/errors"
	"github.com/drblury/serialbridge/internal/runtime/jsoncodec"
	"github.com/drblury/serialbridge/internal/runtime/logging"
)

const envirLine = "<msg><src>CC128-v0.11</src><dsb>00089</dsb><time>13:02:39</time><tmpr>21.5</tmpr>" +
	"<sensor>1</sensor><id>01234</id><type>1</type><ch1><watts>1024</watts></ch1></msg>\r\n"

const historyLine = "<msg><src>CC128-v0.11</src><dsb>00089</dsb><time>13:10:50</time><hist><dsw>00032</dsw>" +
	"<type>1</type><units>kwhr</units><data><sensor>0</sensor><h024>001.1</h024></data></hist></msg>\r\n"

func TestChainExtractsBuiltinRule(t *testing.T) {
	chain := ChainForRule(BuiltinRules()[0])

	rec, ok := chain.Apply(envirLine)
	require.True(t, ok)
	assert.Equal(t, ccostFields, rec.Keys())
	assert.Equal(t, Record{
		{Key: "Source", Value: "CC128-v0.11"},
		{Key: "DaysSinceBirth", Value: "00089"},
		{Key: "Time", Value: "13:02:39"},
		{Key: "Temperature", Value: "21.5"},
		{Key: "Sensor", Value: "1"},
		{Key: "ID", Value: "01234"},
		{Key: "Type", Value: "1"},
		{Key: "Watts", Value: "1024"},
	}, rec)

	payload, err := rec.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t,
		`{"Source":"CC128-v0.11","DaysSinceBirth":"00089","Time":"13:02:39","Temperature":"21.5",`+
			`"Sensor":"1","ID":"01234","Type":"1","Watts":"1024"}`,
		string(payload))
}

func TestChainUnmatchedLine(t *testing.T) {
	chain := ChainForRule(BuiltinRules()[0])

	rec, ok := chain.Apply("garbage from a reset device\r\n")
	assert.False(t, ok)
	assert.Nil(t, rec)
}

func TestChainValuesAreVerbatim(t *testing.T) {
	rule := &ExtractionRule{
		Name:    "kv",
		Pattern: regexp.MustCompile(`a=([^;]*);b=(.*)$`),
		Fields:  []string{"A", "B"},
	}

	rec, ok := ChainForRule(rule).Apply("a= 007 ;b=<x&y>")
	require.True(t, ok)
	assert.Equal(t, " 007 ", rec.Map()["A"])
	assert.Equal(t, "<x&y>", rec.Map()["B"])

	payload, err := rec.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"A":" 007 ","B":"<x&y>"}`, string(payload))
}

func TestChainSelectStage(t *testing.T) {
	rule := BuiltinRules()[0]
	rule.Select = []string{"Watts", "Temperature"}

	rec, ok := ChainForRule(rule).Apply(envirLine)
	require.True(t, ok)
	assert.Equal(t, Record{{Key: "Watts", Value: "1024"}, {Key: "Temperature", Value: "21.5"}}, rec)

	_, ok = NewChainBuilder().Select("missing").Build().Apply("x")
	assert.False(t, ok)
}

func TestChainShortCircuits(t *testing.T) {
	called := false
	chain := NewChainBuilder().
		Stage(StageFunc(func(in Record) (Record, bool) { return nil, false })).
		Stage(StageFunc(func(in Record) (Record, bool) { called = true; return in, true })).
		Build()

	_, ok := chain.Apply("line")
	assert.False(t, ok)
	assert.False(t, called)
	assert.Equal(t, 2, chain.Len())
}

func TestChainMultiStageExtraction(t *testing.T) {
	outer := &ExtractionRule{Name: "outer", Pattern: regexp.MustCompile(`<ch1>(.*)</ch1>`), Fields: []string{"Channel"}}
	inner := &ExtractionRule{Name: "inner", Pattern: regexp.MustCompile(`<watts>(\d+)</watts>`), Fields: []string{"Watts"}}

	rec, ok := NewChainBuilder().Extract(outer).ExtractFrom("Channel", inner).Build().Apply(envirLine)
	require.True(t, ok)
	assert.Equal(t, Record{{Key: "Watts", Value: "1024"}}, rec)
}

func TestEmptyChainReturnsSeed(t *testing.T) {
	rec, ok := NewChain().Apply("raw\n")
	require.True(t, ok)
	assert.Equal(t, Record{{Key: LineField, Value: "raw\n"}}, rec)
}

func TestRecordRoundTrip(t *testing.T) {
	rec, ok := ChainForRule(BuiltinRules()[0]).Apply(envirLine)
	require.True(t, ok)

	payload, err := rec.MarshalJSON()
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, jsoncodec.Unmarshal(payload, &decoded))
	assert.Equal(t, rec.Map(), decoded)
}

func TestExclusionFilter(t *testing.T) {
	t.Run("history packets are excluded", func(t *testing.T) {
		f, err := NewExclusionFilter(BuiltinExclusions(), nil)
		require.NoError(t, err)

		assert.True(t, f.Matches(historyLine))
		assert.False(t, f.Matches(envirLine))
	})

	t.Run("no patterns never match", func(t *testing.T) {
		f, err := NewExclusionFilter(nil, nil)
		require.NoError(t, err)
		assert.False(t, f.Matches(historyLine))

		var nilFilter *ExclusionFilter
		assert.False(t, nilFilter.Matches(historyLine))
	})

	t.Run("first matching pattern is logged", func(t *testing.T) {
		var buf bytes.Buffer
		log := logging.NewSlogServiceLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

		f, err := NewExclusionFilter([]string{"hist", "msg"}, log)
		require.NoError(t, err)
		assert.Equal(t, []string{"hist", "msg"}, f.Patterns())

		assert.True(t, f.Matches(historyLine))
		assert.Contains(t, buf.String(), `"pattern":"hist"`)
		assert.NotContains(t, buf.String(), `"pattern":"msg"`)
	})

	t.Run("bad pattern is a config error", func(t *testing.T) {
		_, err := NewExclusionFilter([]string{"ok", "(unclosed"}, nil)
		var cfgErr *errspkg.ConfigError
		require.True(t, errors.As(err, &cfgErr))
		assert.Equal(t, "exclude[1]", cfgErr.Key)
	})
}

const rulesYAML = `
- name: ccost
  search: 'src>([^<]+).+watts>([^<]+)'
  groups: [Source, Watts]
- name: temperature
  search: 'tmpr>([^<]+)'
  groups: [Temperature]
  select: [Temperature]
`

func TestLoadRuleYAML(t *testing.T) {
	rule, err := LoadRule(strings.NewReader(rulesYAML), FormatYAML, "ccost")
	require.NoError(t, err)
	assert.Equal(t, "ccost", rule.Name)
	assert.Equal(t, []string{"Source", "Watts"}, rule.Fields)

	rec, ok := ChainForRule(rule).Apply(envirLine)
	require.True(t, ok)
	assert.Equal(t, Record{{Key: "Source", Value: "CC128-v0.11"}, {Key: "Watts", Value: "1024"}}, rec)
}

func TestLoadRuleJSON(t *testing.T) {
	doc := `[{"name":"t","search":"tmpr>([^<]+)","groups":["Temperature"]}]`
	rule, err := LoadRule(strings.NewReader(doc), FormatJSON, "t")
	require.NoError(t, err)
	assert.Equal(t, []string{"Temperature"}, rule.Fields)
}

func TestLoadRuleErrors(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		format   Format
		selector string
		is       error
		contains string
	}{
		{"selector missing", rulesYAML, FormatYAML, "gas", errspkg.ErrRuleNotFound, `"gas"`},
		{"unparseable", "- name: [", FormatYAML, "x", nil, "rules"},
		{"bad json", "{", FormatJSON, "x", nil, "rules"},
		{"invalid pattern", `[{"name":"x","search":"(","groups":["A"]}]`, FormatJSON, "x", nil, "rules[0]"},
		{"more fields than groups", `[{"name":"x","search":"(a)","groups":["A","B"]}]`, FormatJSON, "x", errspkg.ErrGroupCountMismatch, "1 groups, 2 fields"},
		{"more groups than fields", `[{"name":"x","search":"(a)(b)","groups":["A"]}]`, FormatJSON, "x", errspkg.ErrGroupCountMismatch, "2 groups, 1 fields"},
		{"empty field name", `[{"name":"x","search":"(a)","groups":[" "]}]`, FormatJSON, "x", nil, "has no name"},
		{"duplicate field", `[{"name":"x","search":"(a)(b)","groups":["A","A"]}]`, FormatJSON, "x", nil, "listed twice"},
		{"no fields", `[{"name":"x","search":"a","groups":[]}]`, FormatJSON, "x", nil, "at least one field"},
		{"missing name", `[{"search":"(a)","groups":["A"]}]`, FormatJSON, "x", nil, "rule name is required"},
		{"duplicate rule", `[{"name":"x","search":"(a)","groups":["A"]},{"name":"x","search":"(b)","groups":["B"]}]`, FormatJSON, "x", errspkg.ErrDuplicateRule, `"x"`},
		{"select unknown field", `[{"name":"x","search":"(a)","groups":["A"],"select":["B"]}]`, FormatJSON, "x", nil, `selected field "B"`},
		{"unknown format", "[]", Format("xml"), "x", nil, "unsupported rule format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRule(strings.NewReader(tt.doc), tt.format, tt.selector)
			require.Error(t, err)

			var cfgErr *errspkg.ConfigError
			assert.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %T", err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestLoadRuleFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "rules.yml")
	require.NoError(t, os.WriteFile(path, []byte(rulesYAML), 0o600))
	rule, err := LoadRuleFile(path, "temperature")
	require.NoError(t, err)
	assert.Equal(t, []string{"Temperature"}, rule.Select)

	bad := filepath.Join(dir, "rules.txt")
	require.NoError(t, os.WriteFile(bad, []byte(rulesYAML), 0o600))
	_, err = LoadRuleFile(bad, "ccost")
	assert.ErrorContains(t, err, "unsupported document extension")

	_, err = LoadRuleFile(filepath.Join(dir, "absent.json"), "ccost")
	assert.Error(t, err)
}

func TestFormatForPath(t *testing.T) {
	f, err := FormatForPath("/etc/serialbridge/rules.YAML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	f, err = FormatForPath("sites.json")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)
}
