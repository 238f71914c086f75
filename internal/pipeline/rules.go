package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	errspkg "github.com/drblury/serialbridge/internal/runtime/errors"
	"github.com/drblury/serialbridge/internal/runtime/jsoncodec"
)

// Format identifies the encoding of a rule or binding document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatForPath picks the document format from a file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unsupported document extension %q", filepath.Ext(path))
}

// ExtractionRule maps the capture groups of Pattern, in order, to Fields.
// Select optionally projects the extracted record onto a subset of fields.
type ExtractionRule struct {
	Name    string
	Pattern *regexp.Regexp
	Fields  []string
	Select  []string
}

type ruleDocument struct {
	Name   string   `json:"name" yaml:"name"`
	Search string   `json:"search" yaml:"search"`
	Groups []string `json:"groups" yaml:"groups"`
	Select []string `json:"select,omitempty" yaml:"select,omitempty"`
}

// Legacy CurrentCost EnviR defaults.
const (
	BuiltinRuleName  = "ccost"
	ccostPattern     = `src>([^<]+).+dsb>([^<]+).+time>([^<]+).+tmpr>([^<]+).+sensor>([^<]+).+id>([^<]+).+type>([^<]+).+watts>([^<]+)`
	historyExclusion = `<hist>`
)

var ccostFields = []string{"Source", "DaysSinceBirth", "Time", "Temperature", "Sensor", "ID", "Type", "Watts"}

// BuiltinRules returns the rule set used when no rule file is configured.
func BuiltinRules() []*ExtractionRule {
	return []*ExtractionRule{{
		Name:    BuiltinRuleName,
		Pattern: regexp.MustCompile(ccostPattern),
		Fields:  append([]string(nil), ccostFields...),
	}}
}

// BuiltinExclusions returns the exclusion patterns used with BuiltinRules.
// History packets carry no live reading.
func BuiltinExclusions() []string {
	return []string{historyExclusion}
}

// LoadRules parses and validates every rule in a document.
func LoadRules(r io.Reader, format Format) ([]*ExtractionRule, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errspkg.NewConfigError("rules", err)
	}

	var docs []ruleDocument
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &docs)
	case FormatJSON:
		err = jsoncodec.Unmarshal(data, &docs)
	default:
		err = fmt.Errorf("unsupported rule format %q", format)
	}
	if err != nil {
		return nil, errspkg.NewConfigError("rules", err)
	}

	rules := make([]*ExtractionRule, 0, len(docs))
	seen := make(map[string]struct{}, len(docs))
	for i, doc := range docs {
		rule, err := compileRule(doc)
		if err != nil {
			return nil, errspkg.NewConfigError(fmt.Sprintf("rules[%d]", i), err)
		}
		if _, dup := seen[rule.Name]; dup {
			return nil, errspkg.NewConfigError(fmt.Sprintf("rules[%d]", i), fmt.Errorf("%w: %q", errspkg.ErrDuplicateRule, rule.Name))
		}
		seen[rule.Name] = struct{}{}
		rules = append(rules, rule)
	}
	return rules, nil
}

// LoadRule parses a document and returns the rule named selector.
func LoadRule(r io.Reader, format Format, selector string) (*ExtractionRule, error) {
	rules, err := LoadRules(r, format)
	if err != nil {
		return nil, err
	}
	return SelectRule(rules, selector)
}

// LoadRuleFile loads the rule named selector from path. The format follows
// the file extension.
func LoadRuleFile(path, selector string) (*ExtractionRule, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, errspkg.NewConfigError("rules", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errspkg.NewConfigError("rules", err)
	}
	defer f.Close()
	return LoadRule(f, format, selector)
}

// SelectRule returns the rule named selector.
func SelectRule(rules []*ExtractionRule, selector string) (*ExtractionRule, error) {
	for _, rule := range rules {
		if rule.Name == selector {
			return rule, nil
		}
	}
	return nil, errspkg.NewConfigError("rule", fmt.Errorf("%w: %q", errspkg.ErrRuleNotFound, selector))
}

func compileRule(doc ruleDocument) (*ExtractionRule, error) {
	if strings.TrimSpace(doc.Name) == "" {
		return nil, errors.New("rule name is required")
	}
	if doc.Search == "" {
		return nil, fmt.Errorf("rule %q: search pattern is required", doc.Name)
	}
	pattern, err := regexp.Compile(doc.Search)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", doc.Name, err)
	}
	if err := validateFields(doc.Groups); err != nil {
		return nil, fmt.Errorf("rule %q: %w", doc.Name, err)
	}
	if pattern.NumSubexp() != len(doc.Groups) {
		return nil, fmt.Errorf("rule %q: %w: %d groups, %d fields",
			doc.Name, errspkg.ErrGroupCountMismatch, pattern.NumSubexp(), len(doc.Groups))
	}

	known := make(map[string]struct{}, len(doc.Groups))
	for _, g := range doc.Groups {
		known[g] = struct{}{}
	}
	for _, s := range doc.Select {
		if _, ok := known[s]; !ok {
			return nil, fmt.Errorf("rule %q: selected field %q is not extracted", doc.Name, s)
		}
	}

	return &ExtractionRule{
		Name:    doc.Name,
		Pattern: pattern,
		Fields:  doc.Groups,
		Select:  doc.Select,
	}, nil
}

func validateFields(fields []string) error {
	if len(fields) == 0 {
		return errors.New("at least one field is required")
	}
	seen := make(map[string]struct{}, len(fields))
	for i, f := range fields {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("field %d has no name", i)
		}
		if _, dup := seen[f]; dup {
			return fmt.Errorf("field %q is listed twice", f)
		}
		seen[f] = struct{}{}
	}
	return nil
}
