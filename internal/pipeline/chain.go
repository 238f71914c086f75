package pipeline

// Stage transforms a record. Returning false stops the chain and the line
// is dropped as unmatched.
type Stage interface {
	Apply(in Record) (Record, bool)
}

// StageFunc adapts a function to Stage.
type StageFunc func(in Record) (Record, bool)

func (f StageFunc) Apply(in Record) (Record, bool) { return f(in) }

// Chain runs stages in order over a record seeded with the raw line.
type Chain struct {
	stages []Stage
}

// NewChain returns a chain of the given stages.
func NewChain(stages ...Stage) *Chain {
	return &Chain{stages: append([]Stage(nil), stages...)}
}

// Apply seeds the chain with {line: raw} and short-circuits on the first
// stage that fails. An empty chain returns the seed record.
func (c *Chain) Apply(line string) (Record, bool) {
	rec := Record{{Key: LineField, Value: line}}
	for _, s := range c.stages {
		var ok bool
		rec, ok = s.Apply(rec)
		if !ok {
			return nil, false
		}
	}
	return rec, true
}

// Len returns the number of stages.
func (c *Chain) Len() int { return len(c.stages) }

// ExtractStage searches one input field with a rule's pattern and emits a
// record of the rule's fields in order. Captured text is kept verbatim,
// including surrounding whitespace.
type ExtractStage struct {
	Rule  *ExtractionRule
	Input string
}

func (s ExtractStage) Apply(in Record) (Record, bool) {
	input := s.Input
	if input == "" {
		input = LineField
	}
	value, ok := in.Get(input)
	if !ok {
		return nil, false
	}

	m := s.Rule.Pattern.FindStringSubmatch(value)
	if m == nil {
		return nil, false
	}

	out := make(Record, len(s.Rule.Fields))
	for i, name := range s.Rule.Fields {
		out[i] = Field{Key: name, Value: m[i+1]}
	}
	return out, true
}

// SelectStage projects a record onto Fields, in the order given. A missing
// field fails the stage.
type SelectStage struct {
	Fields []string
}

func (s SelectStage) Apply(in Record) (Record, bool) {
	out := make(Record, 0, len(s.Fields))
	for _, name := range s.Fields {
		v, ok := in.Get(name)
		if !ok {
			return nil, false
		}
		out = append(out, Field{Key: name, Value: v})
	}
	return out, true
}

// ChainBuilder composes stages at rule-load time.
type ChainBuilder struct {
	stages []Stage
}

func NewChainBuilder() *ChainBuilder {
	return &ChainBuilder{}
}

// Extract appends an ExtractStage reading the raw line.
func (b *ChainBuilder) Extract(rule *ExtractionRule) *ChainBuilder {
	return b.ExtractFrom(LineField, rule)
}

// ExtractFrom appends an ExtractStage reading the named field.
func (b *ChainBuilder) ExtractFrom(input string, rule *ExtractionRule) *ChainBuilder {
	b.stages = append(b.stages, ExtractStage{Rule: rule, Input: input})
	return b
}

// Select appends a SelectStage.
func (b *ChainBuilder) Select(fields ...string) *ChainBuilder {
	b.stages = append(b.stages, SelectStage{Fields: append([]string(nil), fields...)})
	return b
}

// Stage appends any stage.
func (b *ChainBuilder) Stage(s Stage) *ChainBuilder {
	b.stages = append(b.stages, s)
	return b
}

func (b *ChainBuilder) Build() *Chain {
	return NewChain(b.stages...)
}

// ChainForRule builds the standard chain for a rule: extraction, then the
// rule's projection when it declares one.
func ChainForRule(rule *ExtractionRule) *Chain {
	b := NewChainBuilder().Extract(rule)
	if len(rule.Select) > 0 {
		b.Select(rule.Select...)
	}
	return b.Build()
}
