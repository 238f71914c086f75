package pipeline

import (
	"fmt"
	"regexp"

	errspkg "github.com/drblury/serialbridge/internal/runtime/errors"
	"github.com/drblury/serialbridge/internal/runtime/logging"
)

// ExclusionFilter discards lines that match any of its patterns.
type ExclusionFilter struct {
	patterns []*regexp.Regexp
	log      logging.ServiceLogger
}

// NewExclusionFilter compiles patterns in order. A pattern that does not
// compile is reported as a ConfigError naming its position.
func NewExclusionFilter(patterns []string, log logging.ServiceLogger) (*ExclusionFilter, error) {
	if log == nil {
		log = logging.NewNop()
	}
	f := &ExclusionFilter{log: log}
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, errspkg.NewConfigError(fmt.Sprintf("exclude[%d]", i), err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

// Matches reports whether any pattern occurs anywhere in line. Patterns are
// tried in configured order and the first hit wins. An empty filter never
// matches.
func (f *ExclusionFilter) Matches(line string) bool {
	if f == nil {
		return false
	}
	for _, re := range f.patterns {
		if re.MatchString(line) {
			f.log.Debug("Line excluded", logging.LogFields{"pattern": re.String()})
			return true
		}
	}
	return false
}

// Patterns returns the source text of each pattern in order.
func (f *ExclusionFilter) Patterns() []string {
	if f == nil {
		return nil
	}
	out := make([]string, len(f.patterns))
	for i, re := range f.patterns {
		out[i] = re.String()
	}
	return out
}
