// Package routing maps the topic a message arrived on to the store and
// collection it is written to.
package routing

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/drblury/serialbridge/internal/pipeline"
	errspkg "github.com/drblury/serialbridge/internal/runtime/errors"
	"github.com/drblury/serialbridge/internal/runtime/jsoncodec"
	"github.com/drblury/serialbridge/internal/runtime/logging"
)

// DuplicatePolicy decides what happens when a topic is bound more than once.
type DuplicatePolicy string

const (
	// DuplicatesWarn keeps the later binding and logs a warning.
	DuplicatesWarn DuplicatePolicy = "warn"
	// DuplicatesReject fails the load.
	DuplicatesReject DuplicatePolicy = "reject"
)

// Destination names a collection inside a document store.
type Destination struct {
	Store      string
	Collection string
}

func (d Destination) String() string {
	return d.Store + "." + d.Collection
}

// ParseDestination splits dst on its first dot. Both halves are required;
// any further dots stay in the collection name.
func ParseDestination(dst string) (Destination, error) {
	store, collection, ok := strings.Cut(dst, ".")
	if !ok || store == "" || collection == "" {
		return Destination{}, fmt.Errorf("%w: %q", errspkg.ErrInvalidDestination, dst)
	}
	return Destination{Store: store, Collection: collection}, nil
}

// Binding associates a topic with a destination.
type Binding struct {
	Topic       string
	Destination Destination
}

type bindingDocument struct {
	Src string `json:"src" yaml:"src"`
	Dst string `json:"dst" yaml:"dst"`
}

// Table resolves topics to destinations. It is read-only after construction.
type Table struct {
	order  []string
	routes map[string]Destination
	policy DuplicatePolicy
}

// NewTable builds a table from bindings in declaration order. A topic bound
// twice keeps its first position in Topics and, under DuplicatesWarn, the
// destination of its last binding.
func NewTable(bindings []Binding, policy DuplicatePolicy, log logging.ServiceLogger) (*Table, error) {
	if policy == "" {
		policy = DuplicatesWarn
	}
	if policy != DuplicatesWarn && policy != DuplicatesReject {
		return nil, errspkg.NewConfigError("subscribe.duplicates", fmt.Errorf("unknown policy %q", policy))
	}
	if log == nil {
		log = logging.NewNop()
	}

	t := &Table{routes: make(map[string]Destination, len(bindings)), policy: policy}
	for i, b := range bindings {
		key := fmt.Sprintf("bindings[%d]", i)
		if b.Topic == "" {
			return nil, errspkg.NewConfigError(key, errspkg.ErrTopicRequired)
		}
		if b.Destination.Store == "" || b.Destination.Collection == "" {
			return nil, errspkg.NewConfigError(key, fmt.Errorf("%w: %q", errspkg.ErrInvalidDestination, b.Destination))
		}
		if prev, dup := t.routes[b.Topic]; dup {
			if policy == DuplicatesReject {
				return nil, errspkg.NewConfigError(key, fmt.Errorf("%w: %q", errspkg.ErrDuplicateBinding, b.Topic))
			}
			log.Warn("Duplicate topic binding, later binding wins", logging.LogFields{
				"topic":    b.Topic,
				"previous": prev.String(),
				"current":  b.Destination.String(),
			})
		} else {
			t.order = append(t.order, b.Topic)
		}
		t.routes[b.Topic] = b.Destination
	}
	return t, nil
}

// Resolve returns the destination bound to topic.
func (t *Table) Resolve(topic string) (Destination, bool) {
	d, ok := t.routes[topic]
	return d, ok
}

// Topics returns every bound topic in declaration order.
func (t *Table) Topics() []string {
	return append([]string(nil), t.order...)
}

// Subscriptions returns the bound topics that need a subscription of their
// own on a broker that renames topics with mapper. Topics whose broker name
// matches an earlier topic's are duplicates: under DuplicatesReject they fail
// with ErrDuplicateBinding, otherwise they are logged and share the earlier
// subscription. A nil mapper keeps every topic.
func (t *Table) Subscriptions(mapper func(string) string, log logging.ServiceLogger) ([]string, error) {
	if mapper == nil {
		return t.Topics(), nil
	}
	if log == nil {
		log = logging.NewNop()
	}

	seen := make(map[string]string, len(t.order))
	topics := make([]string, 0, len(t.order))
	for _, topic := range t.order {
		name := mapper(topic)
		first, dup := seen[name]
		if !dup {
			seen[name] = topic
			topics = append(topics, topic)
			continue
		}
		if t.policy == DuplicatesReject {
			return nil, errspkg.NewConfigError("subscribe.list",
				fmt.Errorf("%w: %q and %q both subscribe to %q", errspkg.ErrDuplicateBinding, first, topic, name))
		}
		log.Warn("Topics share a broker subscription", logging.LogFields{
			"topic":        topic,
			"shared_with":  first,
			"broker_topic": name,
		})
	}
	return topics, nil
}

// Len returns the number of distinct bound topics.
func (t *Table) Len() int { return len(t.order) }

// ParseBindings decodes a [{src, dst}] document.
func ParseBindings(r io.Reader, format pipeline.Format) ([]Binding, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errspkg.NewConfigError("bindings", err)
	}

	var docs []bindingDocument
	switch format {
	case pipeline.FormatYAML:
		err = yaml.Unmarshal(data, &docs)
	case pipeline.FormatJSON:
		err = jsoncodec.Unmarshal(data, &docs)
	default:
		err = fmt.Errorf("unsupported binding format %q", format)
	}
	if err != nil {
		return nil, errspkg.NewConfigError("bindings", err)
	}

	bindings := make([]Binding, 0, len(docs))
	for i, doc := range docs {
		key := fmt.Sprintf("bindings[%d]", i)
		if doc.Src == "" {
			return nil, errspkg.NewConfigError(key, errspkg.ErrTopicRequired)
		}
		dst, err := ParseDestination(doc.Dst)
		if err != nil {
			return nil, errspkg.NewConfigError(key, err)
		}
		bindings = append(bindings, Binding{Topic: doc.Src, Destination: dst})
	}
	return bindings, nil
}

// Load parses a binding document and builds its table.
func Load(r io.Reader, format pipeline.Format, policy DuplicatePolicy, log logging.ServiceLogger) (*Table, error) {
	bindings, err := ParseBindings(r, format)
	if err != nil {
		return nil, err
	}
	return NewTable(bindings, policy, log)
}

// LoadFile loads the binding table at path. The format follows the file
// extension.
func LoadFile(path string, policy DuplicatePolicy, log logging.ServiceLogger) (*Table, error) {
	format, err := pipeline.FormatForPath(path)
	if err != nil {
		return nil, errspkg.NewConfigError("bindings", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errspkg.NewConfigError("bindings", err)
	}
	defer f.Close()
	return Load(f, format, policy, log)
}
