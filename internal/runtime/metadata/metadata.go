// Package metadata names the headers the publishing side attaches to every
// record. Subscribers route on KeyTopic when a transport reports it and fall
// back to the subscription's topic otherwise.
package metadata

import "time"

// Metadata represents the headers carried alongside a published record.
type Metadata map[string]string

const (
	// KeyMessageID carries the message id on transports without a native one.
	KeyMessageID   = "serialbridge_id"
	KeyRule        = "serialbridge_rule"
	KeyTopic       = "serialbridge_topic"
	KeyContentType = "serialbridge_content_type"
	KeyReadAt      = "serialbridge_read_at"
)

// ContentTypeJSON is the content type of every published record.
const ContentTypeJSON = "application/json"

// ForRecord returns the headers of a record extracted by rule from a line read
// at readAt and published to topic.
func ForRecord(rule, topic string, readAt time.Time) Metadata {
	return Metadata{
		KeyRule:        rule,
		KeyTopic:       topic,
		KeyContentType: ContentTypeJSON,
		KeyReadAt:      readAt.UTC().Format(time.RFC3339Nano),
	}
}

// Rule returns the extraction rule name, empty when absent.
func (m Metadata) Rule() string { return m[KeyRule] }

// ReadAt parses the read time. Messages from other producers usually lack it.
func (m Metadata) ReadAt() (time.Time, bool) {
	raw, ok := m[KeyReadAt]
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
