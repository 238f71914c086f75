// Package ids generates the ULIDs that name published messages and stored
// documents. A ULID carries its creation time in milliseconds, so a message id
// also records when its line was read.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// At returns a ULID string stamped with t. Ids made within the same
// millisecond still sort in call order.
func At(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// CreateULID returns a ULID stamped with the current time.
func CreateULID() string {
	return At(time.Now())
}

// Time returns the timestamp encoded in id. Ids that are not ULIDs, such as
// the UUIDs some brokers assign, return an error.
func Time(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
