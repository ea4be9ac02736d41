// Package ids issues sortable identifiers for streams and requests.
package ids

import (
	"crypto/rand"
	"io"
	"sync"

	"github.com/oklog/ulid/v2"
)

// One monotonic source for the process, so ids issued within the same
// millisecond still sort in issue order. ulid.MonotonicEntropy is not safe
// for concurrent use.
var (
	mu      sync.Mutex
	entropy io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// New returns a ULID string for the current time. Ids from one process are
// strictly increasing.
func New() (string, error) {
	mu.Lock()
	defer mu.Unlock()
	id, err := ulid.New(ulid.Now(), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
