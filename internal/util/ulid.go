package util

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// one monotonic source so ids minted in the same millisecond still sort in order
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New generates a new ULID string.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewRef returns a lowercase ULID with the given prefix, e.g. "cash_01hx...".
func NewRef(prefix string) string {
	id := strings.ToLower(New())
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
