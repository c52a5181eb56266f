package domain

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID prefixes. IDs are {prefix}{ulid_lowercase} and sort by creation time.
const (
	ImageIDPrefix = "img-"
	RunIDPrefix   = "run-"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newID(prefix string, t time.Time) (string, error) {
	entropyMu.Lock()
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	entropyMu.Unlock()
	if err != nil {
		return "", err
	}
	return prefix + strings.ToLower(id.String()), nil
}

// NewImageID generates a checkpoint image ID.
func NewImageID() (string, error) {
	return newID(ImageIDPrefix, time.Now())
}

// NewRunID generates a run ID for the journal and log context.
func NewRunID() (string, error) {
	return newID(RunIDPrefix, time.Now())
}

// IDTime returns the creation time encoded in an ID produced by this package.
func IDTime(id string) (time.Time, bool) {
	raw := strings.TrimPrefix(strings.TrimPrefix(id, ImageIDPrefix), RunIDPrefix)
	u, err := ulid.ParseStrict(strings.ToUpper(raw))
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()), true
}

// ValidImageID reports whether id has the image ID format.
func ValidImageID(id string) bool {
	if !strings.HasPrefix(id, ImageIDPrefix) {
		return false
	}
	_, ok := IDTime(id)
	return ok
}
