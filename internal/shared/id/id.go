// Package id provides typed, prefixed ULID generation for the host.
//
// ULIDs are lexicographically sortable, so session and bundle identifiers
// order by creation time in logs without a separate timestamp column. The
// prefix names the namespace (sess_*, bundle_*) which keeps log
// lines readable and prevents one kind of ID being passed where another
// is expected.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionID identifies one execution session (one mount).
type SessionID string

// BundleID identifies a compiled bundle handed to the host.
type BundleID string

const (
	sessionPrefix = "sess"
	bundlePrefix  = "bundle"
)

// Generator generates prefixed ULIDs.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator backed by crypto/rand.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator(rand.Reader)
	})
	return defaultGenerator
}

// NewGenerator creates a generator with the given entropy source.
// Tests may pass a deterministic reader.
func NewGenerator(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewSessionID generates a new session ID.
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(sessionPrefix))
}

// NewBundleID generates a new bundle ID.
func NewBundleID() BundleID {
	return BundleID(Default().GenerateWithPrefix(bundlePrefix))
}

func (i SessionID) String() string { return string(i) }
func (i BundleID) String() string  { return string(i) }

// IsValid checks whether s is a prefixed ULID with the given prefix.
func IsValid(s, prefix string) bool {
	want := prefix + "_"
	if len(s) <= len(want) || s[:len(want)] != want {
		return false
	}
	_, err := ulid.Parse(s[len(want):])
	return err == nil
}
