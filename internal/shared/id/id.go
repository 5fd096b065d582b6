// Package id generates the sortable identifiers used in logs and API
// responses.
//
// IDs are ULIDs behind a short type prefix, so an id seen in a log line
// tells you both what it names and roughly when it was minted.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// RequestID identifies one API request.
type RequestID string

// SessionID identifies one scraper identity: a user agent, cookie jar and
// cipher order that live until the next session refresh.
type SessionID string

const (
	RequestPrefix = "req"
	SessionPrefix = "ses"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
	now       func() time.Time
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(rand.Reader)
}

// NewGeneratorWithEntropy creates a generator with custom entropy source.
// Monotonic entropy keeps ids minted in the same millisecond ordered.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: ulid.Monotonic(entropy, 0),
		now:     time.Now,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// NewSessionID generates a new session ID
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

func (id RequestID) String() string { return string(id) }
func (id SessionID) String() string { return string(id) }

// IsValid reports whether id is a ULID, with or without a type prefix.
func IsValid(id string) bool {
	_, err := ulid.Parse(strip(id))
	return err == nil
}

// Timestamp extracts the time an id was minted.
func Timestamp(id string) (time.Time, error) {
	parsed, err := ulid.Parse(strip(id))
	if err != nil {
		return time.Time{}, fmt.Errorf("id: %w", err)
	}
	return ulid.Time(parsed.Time()), nil
}

func strip(id string) string {
	if _, rest, ok := strings.Cut(id, "_"); ok {
		return rest
	}
	return id
}
