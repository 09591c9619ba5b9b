// Package artifactstore persists finished clips under opaque keys and
// issues time-bounded retrieval references. Keys are write-once: a given
// key is produced by exactly one job.
package artifactstore

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// tokenTable backs retrieval references for stores that cannot presign
// (memory, local). A token maps to a key until it expires; expired entries
// are dropped lazily on lookup.
type tokenTable struct {
	mu     sync.Mutex
	tokens map[string]tokenEntry
	now    func() time.Time
}

type tokenEntry struct {
	key       string
	expiresAt time.Time
}

func newTokenTable() *tokenTable {
	return &tokenTable{
		tokens: make(map[string]tokenEntry),
		now:    time.Now,
	}
}

func (t *tokenTable) issue(key string, ttl time.Duration) (string, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	token := uuid.NewString()
	expiresAt := t.now().Add(ttl)
	t.tokens[token] = tokenEntry{key: key, expiresAt: expiresAt}
	return token, expiresAt
}

func (t *tokenTable) resolve(token string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.tokens[token]
	if !ok {
		return "", false
	}
	if t.now().After(e.expiresAt) {
		delete(t.tokens, token)
		return "", false
	}
	return e.key, true
}

func (t *tokenTable) revokeKey(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for token, e := range t.tokens {
		if e.key == key {
			delete(t.tokens, token)
		}
	}
}
