// SPDX-License-Identifier: AGPL-3.0-only
package cursor

import (
	"sync"

	"github.com/fluffyriot/fbtracker/internal/domain"
)

type key struct {
	kind domain.SourceKind
	id   string
}

// Tracker maps each (kind, id) source to the continuation token of its next
// page. A missing entry means the source has no more pages.
type Tracker struct {
	mu     sync.RWMutex
	tokens map[key]string
}

func NewTracker() *Tracker {
	return &Tracker{tokens: make(map[key]string)}
}

func (t *Tracker) Get(kind domain.SourceKind, id string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tok, ok := t.tokens[key{kind, id}]
	return tok, ok
}

// Set records the token for a source. An empty token clears it.
func (t *Tracker) Set(kind domain.SourceKind, id, token string) {
	if token == "" {
		t.Clear(kind, id)
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens[key{kind, id}] = token
}

func (t *Tracker) Clear(kind domain.SourceKind, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tokens, key{kind, id})
}

// HasMore reports whether any source still has pages to load.
func (t *Tracker) HasMore() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tokens) > 0
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens = make(map[key]string)
}
