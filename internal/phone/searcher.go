// SPDX-License-Identifier: AGPL-3.0-only
package phone

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/fluffyriot/fbtracker/internal/domain"
	"github.com/fluffyriot/fbtracker/internal/metrics"
	log "github.com/sirupsen/logrus"
)

var (
	ErrSearchInProgress = errors.New("a lookup for this user is already running")
	ErrNoIndex          = errors.New("no phone file has been loaded")
	ErrEmptyUserID      = errors.New("user id is required")
)

// RecordStore persists phone records found by a Searcher.
type RecordStore interface {
	SavePhoneRecord(ctx context.Context, ownerID string, rec domain.PhoneRecord) error
}

// Searcher looks up phone numbers for one owner. Results are cached until the
// index changes and concurrent lookups of the same user id are rejected.
type Searcher struct {
	store   RecordStore
	ownerID string
	now     func() time.Time

	mu        sync.Mutex
	index     Index
	source    string
	found     map[string]domain.PhoneRecord
	missing   map[string]bool
	searching map[string]bool
}

func NewSearcher(store RecordStore, ownerID string) *Searcher {
	return &Searcher{
		store:     store,
		ownerID:   ownerID,
		now:       time.Now,
		found:     make(map[string]domain.PhoneRecord),
		missing:   make(map[string]bool),
		searching: make(map[string]bool),
	}
}

// SetIndex swaps the backing index. source names the file it came from and
// is recorded on every record found through it.
func (s *Searcher) SetIndex(idx Index, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = idx
	s.source = source
	s.found = make(map[string]domain.PhoneRecord)
	s.missing = make(map[string]bool)
}

func (s *Searcher) HasIndex() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index != nil
}

// Search returns the phone record for userID. The bool is false when the
// index has no entry for it.
func (s *Searcher) Search(ctx context.Context, userID string) (*domain.PhoneRecord, bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, false, ErrEmptyUserID
	}

	s.mu.Lock()
	if rec, ok := s.found[userID]; ok {
		s.mu.Unlock()
		return &rec, true, nil
	}
	if s.missing[userID] {
		s.mu.Unlock()
		return nil, false, nil
	}
	if s.index == nil {
		s.mu.Unlock()
		return nil, false, ErrNoIndex
	}
	if s.searching[userID] {
		s.mu.Unlock()
		return nil, false, ErrSearchInProgress
	}
	s.searching[userID] = true
	idx, source := s.index, s.source
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.searching, userID)
		s.mu.Unlock()
	}()

	phone, ok, err := idx.Lookup(ctx, userID)
	if err != nil {
		metrics.PhoneLookups.WithLabelValues(idx.Backend(), "error").Inc()
		return nil, false, err
	}

	if !ok {
		metrics.PhoneLookups.WithLabelValues(idx.Backend(), "miss").Inc()
		s.mu.Lock()
		if s.index == idx {
			s.missing[userID] = true
		}
		s.mu.Unlock()
		return nil, false, nil
	}
	metrics.PhoneLookups.WithLabelValues(idx.Backend(), "hit").Inc()

	rec := domain.PhoneRecord{
		UserID:       userID,
		Phone:        phone,
		Source:       source,
		DiscoveredAt: s.now().UTC(),
	}

	s.mu.Lock()
	if s.index == idx {
		s.found[userID] = rec
	}
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SavePhoneRecord(ctx, s.ownerID, rec); err != nil {
			log.WithFields(log.Fields{"owner": s.ownerID, "user": userID}).Warnf("Phone: Failed to persist record: %v", err)
		}
	}

	return &rec, true, nil
}

// Cached returns every record found since the index was last set.
func (s *Searcher) Cached() []domain.PhoneRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PhoneRecord, 0, len(s.found))
	for _, rec := range s.found {
		out = append(out, rec)
	}
	return out
}
