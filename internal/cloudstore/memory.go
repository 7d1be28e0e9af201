// SPDX-License-Identifier: AGPL-3.0-only
package cloudstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/fluffyriot/fbtracker/internal/domain"
)

// MemoryStore keeps settings and phone records in process memory. It is
// used when no DATABASE_URL is configured.
type MemoryStore struct {
	mu       sync.Mutex
	settings map[string][]byte
	phones   map[string]map[string]domain.PhoneRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		settings: make(map[string][]byte),
		phones:   make(map[string]map[string]domain.PhoneRecord),
	}
}

func (m *MemoryStore) GetSettings(_ context.Context, userID string) (*Settings, error) {
	m.mu.Lock()
	doc, ok := m.settings[userID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}

	var settings Settings
	if err := json.Unmarshal(doc, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (m *MemoryStore) PutSettings(_ context.Context, userID string, settings *Settings) error {
	doc, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.settings[userID] = doc
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) SavePhoneRecord(_ context.Context, ownerID string, rec domain.PhoneRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phones[ownerID] == nil {
		m.phones[ownerID] = make(map[string]domain.PhoneRecord)
	}
	if _, exists := m.phones[ownerID][rec.UserID]; !exists {
		m.phones[ownerID][rec.UserID] = rec
	}
	return nil
}

func (m *MemoryStore) ListPhoneRecords(_ context.Context, ownerID string) ([]domain.PhoneRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PhoneRecord, 0, len(m.phones[ownerID]))
	for _, r := range m.phones[ownerID] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DiscoveredAt.After(out[j].DiscoveredAt) })
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
