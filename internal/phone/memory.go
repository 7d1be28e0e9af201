// SPDX-License-Identifier: AGPL-3.0-only
package phone

import (
	"bytes"
	"context"
	"io"
)

// MemoryIndex holds a whole phone file in a map.
type MemoryIndex struct {
	entries map[string]string
}

// LoadMemoryIndex reads a phone file of at most maxBytes into memory.
func LoadMemoryIndex(r io.Reader, maxBytes int64) (*MemoryIndex, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, ErrFileTooLarge
	}

	idx := &MemoryIndex{entries: make(map[string]string)}
	err = decodeEntries(bytes.NewReader(data), func(userID, phone string) error {
		idx.entries[userID] = phone
		return nil
	})
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func (m *MemoryIndex) Lookup(_ context.Context, userID string) (string, bool, error) {
	phone, ok := m.entries[userID]
	return phone, ok, nil
}

func (m *MemoryIndex) Len() int {
	return len(m.entries)
}

func (m *MemoryIndex) Backend() string {
	return "memory"
}
