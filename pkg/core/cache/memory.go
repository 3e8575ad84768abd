//
//  Copyright © Manetu Inc. All rights reserved.
//

package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/manetu/toolgate/pkg/core/clock"
	"github.com/manetu/toolgate/pkg/core/types"
)

type memItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-process TTL store.  Expired entries are swept on write.
type MemoryStore struct {
	mu    sync.Mutex
	clock clock.Clock
	items map[string]memItem
}

// NewMemoryStore creates an empty store that reads time from c.
func NewMemoryStore(c clock.Clock) *MemoryStore {
	return &MemoryStore{clock: c, items: map[string]memItem{}}
}

// Get returns the live entry for key.
func (m *MemoryStore) Get(_ context.Context, key string) (*types.Decision, error) {
	m.mu.Lock()
	item, ok := m.items[key]
	m.mu.Unlock()

	if !ok || !m.clock.Now().Before(item.expiresAt) {
		return nil, nil
	}
	return decode(item.value)
}

// Set stores decision until ttl elapses.
func (m *MemoryStore) Set(_ context.Context, key string, decision *types.Decision, ttl time.Duration) error {
	value, err := encode(decision)
	if err != nil {
		return err
	}

	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked(now)
	m.items[key] = memItem{value: value, expiresAt: now.Add(ttl)}
	return nil
}

// InvalidatePrincipal drops every entry for principalID.
func (m *MemoryStore) InvalidatePrincipal(_ context.Context, principalID string) (int, error) {
	prefix := PrincipalPrefix(principalID)

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			delete(m.items, k)
			n++
		}
	}
	return n, nil
}

// Len counts stored entries, including expired ones not yet swept.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *MemoryStore) sweepLocked(now time.Time) {
	for k, v := range m.items {
		if !now.Before(v.expiresAt) {
			delete(m.items, k)
		}
	}
}
