//
//  Copyright © Manetu Inc. All rights reserved.
//

package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/manetu/toolgate/pkg/core/types"
)

// Store is an external decision store.  Get returns (nil, nil) on a miss.
type Store interface {
	Get(ctx context.Context, key string) (*types.Decision, error)
	Set(ctx context.Context, key string, decision *types.Decision, ttl time.Duration) error
}

// Entry is one decision to write with its lifetime.
type Entry struct {
	Key      string
	Decision *types.Decision
	TTL      time.Duration
}

// BatchStore is implemented by stores that can read or write many keys in one round trip.  GetMany returns a
// slice parallel to keys with nil for each miss.
type BatchStore interface {
	GetMany(ctx context.Context, keys []string) ([]*types.Decision, error)
	SetMany(ctx context.Context, entries []Entry) error
}

// Invalidator is implemented by stores that can drop every entry for a principal.
type Invalidator interface {
	InvalidatePrincipal(ctx context.Context, principalID string) (int, error)
}

// Closer is implemented by stores holding connections.
type Closer interface {
	Close() error
}

func encode(d *types.Decision) ([]byte, error) {
	return json.Marshal(d)
}

func decode(data []byte) (*types.Decision, error) {
	d := &types.Decision{}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, err
	}
	return d, nil
}

// NullStore never stores anything.
type NullStore struct{}

// Get always misses.
func (NullStore) Get(context.Context, string) (*types.Decision, error) { return nil, nil }

// Set discards the decision.
func (NullStore) Set(context.Context, string, *types.Decision, time.Duration) error { return nil }
