// Package cache remembers negative lookups for a short while so hot read
// paths can skip the store. Entries are advisory and never consulted by
// writers.
package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

const (
	DefaultTTL = 5 * time.Second

	numCounters = 1e5
	maxCost     = 1e4
	bufferItems = 64
)

var ErrCreate = errors.New("failed to create cache")

type Negative struct {
	cache *ristretto.Cache[string, struct{}]
	ttl   time.Duration
}

// NewNegative returns a cache whose entries expire after ttl. A non-positive
// ttl uses DefaultTTL.
func NewNegative(ttl time.Duration) (*Negative, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c, err := ristretto.NewCache(&ristretto.Config[string, struct{}]{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: bufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreate, err)
	}

	return &Negative{cache: c, ttl: ttl}, nil
}

func (n *Negative) Mark(key string) {
	n.cache.SetWithTTL(key, struct{}{}, 1, n.ttl)
	n.cache.Wait()
}

func (n *Negative) Has(key string) bool {
	_, ok := n.cache.Get(key)

	return ok
}

func (n *Negative) Close() {
	n.cache.Close()
}
