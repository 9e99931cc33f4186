// Package stats aggregates live per-node storage reports into per-pool
// storage aggregates.
package stats

import (
	"context"
	"sync"
	"time"

	"github.com/gftdcojp/storage-tiers/internal/size"
)

// Aggregator returns the live storage aggregate of each named pool. Pools it
// cannot currently account for are left out of the result.
type Aggregator interface {
	AggregateByPool(ctx context.Context, systemID string, poolNames []string) (map[string]size.Storage, error)
}

// Report is one node's storage sample as published by its agent.
type Report struct {
	System  string       `json:"system"`
	Pool    string       `json:"pool"`
	Node    string       `json:"node"`
	Storage size.Storage `json:"storage"`
}

type nodeKey struct {
	system, pool, node string
}

type sample struct {
	storage size.Storage
	at      time.Time
}

// Cache keeps the latest report of every node. A report older than the ttl
// no longer counts toward its pool.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.RWMutex
	nodes map[nodeKey]sample
}

// NewCache creates an empty cache.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:   ttl,
		now:   time.Now,
		nodes: make(map[nodeKey]sample),
	}
}

// Record stores r as the latest sample of its node.
func (c *Cache) Record(r Report) {
	c.mu.Lock()
	c.nodes[nodeKey{r.System, r.Pool, r.Node}] = sample{storage: r.Storage, at: c.now()}
	c.mu.Unlock()
}

// AggregateByPool sums the fresh node samples of each requested pool.
// A pool without any fresh sample is omitted.
func (c *Cache) AggregateByPool(ctx context.Context, systemID string, poolNames []string) (map[string]size.Storage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(poolNames))
	for _, name := range poolNames {
		wanted[name] = true
	}

	cutoff := c.now().Add(-c.ttl)
	byPool := make(map[string][]size.Storage)
	c.mu.RLock()
	for k, s := range c.nodes {
		if k.system != systemID || !wanted[k.pool] || s.at.Before(cutoff) {
			continue
		}
		byPool[k.pool] = append(byPool[k.pool], s.storage)
	}
	c.mu.RUnlock()

	result := make(map[string]size.Storage, len(byPool))
	for pool, items := range byPool {
		st, err := size.ReduceStorage(size.ReduceSum, items, 1, 1)
		if err != nil {
			return nil, err
		}
		result[pool] = st
	}
	return result, nil
}

// Prune drops expired samples and returns how many remain.
func (c *Cache) Prune() int {
	cutoff := c.now().Add(-c.ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, s := range c.nodes {
		if s.at.Before(cutoff) {
			delete(c.nodes, k)
		}
	}
	return len(c.nodes)
}
