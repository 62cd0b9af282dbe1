package lru

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/gracegate/internal/access/repos/rules"
)

// decisionCache is an LRU-backed rules.DecisionCache with hit, miss and
// eviction counters.
type decisionCache struct {
	lru       *lru.Cache[string, string]
	hits      uint64
	misses    uint64
	evictions uint64
}

// disabledCache always misses. Used when size <= 0.
type disabledCache struct{}

// New creates a DecisionCache holding up to size URLs, or a disabled one
// when size <= 0.
func New(size int) (rules.DecisionCache, error) {
	if size <= 0 {
		return disabledCache{}, nil
	}
	var dc decisionCache
	cache, err := lru.NewWithEvict(size, func(string, string) {
		atomic.AddUint64(&dc.evictions, 1)
	})
	if err != nil {
		return nil, err
	}
	dc.lru = cache
	return &dc, nil
}

func (c *decisionCache) Get(url string) (string, bool) {
	if id, ok := c.lru.Get(url); ok {
		atomic.AddUint64(&c.hits, 1)
		return id, true
	}
	atomic.AddUint64(&c.misses, 1)
	return "", false
}

func (c *decisionCache) Put(url, ruleID string) { c.lru.Add(url, ruleID) }

func (c *decisionCache) Len() int { return c.lru.Len() }

// Purge drops every entry; each one counts as an eviction.
func (c *decisionCache) Purge() { c.lru.Purge() }

func (c *decisionCache) Stats() (hits, misses, evictions uint64) {
	return atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses), atomic.LoadUint64(&c.evictions)
}

func (disabledCache) Get(string) (string, bool)       { return "", false }
func (disabledCache) Put(string, string)              {}
func (disabledCache) Len() int                        { return 0 }
func (disabledCache) Purge()                          {}
func (disabledCache) Stats() (uint64, uint64, uint64) { return 0, 0, 0 }

var _ rules.DecisionCache = (*decisionCache)(nil)
var _ rules.DecisionCache = disabledCache{}
