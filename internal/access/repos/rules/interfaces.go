package rules

// BloomFilter is the minimal interface the store needs from a Bloom filter.
type BloomFilter interface {
	Add(key []byte)
	MightContain(key []byte) bool
}

// BloomFactory builds a filter sized for capacity keys at the target
// false-positive rate.
type BloomFactory interface {
	New(capacity uint64, fpRate float64) BloomFilter
}

// DecisionCache maps a normalized candidate URL to the ID of the first
// matching rule. An empty ID records a known miss.
type DecisionCache interface {
	Get(url string) (ruleID string, ok bool)
	Put(url string, ruleID string)
	Len() int
	Purge()
	Stats() (hits, misses, evictions uint64)
}

// Stats reports lookup pipeline counters for metrics.
type Stats struct {
	Rules        int
	BloomEnabled bool
	BloomRejects uint64
	CacheHits    uint64
	CacheMisses  uint64
	Evictions    uint64
	CacheSize    int
}
