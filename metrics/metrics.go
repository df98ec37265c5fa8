// Package metrics exposes Prometheus collectors for the buffer pool and
// the extendible hash index. A nil *Collectors is always safe to use: all
// increment methods guard against a nil receiver so instrumentation stays
// fully optional.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors groups the counters this module reports.
type Collectors struct {
	PoolHits      prometheus.Counter
	PoolMisses    prometheus.Counter
	PoolEvictions prometheus.Counter
	PoolFlushes   prometheus.Counter

	HashInserts    prometheus.Counter
	HashDuplicates prometheus.Counter
	HashSplits     prometheus.Counter
	HashMerges     prometheus.Counter
}

// NewCollectors builds and registers the full set of collectors on reg.
func NewCollectors(reg *prometheus.Registry) *Collectors {
	c := &Collectors{
		PoolHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storagecore", Subsystem: "buffer_pool", Name: "hits_total",
			Help: "Page fetches satisfied without evicting a frame.",
		}),
		PoolMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storagecore", Subsystem: "buffer_pool", Name: "misses_total",
			Help: "Page fetches that required selecting a victim frame.",
		}),
		PoolEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storagecore", Subsystem: "buffer_pool", Name: "evictions_total",
			Help: "Frames reclaimed from the replacer (excludes free-list reuse).",
		}),
		PoolFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storagecore", Subsystem: "buffer_pool", Name: "flushes_total",
			Help: "Dirty pages written to disk.",
		}),
		HashInserts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storagecore", Subsystem: "hash_index", Name: "inserts_total",
			Help: "Successful Insert calls.",
		}),
		HashDuplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storagecore", Subsystem: "hash_index", Name: "duplicate_inserts_total",
			Help: "Insert calls rejected as duplicates.",
		}),
		HashSplits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storagecore", Subsystem: "hash_index", Name: "splits_total",
			Help: "Bucket splits performed by SplitInsert.",
		}),
		HashMerges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storagecore", Subsystem: "hash_index", Name: "merges_total",
			Help: "Bucket merges performed by Merge.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			c.PoolHits, c.PoolMisses, c.PoolEvictions, c.PoolFlushes,
			c.HashInserts, c.HashDuplicates, c.HashSplits, c.HashMerges,
		)
	}
	return c
}

// IncPoolHit records a buffer pool fetch that did not require eviction.
func (c *Collectors) IncPoolHit() {
	if c != nil {
		c.PoolHits.Inc()
	}
}

// IncPoolMiss records a buffer pool fetch that selected a victim frame.
func (c *Collectors) IncPoolMiss() {
	if c != nil {
		c.PoolMisses.Inc()
	}
}

// IncPoolEviction records a replacer-sourced eviction (as opposed to a
// free-list reuse).
func (c *Collectors) IncPoolEviction() {
	if c != nil {
		c.PoolEvictions.Inc()
	}
}

// IncPoolFlush records a page write to disk.
func (c *Collectors) IncPoolFlush() {
	if c != nil {
		c.PoolFlushes.Inc()
	}
}

// IncHashInsert records a successful Insert.
func (c *Collectors) IncHashInsert() {
	if c != nil {
		c.HashInserts.Inc()
	}
}

// IncHashDuplicate records a rejected duplicate Insert.
func (c *Collectors) IncHashDuplicate() {
	if c != nil {
		c.HashDuplicates.Inc()
	}
}

// IncHashSplit records a bucket split.
func (c *Collectors) IncHashSplit() {
	if c != nil {
		c.HashSplits.Inc()
	}
}

// IncHashMerge records a bucket merge.
func (c *Collectors) IncHashMerge() {
	if c != nil {
		c.HashMerges.Inc()
	}
}
