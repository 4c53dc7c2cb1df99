package skiplist

import (
	"math/bits"
	"runtime"
	"sync/atomic"

	"github.com/sugawarayuuta/sonnet"
)

type metricShard struct {
	insertCASRetries   atomic.Int64
	insertCASSuccesses atomic.Int64
	reinserts          atomic.Int64
	removals           atomic.Int64
	helpedUnlinks      atomic.Int64
	promoteClaims      atomic.Int64
	unlinkRetries      atomic.Int64
	raiseRetries       atomic.Int64
	abandoned          atomic.Int64
	reclaimed          atomic.Int64
	// Pad to cache line size to prevent false sharing.
	_ [48]byte
}

// Metrics counts engine events across shards so hot paths touch disjoint
// cache lines.
type Metrics struct {
	shards []metricShard
	mask   uint32
	rng    *rng
}

func newMetrics(rng *rng) *Metrics {
	shardCount := 1
	if rng != nil {
		shardCount = runtime.GOMAXPROCS(0)
		if shardCount < 1 {
			shardCount = 1
		}
		shardCount = nextPowerOfTwo(shardCount)
	}
	return &Metrics{
		shards: make([]metricShard, shardCount),
		mask:   uint32(shardCount - 1),
		rng:    rng,
	}
}

func nextPowerOfTwo(v int) int {
	if v <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(v-1))
}

func (m *Metrics) shard() *metricShard {
	if len(m.shards) == 1 || m.rng == nil {
		return &m.shards[0]
	}
	idx := uint32(m.rng.next()) & m.mask
	return &m.shards[idx]
}

func (m *Metrics) incInsertCASRetry() { m.shard().insertCASRetries.Add(1) }
func (m *Metrics) incInsertSuccess()  { m.shard().insertCASSuccesses.Add(1) }
func (m *Metrics) incReinsert()       { m.shard().reinserts.Add(1) }
func (m *Metrics) incRemoval()        { m.shard().removals.Add(1) }
func (m *Metrics) incHelpedUnlink()   { m.shard().helpedUnlinks.Add(1) }
func (m *Metrics) incPromoteClaim()   { m.shard().promoteClaims.Add(1) }
func (m *Metrics) incUnlinkRetry()    { m.shard().unlinkRetries.Add(1) }
func (m *Metrics) incRaiseRetry()     { m.shard().raiseRetries.Add(1) }
func (m *Metrics) incAbandoned()      { m.shard().abandoned.Add(1) }
func (m *Metrics) incReclaimed()      { m.shard().reclaimed.Add(1) }

// Stats is a point-in-time aggregation of the engine counters.
type Stats struct {
	InsertCASRetries   int64  `json:"insert_cas_retries"`
	InsertCASSuccesses int64  `json:"insert_cas_successes"`
	Reinserts          int64  `json:"reinserts"`
	Removals           int64  `json:"removals"`
	HelpedUnlinks      int64  `json:"helped_unlinks"`
	PromoteClaims      int64  `json:"promote_claims"`
	UnlinkRetries      int64  `json:"unlink_retries"`
	RaiseRetries       int64  `json:"raise_retries"`
	Abandoned          int64  `json:"abandoned"`
	Reclaimed          int64  `json:"reclaimed"`
	CacheHits          uint64 `json:"cache_hits"`
	CacheMisses        uint64 `json:"cache_misses"`
}

// Snapshot sums every shard.
func (m *Metrics) Snapshot() Stats {
	var s Stats
	for i := range m.shards {
		sh := &m.shards[i]
		s.InsertCASRetries += sh.insertCASRetries.Load()
		s.InsertCASSuccesses += sh.insertCASSuccesses.Load()
		s.Reinserts += sh.reinserts.Load()
		s.Removals += sh.removals.Load()
		s.HelpedUnlinks += sh.helpedUnlinks.Load()
		s.PromoteClaims += sh.promoteClaims.Load()
		s.UnlinkRetries += sh.unlinkRetries.Load()
		s.RaiseRetries += sh.raiseRetries.Load()
		s.Abandoned += sh.abandoned.Load()
		s.Reclaimed += sh.reclaimed.Load()
	}
	return s
}

// Metrics returns the engine's counters.
func (s *SkipList) Metrics() *Metrics { return s.metrics }

// StatsJSON renders a snapshot of the engine counters, including the cache
// hit and miss counts, as JSON.
func (s *SkipList) StatsJSON() ([]byte, error) {
	st := s.metrics.Snapshot()
	st.CacheHits, st.CacheMisses = s.cache.Stats()
	return sonnet.Marshal(st)
}
