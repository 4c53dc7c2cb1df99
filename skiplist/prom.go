package skiplist

import "github.com/prometheus/client_golang/prometheus"

func newDesc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc("docache_"+name, help, nil, nil)
}

var (
	descInsertRetries  = newDesc("insert_cas_retries_total", "Lost insert CAS races")
	descInsertSuccess  = newDesc("insert_cas_successes_total", "Published nodes")
	descReinserts      = newDesc("reinserts_total", "D-to-value re-insertions")
	descRemovals       = newDesc("removals_total", "Logical deletions")
	descHelpedUnlinks  = newDesc("helped_unlinks_total", "Unlinks completed by mutator traversals")
	descPromoteClaims  = newDesc("promote_claims_total", "Promotion jobs claimed by the worker")
	descUnlinkRetries  = newDesc("unlink_retries_total", "Restarted physical unlinks")
	descRaiseRetries   = newDesc("raise_retries_total", "Restarted promotions")
	descAbandoned      = newDesc("abandoned_total", "Nodes abandoned after exhausted retries")
	descReclaimed      = newDesc("reclaimed_total", "Nodes handed to the epoch reclaimer")
	descCacheHits      = newDesc("cache_hits_total", "Line cache hits")
	descCacheMisses    = newDesc("cache_misses_total", "Line cache misses")
)

// Collector adapts the engine counters to a prometheus.Collector.
type Collector struct {
	s *SkipList
}

// Collector returns a prometheus collector over this engine's metrics.
func (s *SkipList) Collector() Collector { return Collector{s: s} }

var _ prometheus.Collector = Collector{}

// Describe implements prometheus.Collector.
func (c Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descInsertRetries
	ch <- descInsertSuccess
	ch <- descReinserts
	ch <- descRemovals
	ch <- descHelpedUnlinks
	ch <- descPromoteClaims
	ch <- descUnlinkRetries
	ch <- descRaiseRetries
	ch <- descAbandoned
	ch <- descReclaimed
	ch <- descCacheHits
	ch <- descCacheMisses
}

// Collect implements prometheus.Collector.
func (c Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.s.metrics.Snapshot()
	hits, misses := c.s.cache.Stats()

	counter := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v)
	}
	counter(descInsertRetries, float64(st.InsertCASRetries))
	counter(descInsertSuccess, float64(st.InsertCASSuccesses))
	counter(descReinserts, float64(st.Reinserts))
	counter(descRemovals, float64(st.Removals))
	counter(descHelpedUnlinks, float64(st.HelpedUnlinks))
	counter(descPromoteClaims, float64(st.PromoteClaims))
	counter(descUnlinkRetries, float64(st.UnlinkRetries))
	counter(descRaiseRetries, float64(st.RaiseRetries))
	counter(descAbandoned, float64(st.Abandoned))
	counter(descReclaimed, float64(st.Reclaimed))
	counter(descCacheHits, float64(hits))
	counter(descCacheMisses, float64(misses))
}
