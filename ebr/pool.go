// Package ebr implements epoch-based reclamation for remote nodes. Removed
// nodes sit in per-thread limbo lists for at least two epoch advances
// before reuse, which bounds the lifetime of any snapshot borrowed by a
// concurrent reader: a reader publishes its epoch exactly once per
// top-level operation, so once every thread has observed two advances no
// reader can still dereference the node.
package ebr

import (
	"sync"
	"sync/atomic"

	"github.com/EthanLavi/DistributedObjectCache/rmem"
)

// Pool allocates and reclaims fixed-size remote objects for the threads of
// one process. Allocation prefers reclaimed pointers over the capability.
type Pool struct {
	cap   rmem.Capability
	words int

	globalEpoch atomic.Uint64

	mu      sync.Mutex
	threads []*Handle
}

// NewPool returns a pool of objects of the given word count.
func NewPool(cap rmem.Capability, words int) *Pool {
	return &Pool{cap: cap, words: words}
}

// ObjectWords returns the per-object word count.
func (p *Pool) ObjectWords() int { return p.words }

// GlobalEpoch returns the current global epoch.
func (p *Pool) GlobalEpoch() uint64 { return p.globalEpoch.Load() }

// RegisterThread adds the calling worker to the epoch roster and returns
// its handle. Every goroutine performing operations must register exactly
// once and use only its own handle.
func (p *Pool) RegisterThread() *Handle {
	h := &Handle{pool: p, limbo: &LimboLists{}}
	h.localEpoch.Store(p.globalEpoch.Load())
	p.mu.Lock()
	p.threads = append(p.threads, h)
	p.mu.Unlock()
	return h
}

// Limbos returns every registered thread's limbo handle, in registration
// order. The maintenance worker distributes unlinked nodes across them.
func (p *Pool) Limbos() []*LimboLists {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*LimboLists, len(p.threads))
	for i, h := range p.threads {
		out[i] = h.limbo
	}
	return out
}

// tryAdvance moves the global epoch forward once all registered threads
// have observed it. Any thread noticing the condition is the coordinator.
func (p *Pool) tryAdvance() {
	g := p.globalEpoch.Load()
	p.mu.Lock()
	threads := p.threads
	p.mu.Unlock()
	for _, h := range threads {
		if h.localEpoch.Load() < g {
			return
		}
	}
	p.globalEpoch.CompareAndSwap(g, g+1)
}

// Destroy hands every pooled pointer back to the capability. Quiescent
// only: no operation may be in flight.
func (p *Pool) Destroy() {
	p.mu.Lock()
	threads := p.threads
	p.threads = nil
	p.mu.Unlock()
	for _, h := range threads {
		for _, ptr := range h.limbo.drain() {
			p.cap.Deallocate(ptr, p.words)
		}
		for _, ptr := range h.free {
			p.cap.Deallocate(ptr, p.words)
		}
		for _, ptr := range h.requeued {
			p.cap.Deallocate(ptr, p.words)
		}
		h.free, h.requeued = nil, nil
	}
}

// Handle is one thread's view of the pool. Not safe for concurrent use;
// the limbo list inside it is (the worker pushes into it).
type Handle struct {
	pool       *Pool
	localEpoch atomic.Uint64
	limbo      *LimboLists
	free       []rmem.Ptr
	requeued   []rmem.Ptr
}

// Limbo returns this thread's limbo handle.
func (h *Handle) Limbo() *LimboLists { return h.limbo }

// Allocate returns a node pointer: a reclaimed one when available, else a
// requeued one, else a fresh allocation from the capability.
func (h *Handle) Allocate() rmem.Ptr {
	if n := len(h.free); n > 0 {
		p := h.free[n-1]
		h.free = h.free[:n-1]
		return p
	}
	if n := len(h.requeued); n > 0 {
		p := h.requeued[n-1]
		h.requeued = h.requeued[:n-1]
		return p
	}
	return h.pool.cap.Allocate(h.pool.words)
}

// Retire schedules p for reclamation. Call at most once per pointer per
// lifecycle; p must already be unreachable from the structure.
func (h *Handle) Retire(p rmem.Ptr) { h.limbo.Retire(p) }

// Requeue returns a just-allocated, never-published pointer to the free
// pool. Used when a speculative insert loses its CAS: no reader can have
// seen the node, so it is immediately reusable.
func (h *Handle) Requeue(p rmem.Ptr) { h.requeued = append(h.requeued, p) }

// MatchVersion publishes that the caller finished a top-level operation:
// it catches the local epoch up to the global one, rotating the caller's
// generations when it was behind, then offers to coordinate an advance.
// With urgent set the caller also observes an advance it just coordinated
// instead of waiting for its next call; the maintenance worker uses this
// to drain its cohorts one sweep sooner.
func (h *Handle) MatchVersion(urgent bool) {
	h.observe()
	h.pool.tryAdvance()
	if urgent {
		h.observe()
	}
}

// observe catches up with the global epoch, aging the caller's cohorts
// once per advance seen.
func (h *Handle) observe() {
	g := h.pool.globalEpoch.Load()
	if h.localEpoch.Load() < g {
		h.localEpoch.Store(g)
		h.free = append(h.free, h.limbo.rotate()...)
	}
}
