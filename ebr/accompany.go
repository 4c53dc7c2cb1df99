package ebr

import (
	"sync"
	"sync/atomic"

	"github.com/EthanLavi/DistributedObjectCache/rmem"
)

// AccompanyPool reclaims a second object family in lockstep with a primary
// pool's epoch. It never advances an epoch of its own: its handles rotate
// whenever they observe the primary's global epoch move, which ties the
// lifetimes of two related node families together (the companion B+-tree
// keeps leaves in a primary pool and internal nodes in an accompanying
// one).
type AccompanyPool struct {
	cap     rmem.Capability
	words   int
	primary *Pool

	mu      sync.Mutex
	threads []*AccompanyHandle
}

// NewAccompanyPool returns a pool of objects of the given word count whose
// reclamation follows primary's epoch.
func NewAccompanyPool(cap rmem.Capability, words int, primary *Pool) *AccompanyPool {
	return &AccompanyPool{cap: cap, words: words, primary: primary}
}

// RegisterThread returns a handle for the calling worker.
func (p *AccompanyPool) RegisterThread() *AccompanyHandle {
	h := &AccompanyHandle{pool: p, limbo: &LimboLists{}}
	h.seenEpoch.Store(p.primary.GlobalEpoch())
	p.mu.Lock()
	p.threads = append(p.threads, h)
	p.mu.Unlock()
	return h
}

// Destroy hands every pooled pointer back to the capability.
func (p *AccompanyPool) Destroy() {
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
		h.free = nil
	}
}

// AccompanyHandle is one thread's view of an AccompanyPool.
type AccompanyHandle struct {
	pool      *AccompanyPool
	seenEpoch atomic.Uint64
	limbo     *LimboLists
	free      []rmem.Ptr
}

// Allocate returns a reclaimed pointer when available, else a fresh one.
func (h *AccompanyHandle) Allocate() rmem.Ptr {
	if n := len(h.free); n > 0 {
		p := h.free[n-1]
		h.free = h.free[:n-1]
		return p
	}
	return h.pool.cap.Allocate(h.pool.words)
}

// Retire schedules p for reclamation on the primary pool's cadence.
func (h *AccompanyHandle) Retire(p rmem.Ptr) { h.limbo.Retire(p) }

// Observe rotates the handle's generations if the primary's epoch has
// advanced since the last call. Call alongside the primary handle's
// MatchVersion.
func (h *AccompanyHandle) Observe() {
	g := h.pool.primary.GlobalEpoch()
	if h.seenEpoch.Load() < g {
		h.seenEpoch.Store(g)
		h.free = append(h.free, h.limbo.rotate()...)
	}
}
