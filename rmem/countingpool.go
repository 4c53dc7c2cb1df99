package rmem

import (
	"sync"

	"github.com/zeebo/errs"
)

// Arena is the shared word store behind the in-process capability mock.
// Several CountingPools with distinct process ids can be derived from one
// Arena, which is how tests model multiple processes sharing a region.
//
// Allocation is a bump allocator over a flat slice; freed regions are not
// recycled, which keeps double-free detection exact. Reads, writes and
// CASes are not checked against the live set, so a use after free is not
// detected.
type Arena struct {
	mu    sync.Mutex
	words []uint64
	next  uint64
	live  map[uint64]int // base address -> words
	freed map[uint64]int

	allocations   int
	deallocations int
}

const arenaAlign = 8 // bytes per word; addresses stay 8-aligned

// NewArena returns an empty shared arena.
func NewArena() *Arena {
	return &Arena{
		// Address 0 is reserved so that Null never aliases an allocation.
		next:  arenaAlign,
		live:  make(map[uint64]int),
		freed: make(map[uint64]int),
	}
}

// Pool derives a capability view of the arena for the given process id.
func (a *Arena) Pool(id uint16) *CountingPool {
	return &CountingPool{arena: a, id: id}
}

// HasNoLeaks reports whether every allocation has been deallocated.
func (a *Arena) HasNoLeaks() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live) == 0
}

// Stats returns the allocation and deallocation totals.
func (a *Arena) Stats() (allocs, frees int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocations, a.deallocations
}

func (a *Arena) index(p Ptr, words int) uint64 {
	if p.Canonical() == Null {
		panic(errs.New("arena: access through null pointer"))
	}
	addr := p.Addr()
	idx := addr / arenaAlign
	if idx+uint64(words) > uint64(len(a.words)) {
		panic(errs.New("arena: access past end of region at %s", p))
	}
	return idx
}

// CountingPool is a Capability over a shared Arena. It is "counting" in the
// faux-memory sense: it tracks every allocation so tests can assert leak
// freedom, and it treats double frees and wrong-size frees as fatal.
type CountingPool struct {
	arena *Arena
	id    uint16
}

var _ Capability = (*CountingPool)(nil)

func (c *CountingPool) ID() uint16 { return c.id }

func (c *CountingPool) Allocate(words int) Ptr {
	a := c.arena
	a.mu.Lock()
	defer a.mu.Unlock()

	// Keep every object on its own cache line so the head pointer array
	// alignment promise holds for any caller.
	const lineWords = 8
	if rem := a.next / arenaAlign % lineWords; rem != 0 {
		a.next += (lineWords - rem) * arenaAlign
	}

	addr := a.next
	need := addr/arenaAlign + uint64(words)
	for uint64(len(a.words)) < need {
		a.words = append(a.words, make([]uint64, 1024)...)
	}
	a.next += uint64(words) * arenaAlign
	a.live[addr] = words
	a.allocations++
	return New(c.id, addr)
}

func (c *CountingPool) Deallocate(p Ptr, words int) {
	a := c.arena
	a.mu.Lock()
	defer a.mu.Unlock()

	addr := p.Canonical().Addr()
	size, ok := a.live[addr]
	if !ok {
		if _, was := a.freed[addr]; was {
			panic(errs.New("arena: double free at %s", p))
		}
		panic(errs.New("arena: free of unknown address %s", p))
	}
	if size != words {
		panic(errs.New("arena: free at %s with wrong size (live=%d freed=%d)", p, size, words))
	}
	delete(a.live, addr)
	a.freed[addr] = words
	a.deallocations++
}

func (c *CountingPool) Read(p Ptr, dst []uint64) {
	a := c.arena
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := a.index(p, len(dst))
	copy(dst, a.words[idx:idx+uint64(len(dst))])
}

func (c *CountingPool) Write(p Ptr, src []uint64) {
	a := c.arena
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := a.index(p, len(src))
	copy(a.words[idx:idx+uint64(len(src))], src)
}

func (c *CountingPool) CompareAndSwap(p Ptr, expected, swap uint64) uint64 {
	a := c.arena
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := a.index(p, 1)
	prev := a.words[idx]
	if prev == expected {
		a.words[idx] = swap
	}
	return prev
}

func (c *CountingPool) IsLocal(p Ptr) bool { return p.ID() == c.id }
