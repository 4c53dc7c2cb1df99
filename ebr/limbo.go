package ebr

import (
	"sync"

	"github.com/EthanLavi/DistributedObjectCache/rmem"
)

// Generations is the number of limbo cohorts a retired pointer passes
// through before it may be reallocated: 0 = active, 1 = cooling,
// 2 = reclaimable on the next rotation.
const Generations = 3

// LimboLists holds one thread's retired pointers, partitioned by
// generation. The owning thread rotates it on epoch advance; the
// maintenance worker may push unlinked nodes onto any thread's
// generation 0, so access is synchronized.
type LimboLists struct {
	mu   sync.Mutex
	gens [Generations][]rmem.Ptr
}

// Push appends p to the given generation.
func (l *LimboLists) Push(gen int, p rmem.Ptr) {
	l.mu.Lock()
	l.gens[gen] = append(l.gens[gen], p)
	l.mu.Unlock()
}

// Retire appends p to generation 0.
func (l *LimboLists) Retire(p rmem.Ptr) { l.Push(0, p) }

// Len returns the number of pointers in the given generation.
func (l *LimboLists) Len(gen int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.gens[gen])
}

// rotate shifts every cohort one generation older and returns the pointers
// that aged out of the last generation.
func (l *LimboLists) rotate() []rmem.Ptr {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.gens[Generations-1]
	for i := Generations - 1; i > 0; i-- {
		l.gens[i] = l.gens[i-1]
	}
	l.gens[0] = nil
	return out
}

// drain empties every generation, oldest first.
func (l *LimboLists) drain() []rmem.Ptr {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []rmem.Ptr
	for i := Generations - 1; i >= 0; i-- {
		out = append(out, l.gens[i]...)
		l.gens[i] = nil
	}
	return out
}
