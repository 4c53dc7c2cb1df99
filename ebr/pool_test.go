package ebr

import (
	"testing"

	"github.com/EthanLavi/DistributedObjectCache/rmem"
)

func newPool(t *testing.T) (*rmem.Arena, *Pool) {
	t.Helper()
	arena := rmem.NewArena()
	return arena, NewPool(arena.Pool(1), 4)
}

func TestAllocatePrefersRequeued(t *testing.T) {
	arena, pool := newPool(t)
	h := pool.RegisterThread()

	p := h.Allocate()
	h.Requeue(p)
	if again := h.Allocate(); again != p {
		t.Fatalf("requeued pointer not reused: %v then %v", p, again)
	}

	h.Requeue(p)
	pool.Destroy()
	if !arena.HasNoLeaks() {
		t.Fatal("requeued pointer leaked on destroy")
	}
}

func TestRetireIsNotImmediatelyReusable(t *testing.T) {
	_, pool := newPool(t)
	h := pool.RegisterThread()

	p := h.Allocate()
	h.Retire(p)

	// One observation is never enough: the cohort must age through every
	// generation.
	h.MatchVersion(false)
	if got := h.Allocate(); got == p {
		t.Fatal("retired pointer reused after a single epoch observation")
	}
}

func TestRetiredPointerAgesThroughGenerations(t *testing.T) {
	_, pool := newPool(t)
	h := pool.RegisterThread()

	p := h.Allocate()
	h.Retire(p)

	for i := 0; i < Generations+1; i++ {
		h.MatchVersion(true)
	}

	seen := false
	for i := 0; i < 4; i++ {
		if h.Allocate() == p {
			seen = true
			break
		}
	}
	if !seen {
		t.Fatal("retired pointer never became allocatable after full aging")
	}
}

func TestAdvanceWaitsForSlowThreads(t *testing.T) {
	_, pool := newPool(t)
	fast := pool.RegisterThread()
	slow := pool.RegisterThread()

	start := pool.GlobalEpoch()
	for i := 0; i < 10; i++ {
		fast.MatchVersion(true)
	}
	afterFast := pool.GlobalEpoch()
	if afterFast > start+1 {
		t.Fatalf("epoch advanced %d times without the slow thread", afterFast-start)
	}

	slow.MatchVersion(true)
	fast.MatchVersion(true)
	if pool.GlobalEpoch() <= afterFast {
		t.Fatal("epoch did not advance once both threads observed it")
	}
}

func TestWorkerPushesIntoForeignLimbo(t *testing.T) {
	_, pool := newPool(t)
	a := pool.RegisterThread()
	b := pool.RegisterThread()

	limbos := pool.Limbos()
	if len(limbos) != 2 {
		t.Fatalf("limbo roster = %d, want 2", len(limbos))
	}

	p := a.Allocate()
	// A maintenance worker retires an unlinked node into b's queue.
	limbos[1].Push(0, p)
	if got := b.Limbo().Len(0); got != 1 {
		t.Fatalf("generation 0 of b holds %d pointers, want 1", got)
	}
	if got := a.Limbo().Len(0); got != 0 {
		t.Fatalf("generation 0 of a holds %d pointers, want 0", got)
	}
}

func TestDestroyReturnsEverything(t *testing.T) {
	arena, pool := newPool(t)
	h := pool.RegisterThread()

	a := h.Allocate()
	b := h.Allocate()
	c := h.Allocate()
	h.Retire(a)
	h.MatchVersion(true)
	h.Retire(b)
	h.Requeue(c)

	pool.Destroy()
	if !arena.HasNoLeaks() {
		t.Fatal("destroy left allocations behind")
	}
}

func TestAccompanyPoolFollowsPrimaryEpoch(t *testing.T) {
	arena := rmem.NewArena()
	primary := NewPool(arena.Pool(1), 4)
	companion := NewAccompanyPool(arena.Pool(1), 8, primary)

	ph := primary.RegisterThread()
	ch := companion.RegisterThread()

	p := ch.Allocate()
	ch.Retire(p)

	// Without primary advances the companion never recycles.
	ch.Observe()
	if got := ch.Allocate(); got == p {
		t.Fatal("companion recycled without a primary advance")
	}

	for i := 0; i < Generations+1; i++ {
		ph.MatchVersion(true)
		ch.Observe()
	}
	seen := false
	for i := 0; i < 4; i++ {
		if ch.Allocate() == p {
			seen = true
			break
		}
	}
	if !seen {
		t.Fatal("companion never recycled after primary advances")
	}
}
