package cache

import (
	"testing"

	"github.com/EthanLavi/DistributedObjectCache/rmem"
)

func newBacked(t *testing.T, words []uint64) (*rmem.CountingPool, rmem.Ptr) {
	t.Helper()
	arena := rmem.NewArena()
	pool := arena.Pool(1)
	p := pool.Allocate(len(words))
	pool.Write(p, words)
	return pool, p
}

func TestReadCachesEligibleLines(t *testing.T) {
	pool, p := newBacked(t, []uint64{1, 2, 3})
	c := New(pool, 4)

	line := c.Read(p, nil, 3, 0)
	if got := line.Words()[1]; got != 2 {
		t.Fatalf("word = %d, want 2", got)
	}
	if line.Origin() != p {
		t.Fatalf("origin = %v, want %v", line.Origin(), p)
	}

	// The second read must be served locally even though the remote words
	// changed.
	pool.Write(p, []uint64{9, 9, 9})
	line = c.Read(p, nil, 3, 0)
	if got := line.Words()[1]; got != 2 {
		t.Fatalf("cached word = %d, want stale 2", got)
	}
	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Fatalf("hits=%d misses=%d, want 1/1", hits, misses)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	pool, p := newBacked(t, []uint64{7})
	c := New(pool, 4)

	_ = c.Read(p, nil, 1, 0)
	pool.Write(p, []uint64{8})
	c.Invalidate(p)

	line := c.Read(p, nil, 1, 0)
	if got := line.Words()[0]; got != 8 {
		t.Fatalf("post-invalidate word = %d, want 8", got)
	}
}

func TestDepthThresholdSuppressesCaching(t *testing.T) {
	pool, p := newBacked(t, []uint64{5})
	c := New(pool, 2)

	// depth >= floor is not cache-eligible.
	_ = c.Read(p, nil, 1, 2)
	pool.Write(p, []uint64{6})
	line := c.Read(p, nil, 1, 2)
	if got := line.Words()[0]; got != 6 {
		t.Fatalf("deep read was cached: got %d, want 6", got)
	}
	if hits, _ := c.Stats(); hits != 0 {
		t.Fatalf("hits = %d, want 0", hits)
	}
}

func TestHintBitOverridesDepth(t *testing.T) {
	pool, p := newBacked(t, []uint64{5})
	c := New(pool, 0)

	hinted := p.WithHint()
	_ = c.Read(hinted, nil, 1, 5)
	pool.Write(p, []uint64{6})
	line := c.Read(hinted, nil, 1, 5)
	if got := line.Words()[0]; got != 5 {
		t.Fatalf("hinted read missed the cache: got %d, want 5", got)
	}
	// Origin keeps the hint so CAS expectations round-trip published words.
	if line.Origin() != hinted {
		t.Fatalf("origin = %v, want %v", line.Origin(), hinted)
	}
}

func TestMarkedPointerSharesTheLine(t *testing.T) {
	pool, p := newBacked(t, []uint64{5})
	c := New(pool, 4)

	_ = c.Read(p, nil, 1, 0)
	line := c.Read(p.Mark(), nil, 1, 0)
	if hits, _ := c.Stats(); hits != 1 {
		t.Fatalf("marked read did not hit the canonical line (hits=%d)", hits)
	}
	if line.Origin().Marked() {
		t.Fatal("origin kept the delete mark")
	}
}

func TestScratchIsNotRetained(t *testing.T) {
	pool, p := newBacked(t, []uint64{5})
	c := New(pool, 4)

	scratch := make([]uint64, 1)
	_ = c.Read(p, scratch, 1, 0) // eligible: cache owns its own backing
	scratch[0] = 77

	line := c.Read(p, nil, 1, 0)
	if got := line.Words()[0]; got != 5 {
		t.Fatalf("cache line aliased caller scratch: got %d, want 5", got)
	}
}

func TestExtendedRead(t *testing.T) {
	arena := rmem.NewArena()
	pool := arena.Pool(1)
	p := pool.Allocate(6)
	pool.Write(p, []uint64{1, 2, 3, 4, 5, 6})
	c := New(pool, 4)

	line := c.ExtendedRead(p, 3, 2, DepthAlways)
	if len(line.Words()) != 6 {
		t.Fatalf("len = %d, want 6", len(line.Words()))
	}
	if line.Words()[4] != 5 {
		t.Fatalf("word 4 = %d, want 5", line.Words()[4])
	}
	_ = c.ExtendedRead(p, 3, 2, DepthAlways)
	if hits, _ := c.Stats(); hits != 1 {
		t.Fatalf("extended reread missed (hits=%d)", hits)
	}
}

func TestClaimMasterBootstrap(t *testing.T) {
	arena := rmem.NewArena()
	pool := arena.Pool(1)
	c := New(pool, 4)

	if c.Root() != rmem.Null {
		t.Fatal("root set before ClaimMaster")
	}
	slot := c.ClaimMaster()
	if slot == rmem.Null || c.Root() != slot {
		t.Fatalf("ClaimMaster slot = %v, Root = %v", slot, c.Root())
	}

	peer := New(arena.Pool(2), 4)
	peer.Init([]rmem.Ptr{slot}, 2)

	c.Destroy()
	if !arena.HasNoLeaks() {
		t.Fatal("directory slot leaked")
	}
}
