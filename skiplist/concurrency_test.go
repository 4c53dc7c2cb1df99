package skiplist

import (
	"os"
	"runtime/pprof"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EthanLavi/DistributedObjectCache/cache"
	"github.com/EthanLavi/DistributedObjectCache/ebr"
	"github.com/EthanLavi/DistributedObjectCache/rmem"
)

const testXorshiftFallback = uint64(0xdeadbeefcafebabe)

func xorshift(x *uint64) uint64 {
	v := *x
	v ^= v >> 12
	v ^= v << 25
	v ^= v >> 27
	if v == 0 {
		v = testXorshiftFallback
	}
	*x = v
	return v * 2685821657736338717
}

func TestConcurrentMixedOperationsStorm(t *testing.T) {
	// Dump goroutines if the storm wedges and fails.
	t.Cleanup(func() {
		if t.Failed() {
			pprof.Lookup("goroutine").WriteTo(os.Stderr, 2)
		}
	})

	seed := uint64(time.Now().UnixNano()) | 1
	t.Logf("test seed=%d", seed)

	arena := rmem.NewArena()
	caps := arena.Pool(1)
	c := cache.New(caps, MaxHeight)
	pool := ebr.NewPool(caps, NodeWords)
	list := New(Config{Capability: caps, Cache: c, Pool: pool})
	list.InitAsFirst()

	const goroutines = 4
	const keySpace = 10000
	opsPerGoroutine := 100000
	if testing.Short() {
		opsPerGoroutine = 5000
	}

	handles := make([]*ebr.Handle, goroutines)
	for i := range handles {
		handles[i] = pool.RegisterThread()
	}
	workerHandle := pool.RegisterThread()

	var cont atomic.Bool
	cont.Store(true)
	var workerWG sync.WaitGroup
	workerWG.Add(1)
	go func() {
		defer workerWG.Done()
		list.Worker(&cont, workerHandle, pool.Limbos())
	}()

	deltas := make([]int64, goroutines)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			h := handles[g]
			x := seed + uint64(g)
			var delta int64
			for i := 0; i < opsPerGoroutine; i++ {
				r := xorshift(&x)
				key := Key(r%keySpace) + 1
				switch mix := (r >> 32) % 10; {
				case mix < 8:
					list.Contains(h, key)
				case mix == 8:
					if _, present := list.Insert(h, key, uint64(key)); !present {
						delta++
					}
				default:
					if _, ok := list.Remove(h, key); ok {
						delta--
					}
				}
			}
			deltas[g] = delta
		}(g)
	}
	wg.Wait()

	cont.Store(false)
	workerWG.Wait()

	var want int64
	for _, d := range deltas {
		want += d
	}
	if got := int64(list.Count()); got != want {
		t.Fatalf("count = %d, want signed-delta sum %d", got, want)
	}

	// Level-0 ordering must hold at quiescence.
	keys := levelKeys(list, 0, 0)
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Fatalf("level-0 chain out of order: %d before %d", keys[i-1], keys[i])
		}
	}

	// Quiescent indexability: a node on level l is reachable on l-1 too.
	for level := 1; level < MaxHeight; level++ {
		below := make(map[Key]bool)
		for _, k := range levelKeys(list, 0, level-1) {
			below[k] = true
		}
		for _, k := range levelKeys(list, 0, level) {
			if !below[k] {
				t.Fatalf("key %d on level %d but not on level %d", k, level, level-1)
			}
		}
	}
}

// TestTwoProcessConcurrentInserts drives two capability views of one arena
// with caching limited to the head sentinels, which is the coherence
// regime a deployment without the invalidation transport runs in.
func TestTwoProcessConcurrentInserts(t *testing.T) {
	arena := rmem.NewArena()

	newProc := func(id uint16) (*SkipList, *ebr.Pool) {
		caps := arena.Pool(id)
		c := cache.New(caps, 0)
		pool := ebr.NewPool(caps, NodeWords)
		return New(Config{Capability: caps, Cache: c, Pool: pool}), pool
	}

	listA, poolA := newProc(1)
	dir := listA.InitAsFirst()
	listB, poolB := newProc(2)
	listB.InitFromPointer(dir)

	hA := poolA.RegisterThread()
	hB := poolB.RegisterThread()

	iterations := 5000
	if testing.Short() {
		iterations = 500
	}

	insertMany := func(list *SkipList, h *ebr.Handle, seed uint64, inserted *int64) func() {
		return func() {
			x := seed
			var n int64
			for i := 0; i < iterations; i++ {
				key := Key(xorshift(&x)%2048) + 1
				if _, present := list.Insert(h, key, uint64(key)); !present {
					n++
				}
			}
			atomic.StoreInt64(inserted, n)
		}
	}

	var nA, nB int64
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); insertMany(listA, hA, 11, &nA)() }()
	go func() { defer wg.Done(); insertMany(listB, hB, 22, &nB)() }()
	wg.Wait()

	// A fresh joiner sees everything both processes published.
	listC, poolC := newProc(3)
	listC.InitFromPointer(dir)
	if got := int64(listC.Count()); got != nA+nB {
		t.Fatalf("count = %d, want %d distinct insertions", got, nA+nB)
	}

	hC := poolC.RegisterThread()
	for _, k := range levelKeys(listC, 0, 0) {
		v, ok := listC.Contains(hC, k)
		if !ok || v != uint64(k) {
			t.Fatalf("key %d: value=%d ok=%v", k, v, ok)
		}
	}
}
