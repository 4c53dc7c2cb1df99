// Package skiplist implements a distributed, lock-free ordered map shared
// by any number of processes through one-sided remote reads, writes and
// word-sized compare-and-swaps.
//
// The structure is a skip list of remotely-addressable nodes. Level 0 is
// the authoritative membership chain; higher levels are an index built
// lazily by a maintenance worker. Removal is three-phase: a mutator CASes
// the value word to the delete sentinel, the worker claims the node with
// the unlink sentinel and splices it out level by level, and the epoch
// reclaimer returns the memory to circulation once no reader can still
// hold a snapshot of it.
package skiplist

import (
	"math/bits"

	"github.com/zeebo/errs"

	"github.com/EthanLavi/DistributedObjectCache/cache"
	"github.com/EthanLavi/DistributedObjectCache/ebr"
	"github.com/EthanLavi/DistributedObjectCache/rmem"
)

// Config carries the collaborators and shape of one process's view of the
// structure.
type Config struct {
	// Capability provides the one-sided remote operations.
	Capability rmem.Capability

	// Cache is this process's coherent line cache.
	Cache *cache.Cache

	// Pool reclaims node memory on epoch boundaries.
	Pool *ebr.Pool

	// Degree selects the fan-out: the key space is partitioned across
	// 2^Degree independent sub-lists. Zero gives a single list.
	Degree int

	// KeyLB and KeyUB bound the key range routed across the sub-lists.
	// Irrelevant when Degree is zero.
	KeyLB, KeyUB Key
}

// SkipList is one process's handle on the shared structure. Operations are
// safe for concurrent use; each worker goroutine passes its own ebr.Handle.
type SkipList struct {
	caps    rmem.Capability
	cache   *cache.Cache
	pool    *ebr.Pool
	branch  int
	keyLB   Key
	keyUB   Key
	roots   []rmem.Ptr
	rootDir rmem.Ptr
	rng     *rng
	metrics *Metrics
}

// New validates cfg and returns an engine that is not yet attached to a
// structure; follow with InitAsFirst or InitFromPointer.
func New(cfg Config) *SkipList {
	if cfg.Capability == nil || cfg.Cache == nil || cfg.Pool == nil {
		panic(errs.New("skiplist: capability, cache and pool are required"))
	}
	if cfg.Degree < 0 || cfg.Degree > 16 {
		panic(errs.New("skiplist: degree %d out of range", cfg.Degree))
	}
	r := newRNG()
	s := &SkipList{
		caps:    cfg.Capability,
		cache:   cfg.Cache,
		pool:    cfg.Pool,
		branch:  1 << cfg.Degree,
		keyLB:   cfg.KeyLB,
		keyUB:   cfg.KeyUB,
		rng:     r,
		metrics: newMetrics(r),
	}
	if s.branch > 1 && cfg.KeyUB <= cfg.KeyLB {
		panic(errs.New("skiplist: empty key range [%d, %d) with degree %d", cfg.KeyLB, cfg.KeyUB, cfg.Degree))
	}
	return s
}

// SetKeyRange re-bounds the routed key range. Quiescent only.
func (s *SkipList) SetKeyRange(lb, ub Key) {
	if s.branch > 1 && ub <= lb {
		panic(errs.New("skiplist: empty key range [%d, %d)", lb, ub))
	}
	s.keyLB, s.keyUB = lb, ub
}

// Branches returns the number of sub-lists.
func (s *SkipList) Branches() int { return s.branch }

// hinted applies the cached-hint bit to a published pointer when the
// node's level band is cache-eligible.
func (s *SkipList) hinted(p rmem.Ptr, height int) rmem.Ptr {
	if MaxHeight-height < s.cache.Floor() {
		return p.WithHint()
	}
	return p
}

// rootFor routes a key to its sub-list's head sentinel.
func (s *SkipList) rootFor(key Key) rmem.Ptr {
	if s.branch == 1 {
		return s.roots[0]
	}
	if key <= s.keyLB {
		return s.roots[0]
	}
	if key >= s.keyUB {
		return s.roots[s.branch-1]
	}
	span := uint64(s.keyUB - s.keyLB)
	hi, lo := bits.Mul64(uint64(key-s.keyLB), uint64(s.branch))
	idx, _ := bits.Div64(hi, lo, span)
	if idx >= uint64(s.branch) {
		idx = uint64(s.branch) - 1
	}
	return s.roots[idx]
}

// InitAsFirst allocates the head sentinels and the root directory, and
// returns the opaque directory pointer other processes join through.
func (s *SkipList) InitAsFirst() rmem.Ptr {
	s.roots = make([]rmem.Ptr, s.branch)
	dir := s.caps.Allocate(s.branch * dirEntryWords)

	var words [NodeWords]uint64
	entry := make([]uint64, dirEntryWords)
	for i := 0; i < s.branch; i++ {
		root := s.caps.Allocate(NodeWords)
		for j := range words {
			words[j] = 0
		}
		kmin := KMin
		words[nodeKeyWord] = uint64(kmin)
		words[nodeValueWord] = 0
		words[nodeHeightWord] = MaxHeight
		words[nodeLinkWord] = MaxHeight
		s.caps.Write(root, words[:])

		for j := range entry {
			entry[j] = 0
		}
		entry[0] = root.Raw()
		s.caps.Write(rmem.New(dir.ID(), dir.Addr()+uint64(i*dirEntryWords)*8), entry)

		s.roots[i] = s.hinted(root, MaxHeight)
	}
	s.rootDir = dir
	return dir
}

// InitFromPointer joins a structure created elsewhere through its root
// directory pointer.
func (s *SkipList) InitFromPointer(dir rmem.Ptr) {
	s.rootDir = dir.Canonical()
	line := s.cache.ExtendedRead(s.rootDir, s.branch, dirEntryWords, cache.DepthAlways)
	s.roots = make([]rmem.Ptr, s.branch)
	for i := 0; i < s.branch; i++ {
		root := rmem.Ptr(line.Words()[i*dirEntryWords])
		if root.Marked() {
			panic(errs.New("skiplist: head sentinel %d is delete-marked", i))
		}
		s.roots[i] = s.hinted(root, MaxHeight)
	}
}

// Destroy releases the engine's view. With deleteRoots set (only the
// process that called InitAsFirst should), the head sentinels and the
// directory are deallocated too.
func (s *SkipList) Destroy(deleteRoots bool) {
	if deleteRoots {
		for _, root := range s.roots {
			s.caps.Deallocate(root.Canonical(), NodeWords)
		}
		if s.rootDir != rmem.Null {
			s.caps.Deallocate(s.rootDir, s.branch*dirEntryWords)
		}
	}
	s.roots = nil
	s.rootDir = rmem.Null
}

// readNode snapshots the node behind p, consulting the line cache.
func (s *SkipList) readNode(p rmem.Ptr, scratch []uint64, depth int) nodeView {
	return nodeView{line: s.cache.Read(p.Unmark(), scratch, NodeWords, depth)}
}

// refresh drops the cached line for a node the caller just changed and
// re-reads it.
func (s *SkipList) refresh(p rmem.Ptr, depth int) nodeView {
	s.cache.Invalidate(p)
	return s.readNode(p, nil, depth)
}
