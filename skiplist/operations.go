package skiplist

import (
	"github.com/zeebo/errs"

	"github.com/EthanLavi/DistributedObjectCache/cache"
	"github.com/EthanLavi/DistributedObjectCache/ebr"
)

func errInvariant(msg string) error {
	return errs.New("skiplist: invariant violation: %s", msg)
}

// Contains reports the value at key. The bool is false when the key is
// absent (including logically-deleted and unlinking nodes).
func (s *SkipList) Contains(h *ebr.Handle, key Key) (uint64, bool) {
	defer h.MatchVersion(false)
	if key == KMin {
		return 0, false
	}
	node := s.find(key, false)
	if node.key() == key && node.value() != DeleteSentinel && node.value() != UnlinkSentinel {
		return node.value(), true
	}
	return 0, false
}

// Insert publishes value at key. Returns (0, false) on insertion and the
// resident value with true when the key already holds one; a collision
// never overwrites. A logically-deleted node is revived in place with a
// single CAS on its value word.
func (s *SkipList) Insert(h *ebr.Handle, key Key, value uint64) (uint64, bool) {
	if value == DeleteSentinel || value == UnlinkSentinel {
		panic(errInvariant("user value collides with a sentinel"))
	}
	if key == KMin {
		panic(errInvariant("user key collides with the head sentinel"))
	}
	defer h.MatchVersion(false)

	for {
		curr := s.find(key, true)
		if curr.key() == key {
			switch v := curr.value(); v {
			case UnlinkSentinel:
				// Mid-unlink; drop the stale line and retry until the
				// worker finishes splicing the node out.
				s.cache.Invalidate(curr.origin())
				continue
			case DeleteSentinel:
				old := s.caps.CompareAndSwap(valuePtr(curr.origin()), DeleteSentinel, value)
				switch {
				case old == DeleteSentinel:
					s.cache.Invalidate(curr.origin())
					s.metrics.incReinsert()
					return 0, false
				case old == UnlinkSentinel:
					s.cache.Invalidate(curr.origin())
					continue
				default:
					// Someone else re-inserted first.
					return old, true
				}
			default:
				return v, true
			}
		}

		nptr := h.Allocate()
		height := s.rng.randomHeight()
		if forcedHeightHook != nil {
			if fh := forcedHeightHook(key); fh >= 1 && fh <= MaxHeight {
				height = fh
			}
		}

		var words [NodeWords]uint64
		encodeNode(words[:], key, value, height, curr.next(0))
		s.caps.Write(nptr, words[:])
		// The allocation may be recycled memory; make sure no stale line
		// survives under its address.
		s.cache.Invalidate(nptr)

		expected := curr.next(0).Unmark()
		published := s.hinted(nptr, height)
		old := s.caps.CompareAndSwap(levelPtr(curr.origin(), 0), expected.Raw(), published.Raw())
		if old == expected.Raw() {
			s.cache.Invalidate(curr.origin())
			s.metrics.incInsertSuccess()
			return 0, false
		}
		// Lost the publish race; the node was never visible. Drop the
		// line the CAS compared against so the retry refetches it.
		s.cache.Invalidate(curr.origin())
		h.Requeue(nptr)
		s.metrics.incInsertCASRetry()
	}
}

// Remove logically deletes key, returning the deleted value. Physical
// unlinking is the maintenance worker's job.
func (s *SkipList) Remove(h *ebr.Handle, key Key) (uint64, bool) {
	defer h.MatchVersion(false)
	if key == KMin {
		return 0, false
	}
	curr := s.find(key, false)
	if curr.key() != key {
		return 0, false
	}
	v := curr.value()
	if v == DeleteSentinel || v == UnlinkSentinel {
		return 0, false
	}
	old := s.caps.CompareAndSwap(valuePtr(curr.origin()), v, DeleteSentinel)
	if old == v {
		s.cache.Invalidate(curr.origin())
		s.metrics.incRemoval()
		return v, true
	}
	// A concurrent deleter won; refetch the line next time around.
	s.cache.Invalidate(curr.origin())
	return 0, false
}

// Populate bulk-loads opCount distinct keys drawn uniformly from
// [keyLB, keyUB), assigning valueFn(k) to each, and returns the number of
// successful insertions.
func (s *SkipList) Populate(h *ebr.Handle, opCount int, keyLB, keyUB Key, valueFn func(Key) uint64) int {
	if keyUB <= keyLB {
		panic(errInvariant("empty populate range"))
	}
	span := uint64(keyUB - keyLB)
	success := 0
	for success != opCount {
		k := keyLB + Key(s.rng.next()%span)
		if k == KMin {
			continue
		}
		if _, present := s.Insert(h, k, valueFn(k)); !present {
			success++
		}
	}
	return success
}

// Count walks every sub-list's level-0 chain and counts live keys.
// Quiescent only: concurrent mutation makes the result meaningless.
func (s *SkipList) Count() int {
	total := 0
	scratch := make([]uint64, NodeWords)
	for _, root := range s.roots {
		curr := s.readNode(root, scratch, cache.DepthAlways)
		for !curr.next(0).IsNull() {
			curr = s.readNode(curr.next(0), scratch, MaxHeight-curr.height())
			if v := curr.value(); v != DeleteSentinel && v != UnlinkSentinel {
				total++
			}
		}
	}
	return total
}
