package skiplist

import (
	"log"
	"sync/atomic"

	"github.com/EthanLavi/DistributedObjectCache/cache"
	"github.com/EthanLavi/DistributedObjectCache/ebr"
)

// casRetryBound is the safety net on unlink and raise restarts. At the
// bound the worker logs and abandons the node. Sweep does not come back to
// it: a node abandoned mid-unlink keeps the unlink sentinel, which Sweep
// skips, and a node abandoned mid-raise keeps link level 1, which Sweep
// does not claim again.
const casRetryBound = 10000

// dropError is the cold-path diagnostic logger; never called on hot paths.
func dropError(prefix string, err error) {
	if err != nil {
		log.Printf("%s: %v", prefix, err)
	} else {
		log.Print(prefix)
	}
}

// unlinkNode physically splices an unlink-claimed node out of every level
// it is indexed at, top down. Per level it first delete-marks the node's
// own next word, which forbids insertion behind the node, and only then
// CASes the predecessor past it. Any lost CAS restarts from a fresh fill.
// Reports whether the node was spliced out; false once it is abandoned.
func (s *SkipList) unlinkNode(key Key) bool {
	if key == KMin {
		return false
	}
	for attempt := 0; attempt < casRetryBound; attempt++ {
		var r fillResult
		node := s.fill(key, &r)

		retry := false
		for level := MaxHeight - 1; level >= 0 && !retry; level-- {
			if !r.found[level] {
				continue
			}
			if !r.succs[level].Marked() {
				old := s.caps.CompareAndSwap(levelPtr(node.origin(), level), r.succs[level].Raw(), r.succs[level].Mark().Raw())
				if old != r.succs[level].Raw() {
					s.cache.Invalidate(node.origin())
					s.metrics.incUnlinkRetry()
					retry = true
					break
				}
				s.cache.Invalidate(node.origin())
			}

			if r.preds[level].Marked() || node.origin().Marked() {
				panic(errInvariant("marked endpoint during unlink"))
			}
			old := s.caps.CompareAndSwap(levelPtr(r.preds[level], level), node.origin().Unmark().Raw(), r.succs[level].Unmark().Raw())
			if old != node.origin().Unmark().Raw() {
				s.cache.Invalidate(r.preds[level])
				s.metrics.incUnlinkRetry()
				retry = true
				break
			}
			s.cache.Invalidate(r.preds[level])
		}
		if !retry {
			return true
		}
	}
	s.metrics.incAbandoned()
	dropError("skiplist: unlink retries exhausted, abandoning node", nil)
	return false
}

// raise indexes a node at every level up to goal. Per level the node's own
// next word is installed before the predecessor's, so readers at higher
// levels either skip the node or see a complete link. Finishes by raising
// the link level from 1 to goal.
func (s *SkipList) raise(key Key, goal int) {
	for attempt := 0; attempt < casRetryBound; attempt++ {
		var r fillResult
		node := s.fill(key, &r)
		if !r.found[0] {
			return
		}

		retry := false
		for level := 0; level < goal; level++ {
			if r.found[level] {
				continue
			}
			if node.next(level).Marked() {
				panic(errInvariant("marked link on a rising node"))
			}
			old := s.caps.CompareAndSwap(levelPtr(node.origin(), level), node.next(level).Raw(), r.succs[level].Raw())
			if old != node.next(level).Raw() {
				s.cache.Invalidate(node.origin())
				s.metrics.incRaiseRetry()
				retry = true
				break
			}
			s.cache.Invalidate(node.origin())

			if r.preds[level].Marked() || node.origin().Marked() {
				panic(errInvariant("marked endpoint during raise"))
			}
			old = s.caps.CompareAndSwap(levelPtr(r.preds[level], level), r.succs[level].Unmark().Raw(), node.origin().Raw())
			if old != r.succs[level].Unmark().Raw() {
				s.cache.Invalidate(r.preds[level])
				s.metrics.incRaiseRetry()
				retry = true
				break
			}
			s.cache.Invalidate(r.preds[level])
		}
		if retry {
			continue
		}

		s.caps.CompareAndSwap(linkPtr(node.origin()), 1, uint64(goal))
		s.cache.Invalidate(node.origin())
		return
	}
	s.metrics.incAbandoned()
	dropError("skiplist: raise retries exhausted, abandoning node", nil)
}

// completePromotion claims an unindexed node and raises it to its full
// height. Returns false when another worker holds the claim.
func (s *SkipList) completePromotion(node nodeView) bool {
	switch {
	case node.linkLevel() == 0:
		if s.caps.CompareAndSwap(linkPtr(node.origin()), 0, 1) != 0 {
			return false
		}
		s.cache.Invalidate(node.origin())
		s.metrics.incPromoteClaim()
	case node.linkLevel() < node.height():
		// Claimed by someone else and still rising.
		return false
	default:
		return true
	}
	if node.height() > 1 {
		s.raise(node.key(), node.height())
	}
	return true
}

// Sweep runs one maintenance pass over every sub-list's level-0 chain:
// finish promotions, claim fully-indexed deleted nodes for unlinking,
// splice them out, and retire their memory to the limbo lists round-robin.
// nextLimbo carries the round-robin cursor between sweeps.
func (s *SkipList) Sweep(cont *atomic.Bool, limbos []*ebr.LimboLists, nextLimbo int) int {
	if len(limbos) == 0 {
		panic(errInvariant("worker needs at least one limbo handle"))
	}
	scratch := make([]uint64, NodeWords)
	for _, root := range s.roots {
		curr := s.readNode(root, scratch, cache.DepthAlways)
		for !curr.next(0).IsNull() && (cont == nil || cont.Load()) {
			depth := MaxHeight - curr.height()
			curr = s.readNode(curr.next(0), nil, depth)

			switch v := curr.value(); {
			case v == DeleteSentinel:
				if curr.linkLevel() < curr.height() {
					// Deleted before its promotion finished; bring it to
					// full height first so the unlink precondition can
					// ever hold.
					if !s.completePromotion(curr) {
						continue
					}
					curr = s.refresh(curr.origin(), depth)
					if curr.value() != DeleteSentinel || curr.linkLevel() != curr.height() {
						continue
					}
				}
				old := s.caps.CompareAndSwap(valuePtr(curr.origin()), DeleteSentinel, UnlinkSentinel)
				if old != DeleteSentinel {
					// Re-inserted under us; leave it alone.
					s.cache.Invalidate(curr.origin())
					continue
				}
				s.cache.Invalidate(curr.origin())
				if preUnlinkHook != nil {
					preUnlinkHook(curr.key())
				}
				if !s.unlinkNode(curr.key()) {
					// Abandoned and possibly still linked; not retired.
					continue
				}

				// The node is out of every chain but its own next words
				// still let the sweep continue past it.
				curr = s.refresh(curr.origin(), depth)
				limbos[nextLimbo].Push(0, curr.origin().Canonical())
				s.metrics.incReclaimed()
				nextLimbo = (nextLimbo + 1) % len(limbos)

			case v == UnlinkSentinel:
				// Another sweep owns the unlink.
				continue

			default:
				if curr.linkLevel() == 0 {
					if s.completePromotion(curr) {
						curr = s.refresh(curr.origin(), depth)
					}
				}
			}
		}
	}
	return nextLimbo
}

// Worker is the long-running maintenance task: it sweeps until cont is
// cleared, publishing an epoch observation after every pass. limbos names
// the reclamation queues of every participating thread; unlinked nodes are
// distributed across them round-robin.
func (s *SkipList) Worker(cont *atomic.Bool, h *ebr.Handle, limbos []*ebr.LimboLists) {
	cursor := 0
	for cont.Load() {
		cursor = s.Sweep(cont, limbos, cursor)
		h.MatchVersion(true)
	}
}
