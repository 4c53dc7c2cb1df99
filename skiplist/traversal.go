package skiplist

import (
	"github.com/EthanLavi/DistributedObjectCache/cache"
	"github.com/EthanLavi/DistributedObjectCache/rmem"
)

// findHelpBound caps how often one traversal restarts after helping an
// unlink before it proceeds without helping; the worker finishes whatever
// is left.
const findHelpBound = 64

// fillResult is the per-level context a structural change needs: the last
// node before the key at each level, the stored successor word, and
// whether the key itself was reachable there.
type fillResult struct {
	preds    [MaxHeight]rmem.Ptr
	succs    [MaxHeight]rmem.Ptr
	found    [MaxHeight]bool
	prevKeys [MaxHeight]Key
}

// fill descends from the routed head and records predecessors and
// successors for every level. When the key is found at a level, succs holds
// the found node's own next word there; otherwise it holds the first node
// past the key (or Null at end of chain). Returns the last node read,
// which is the key's node whenever found[0] is set.
func (s *SkipList) fill(key Key, r *fillResult) nodeView {
	scratchA := make([]uint64, NodeWords)
	scratchB := make([]uint64, NodeWords)
	useA := false

	curr := s.readNode(s.rootFor(key), scratchA, cache.DepthAlways)
	next := curr
	for level := MaxHeight - 1; level >= 0; level-- {
		for {
			if curr.next(level).IsNull() {
				r.preds[level] = curr.origin()
				r.prevKeys[level] = curr.key()
				r.succs[level] = rmem.Null
				r.found[level] = false
				break
			}
			buf := scratchB
			if useA {
				buf = scratchA
			}
			next = s.readNode(curr.next(level), buf, MaxHeight-curr.height())
			if next.key() < key {
				curr = next
				useA = !useA
				continue
			}
			r.preds[level] = curr.origin()
			r.prevKeys[level] = curr.key()
			if next.key() == key {
				r.succs[level] = next.next(level)
				r.found[level] = true
			} else {
				r.succs[level] = next.origin()
				r.found[level] = false
			}
			break
		}
	}
	return next
}

// find returns the last node with key ≤ the argument, descending with the
// cache at every hop. With forInsert set, a level-0 predecessor that is
// already claimed for unlinking (marked next word, unlink sentinel value)
// blocking the insertion point is helped out of the chain and the
// traversal restarts from the head.
func (s *SkipList) find(key Key, forInsert bool) nodeView {
	scratchA := make([]uint64, NodeWords)
	scratchB := make([]uint64, NodeWords)

	for restarts := 0; ; restarts++ {
		useA := false
		curr := s.readNode(s.rootFor(key), scratchA, cache.DepthAlways)
		restart := false
		for level := MaxHeight - 1; level >= 0 && !restart; level-- {
			for {
				if curr.key() == key {
					return curr
				}
				nxt := curr.next(level)
				if nxt.IsNull() {
					break
				}
				buf := scratchB
				if useA {
					buf = scratchA
				}
				next := s.readNode(nxt, buf, MaxHeight-curr.height())
				if forInsert && level == 0 && nxt.Marked() &&
					next.key() >= key && curr.value() == UnlinkSentinel &&
					restarts < findHelpBound {
					s.nonblockUnlink(curr.key())
					s.metrics.incHelpedUnlink()
					restart = true
					break
				}
				if next.key() <= key {
					curr = next
					useA = !useA
					continue
				}
				break
			}
		}
		if !restart {
			return curr
		}
	}
}

// nonblockUnlink splices a fully-claimed node out of the level-0 chain
// without waiting on the worker. Only nodes that are unreachable above
// level 0 and hold the unlink sentinel are touched; if the predecessor is
// itself mid-unlink, the helping cascades to it.
func (s *SkipList) nonblockUnlink(key Key) {
	for depth := 0; depth < findHelpBound; depth++ {
		var r fillResult
		node := s.fill(key, &r)
		if r.found[1] || !r.found[0] || node.value() != UnlinkSentinel {
			return
		}
		if r.preds[0].Marked() {
			panic(errInvariant("marked predecessor at level 0"))
		}
		expected := node.origin().Unmark()
		old := s.caps.CompareAndSwap(levelPtr(r.preds[0], 0), expected.Raw(), r.succs[0].Unmark().Raw())
		if old == expected.Raw() {
			s.cache.Invalidate(r.preds[0])
			return
		}
		if old == expected.Mark().Raw() {
			// The predecessor is being unlinked too; clear it first.
			if r.prevKeys[0] == key {
				return
			}
			key = r.prevKeys[0]
			continue
		}
		s.cache.Invalidate(r.preds[0])
		return
	}
}
