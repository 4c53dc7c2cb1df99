package skiplist

import (
	"math"

	"github.com/EthanLavi/DistributedObjectCache/cache"
	"github.com/EthanLavi/DistributedObjectCache/rmem"
)

// Key is the totally-ordered key domain. KMin is reserved for the head
// sentinels; user keys must be greater than KMin.
type Key = int64

const (
	// MaxHeight is the compile-time maximum tower height.
	MaxHeight = 12

	// KMin is the distinguished minimum key held by head sentinels.
	KMin Key = math.MinInt64

	// DeleteSentinel in the value word marks a node logically deleted.
	// A CAS from DeleteSentinel back to a user value re-inserts the key.
	DeleteSentinel uint64 = math.MaxUint64 - 1

	// UnlinkSentinel marks a node claimed for physical unlinking.
	// Re-insertion is forbidden once the value word holds it.
	UnlinkSentinel uint64 = math.MaxUint64
)

// Remote node layout, in 8-byte words. The pointer array begins at a cache
// line boundary; words 4..7 pad it there.
const (
	nodeKeyWord    = 0
	nodeValueWord  = 1
	nodeHeightWord = 2
	nodeLinkWord   = 3
	nodeNextBase   = 8

	// NodeWords is the allocation size of one node.
	NodeWords = nodeNextBase + MaxHeight
)

// Root directory entry: one pointer padded to a cache line.
const dirEntryWords = 8

func valuePtr(p rmem.Ptr) rmem.Ptr {
	p = p.Canonical()
	return rmem.New(p.ID(), p.Addr()+nodeValueWord*8)
}

func linkPtr(p rmem.Ptr) rmem.Ptr {
	p = p.Canonical()
	return rmem.New(p.ID(), p.Addr()+nodeLinkWord*8)
}

func levelPtr(p rmem.Ptr, level int) rmem.Ptr {
	p = p.Canonical()
	return rmem.New(p.ID(), p.Addr()+uint64(nodeNextBase+level)*8)
}

// nodeView reads node fields out of a cache line snapshot.
type nodeView struct {
	line cache.Line
}

func (n nodeView) key() Key         { return Key(n.line.Words()[nodeKeyWord]) }
func (n nodeView) value() uint64    { return n.line.Words()[nodeValueWord] }
func (n nodeView) height() int      { return int(n.line.Words()[nodeHeightWord]) }
func (n nodeView) linkLevel() int   { return int(n.line.Words()[nodeLinkWord]) }
func (n nodeView) origin() rmem.Ptr { return n.line.Origin() }

func (n nodeView) next(level int) rmem.Ptr {
	return rmem.Ptr(n.line.Words()[nodeNextBase+level])
}

func encodeNode(words []uint64, key Key, value uint64, height int, next0 rmem.Ptr) {
	for i := range words {
		words[i] = 0
	}
	words[nodeKeyWord] = uint64(key)
	words[nodeValueWord] = value
	words[nodeHeightWord] = uint64(height)
	words[nodeLinkWord] = 0 // published unindexed; the worker claims promotion
	words[nodeNextBase] = next0.Raw()
}
