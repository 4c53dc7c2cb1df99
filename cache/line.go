package cache

import "github.com/EthanLavi/DistributedObjectCache/rmem"

// Line is a local snapshot of remote words together with the pointer the
// read came from. Mutators CAS against fields of Origin() and invalidate
// that same pointer afterwards; the words themselves are never written.
type Line struct {
	words  []uint64
	origin rmem.Ptr
}

// Words returns the snapshot. The slice is valid until the caller discards
// the Line; it must not be mutated.
func (l Line) Words() []uint64 { return l.words }

// Origin returns the remote pointer the snapshot was read from, with the
// delete mark cleared; the cached-hint bit is kept.
func (l Line) Origin() rmem.Ptr { return l.origin }
