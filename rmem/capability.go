package rmem

// Capability grants access to remotely-addressable memory through one-sided
// operations. All addressing is in 8-byte words at canonical pointers; the
// implementation guarantees that CompareAndSwap on a well-aligned word is
// globally atomic and totally ordered with every other CAS on that address.
//
// The engine is written once against this interface and instantiated with
// either a real transport or the in-process CountingPool used by tests.
type Capability interface {
	// ID returns the calling process's id.
	ID() uint16

	// Allocate returns a pointer to a zeroed region of the given word
	// count inside a remotely-accessible segment owned by this process.
	Allocate(words int) Ptr

	// Deallocate releases an allocation. The caller must prove the region
	// quiescent (the epoch reclaimer does) before handing it back.
	Deallocate(p Ptr, words int)

	// Read copies len(dst) words starting at p into dst. The snapshot is
	// stable: it aliases no shared memory.
	Read(p Ptr, dst []uint64)

	// Write copies src into the words starting at p.
	Write(p Ptr, src []uint64)

	// CompareAndSwap atomically replaces the word at p with swap if it
	// equals expected, returning the pre-swap word either way.
	CompareAndSwap(p Ptr, expected, swap uint64) uint64

	// IsLocal reports whether p lives in this process's own segment.
	// Locality is a performance hint only.
	IsLocal(p Ptr) bool
}
