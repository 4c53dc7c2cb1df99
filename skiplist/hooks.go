package skiplist

// Test hooks (kept separate so instrumentation doesn't clutter logic).
var (
	// forcedHeightHook overrides the random tower height for a key when it
	// returns a value in [1, MaxHeight]. Promotion tests use it to build
	// towers of known shape.
	forcedHeightHook func(key Key) int

	// preUnlinkHook is invoked before the worker starts the physical
	// unlink of a node.
	preUnlinkHook func(key Key)
)
