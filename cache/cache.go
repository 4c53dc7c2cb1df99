// Package cache provides the per-process coherent line cache over remote
// nodes. Entries are snapshots keyed by canonical pointer; coherence is by
// explicit invalidation: a mutator that CASes a field of a node always
// invalidates that node's line before returning, and remote CASes are
// observed lazily because every CAS compares against the (possibly stale)
// word it read.
package cache

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/zeebo/xxh3"

	"github.com/EthanLavi/DistributedObjectCache/rmem"
)

// DepthAlways marks a read as always cache-eligible regardless of the
// depth threshold. Head sentinels and the root directory use it.
const DepthAlways = -1

const shardCount = 16

type shard struct {
	mu    sync.Mutex
	lines map[rmem.Ptr]Line
}

// Cache is one process's line cache. Read and Invalidate are safe for
// concurrent use by all local threads and give linearizable per-entry
// behaviour.
type Cache struct {
	cap    rmem.Capability
	floor  int
	shards [shardCount]shard

	hits   atomic.Uint64
	misses atomic.Uint64

	root    rmem.Ptr
	peers   []rmem.Ptr
	expects int
}

// New returns an empty cache. floor is the depth threshold: a read at
// depth d (with d = MaxHeight - height of the node) is cache-eligible when
// d < floor, so taller nodes are cached first and floor = 0 caches only
// DepthAlways reads and reads through hinted pointers.
func New(cap rmem.Capability, floor int) *Cache {
	c := &Cache{cap: cap, floor: floor}
	for i := range c.shards {
		c.shards[i].lines = make(map[rmem.Ptr]Line)
	}
	return c
}

// Floor returns the depth threshold the cache was built with.
func (c *Cache) Floor() int { return c.floor }

func (c *Cache) shardFor(p rmem.Ptr) *shard {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], p.Raw())
	return &c.shards[xxh3.Hash(b[:])%shardCount]
}

func (c *Cache) eligible(p rmem.Ptr, depth int) bool {
	return depth == DepthAlways || p.Hint() || depth < c.floor
}

// Read returns a snapshot of words remote words at p. Eligible reads are
// served from the cache when a line is present and inserted on miss; a
// pointer carrying the cached hint is eligible at any depth. An absent
// entry behind a hinted pointer is a plain miss.
//
// scratch, when non-nil and large enough, is used as the read target for
// non-eligible reads only; lines inserted into the cache always own their
// backing so a later hit never aliases a caller buffer.
func (c *Cache) Read(p rmem.Ptr, scratch []uint64, words, depth int) Line {
	key := p.Canonical()
	if c.eligible(p, depth) {
		sh := c.shardFor(key)
		sh.mu.Lock()
		line, ok := sh.lines[key]
		sh.mu.Unlock()
		if ok {
			c.hits.Add(1)
			return line
		}
		c.misses.Add(1)
		buf := make([]uint64, words)
		c.cap.Read(key, buf)
		line = Line{words: buf, origin: p.Unmark()}
		sh.mu.Lock()
		sh.lines[key] = line
		sh.mu.Unlock()
		return line
	}

	c.misses.Add(1)
	buf := scratch
	if cap(buf) < words {
		buf = make([]uint64, words)
	}
	buf = buf[:words]
	c.cap.Read(key, buf)
	return Line{words: buf, origin: p.Unmark()}
}

// ExtendedRead returns one snapshot of count contiguous objects of wordsPer
// words each, starting at p. Used for the multi-root directory array.
func (c *Cache) ExtendedRead(p rmem.Ptr, count, wordsPer, depth int) Line {
	key := p.Canonical()
	total := count * wordsPer
	if c.eligible(p, depth) {
		sh := c.shardFor(key)
		sh.mu.Lock()
		line, ok := sh.lines[key]
		sh.mu.Unlock()
		if ok && len(line.words) == total {
			c.hits.Add(1)
			return line
		}
		c.misses.Add(1)
		buf := make([]uint64, total)
		c.cap.Read(key, buf)
		line = Line{words: buf, origin: p.Unmark()}
		sh.mu.Lock()
		sh.lines[key] = line
		sh.mu.Unlock()
		return line
	}
	c.misses.Add(1)
	buf := make([]uint64, total)
	c.cap.Read(key, buf)
	return Line{words: buf, origin: p.Unmark()}
}

// Invalidate evicts the line for p. Must be called by a mutator after every
// successful CAS on a field of the pointed-to node.
func (c *Cache) Invalidate(p rmem.Ptr) {
	key := p.Canonical()
	sh := c.shardFor(key)
	sh.mu.Lock()
	delete(sh.lines, key)
	sh.mu.Unlock()
}

// Stats returns the hit and miss counts since construction.
func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// ClaimMaster designates this process as the bootstrapping one and
// allocates the one-time directory slot other processes read their
// starting pointer from. Returns the slot.
func (c *Cache) ClaimMaster() rmem.Ptr {
	c.root = c.cap.Allocate(1)
	return c.root
}

// Root returns this cache's directory slot, or Null before ClaimMaster.
func (c *Cache) Root() rmem.Ptr { return c.root }

// Init records the directory roots of the other processes' caches. The
// pub/sub service that carries invalidation traffic between them is an
// external collaborator; the cache only needs the roster.
func (c *Cache) Init(peerRoots []rmem.Ptr, expected int) {
	c.peers = append(c.peers[:0], peerRoots...)
	c.expects = expected
}

// Destroy releases the directory slot if this cache claimed it.
func (c *Cache) Destroy() {
	if c.root != rmem.Null {
		c.cap.Deallocate(c.root, 1)
		c.root = rmem.Null
	}
}
