package searcher

import (
	"sync"
	"sync/atomic"
)

// Handle addresses a node in a store. Handles stay valid until the store is reset or compacted.
type Handle int32

const nilHandle Handle = -1

const (
	chunkBits = 10
	chunkSize = 1 << chunkBits
	chunkMask = chunkSize - 1
)

type chunk [chunkSize]node

// store is an arena of nodes. Nodes never move once allocated: the store grows by appending
// fixed-size chunks to a copy-on-grow directory, so lookups take no lock.
type store struct {
	mu     sync.Mutex // serializes allocation
	chunks atomic.Pointer[[]*chunk]
	size   atomic.Int32
}

func newStore() *store {
	s := &store{}
	s.chunks.Store(&[]*chunk{})
	return s
}

// get returns the node for a handle obtained from alloc.
func (s *store) get(h Handle) *node {
	chunks := *s.chunks.Load()
	return &chunks[h>>chunkBits][h&chunkMask]
}

// alloc reserves a zeroed node. The caller initialises it before publishing the handle.
func (s *store) alloc() (Handle, *node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := Handle(s.size.Load())
	chunks := *s.chunks.Load()
	if int(h>>chunkBits) == len(chunks) {
		grown := make([]*chunk, len(chunks), len(chunks)+1)
		copy(grown, chunks)
		grown = append(grown, new(chunk))
		s.chunks.Store(&grown)
		chunks = grown
	}
	s.size.Store(int32(h) + 1)
	return h, &chunks[h>>chunkBits][h&chunkMask]
}

func (s *store) len() int {
	return int(s.size.Load())
}

// reset drops every node.
func (s *store) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chunks.Store(&[]*chunk{})
	s.size.Store(0)
}

// compact copies the subtree under root into a fresh store and returns it along with the
// root's new handle. Statistics and structure are preserved; the new root has no parent.
// It must not run concurrently with a search.
func (s *store) compact(root Handle) (*store, Handle) {
	dst := newStore()
	newRoot, _ := dst.alloc()
	dst.get(newRoot).copyFrom(s.get(root), nilHandle)

	type pending struct{ from, to Handle }
	queue := []pending{{root, newRoot}}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]

		to := dst.get(p.to)
		for i, child := range to.children {
			h, n := dst.alloc()
			n.copyFrom(s.get(child), p.to)
			to.children[i] = h
			queue = append(queue, pending{child, h})
		}
	}
	return dst, newRoot
}
