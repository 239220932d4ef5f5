// Package heap models the block allocator the runtime draws fiber control
// blocks and stack buffers from.
//
// The Go runtime owns real memory, so an Allocator here is an accounting
// device: it enforces a byte budget so that exhaustion, and the fallbacks the
// scheduler takes when it happens, behave exactly as on a constrained device.
package heap

import (
	"sync"

	fberrors "github.com/randalmurphal/fiberbus/pkg/fiberbus/errors"
)

// Block is a granted allocation. The zero Block is "no allocation".
type Block struct {
	id   uint64
	size int
}

// Size returns the number of bytes granted.
func (b Block) Size() int {
	return b.size
}

// IsZero reports whether b is the empty block.
func (b Block) IsZero() bool {
	return b.id == 0
}

// Allocator hands out and reclaims blocks.
// Implementations must be safe for concurrent use.
type Allocator interface {
	// Alloc grants size bytes or returns ErrNoResources.
	Alloc(size int) (Block, error)

	// Free returns a block. Freeing the zero Block or a block twice is a no-op.
	Free(b Block)
}

// Budget is an Allocator with a fixed capacity in bytes.
// A capacity of zero or less means unlimited.
type Budget struct {
	mu       sync.Mutex
	capacity int
	inUse    int
	nextID   uint64
	live     map[uint64]int
}

// Compile-time interface check.
var _ Allocator = (*Budget)(nil)

// NewBudget creates an allocator that refuses requests beyond capacity bytes.
func NewBudget(capacity int) *Budget {
	return &Budget{
		capacity: capacity,
		live:     make(map[uint64]int),
	}
}

// Unlimited returns an allocator that never runs out.
func Unlimited() *Budget {
	return NewBudget(0)
}

// Alloc implements Allocator.
func (h *Budget) Alloc(size int) (Block, error) {
	if size <= 0 {
		return Block{}, fberrors.ErrInvalidParameter
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.capacity > 0 && h.inUse+size > h.capacity {
		return Block{}, fberrors.ErrNoResources
	}

	h.nextID++
	h.live[h.nextID] = size
	h.inUse += size
	return Block{id: h.nextID, size: size}, nil
}

// Free implements Allocator.
func (h *Budget) Free(b Block) {
	if b.IsZero() {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	size, ok := h.live[b.id]
	if !ok {
		return
	}
	delete(h.live, b.id)
	h.inUse -= size
}

// InUse returns the number of bytes currently granted.
func (h *Budget) InUse() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inUse
}

// Available returns the remaining bytes, or -1 when unlimited.
func (h *Budget) Available() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.capacity <= 0 {
		return -1
	}
	return h.capacity - h.inUse
}

// Blocks returns the number of live blocks.
func (h *Budget) Blocks() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.live)
}
