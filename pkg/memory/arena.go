// Package memory provides the allocation scopes a method draws from: a
// planned arena for buffers that live as long as the method, and a scratch
// arena that is reclaimed between instructions.
package memory

import (
	"errors"
	"fmt"
	"unsafe"
)

// ErrOutOfMemory is returned (wrapped) when an allocator cannot satisfy a request.
var ErrOutOfMemory = errors.New("out of memory")

// Allocator hands out byte buffers from a fixed region.
type Allocator interface {
	// Allocate returns size bytes whose first byte is aligned to alignment,
	// which must be a power of two.
	Allocate(size, alignment int) ([]byte, error)
	// Reset makes the whole region available again. Buffers handed out
	// earlier must no longer be used.
	Reset()
}

// Releaser is implemented by allocators that track individual buffers.
type Releaser interface {
	Release(buf []byte)
}

// Arena is a bump allocator over a single buffer.
type Arena struct {
	name   string
	buf    []byte
	offset int
}

var _ Allocator = (*Arena)(nil)

// NewArena allocates a size-byte region.
func NewArena(name string, size int) *Arena {
	return NewArenaFromBuffer(name, make([]byte, size))
}

// NewArenaFromBuffer uses buf as the backing region; buf must outlive the arena.
func NewArenaFromBuffer(name string, buf []byte) *Arena {
	return &Arena{name: name, buf: buf}
}

func (a *Arena) Allocate(size, alignment int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("arena %q: negative allocation size %d", a.name, size)
	}
	if alignment <= 0 || alignment&(alignment-1) != 0 {
		return nil, fmt.Errorf("arena %q: alignment %d is not a power of two", a.name, alignment)
	}

	start := a.offset
	if len(a.buf) > 0 {
		base := uintptr(unsafe.Pointer(unsafe.SliceData(a.buf)))
		addr := base + uintptr(start)
		if rem := addr & uintptr(alignment-1); rem != 0 {
			start += alignment - int(rem)
		}
	}
	end := start + size
	if end > len(a.buf) {
		return nil, fmt.Errorf("arena %q: allocating %d bytes (align %d) with %d of %d used: %w",
			a.name, size, alignment, a.offset, len(a.buf), ErrOutOfMemory)
	}
	a.offset = end
	return a.buf[start:end:end], nil
}

func (a *Arena) Reset() {
	a.offset = 0
}

func (a *Arena) Name() string { return a.name }

// Used is the number of bytes consumed, including alignment padding.
func (a *Arena) Used() int { return a.offset }

func (a *Arena) Capacity() int { return len(a.buf) }
