package memory

import (
	"sync"
	"unsafe"
)

// Tracker wraps an Allocator and counts buffers handed out and given back.
// It is used to check that teardown releases exactly what was allocated.
type Tracker struct {
	Allocator

	mu          sync.Mutex
	outstanding map[*byte]int
	allocated   int
	released    int
	unknown     int
}

var (
	_ Allocator = (*Tracker)(nil)
	_ Releaser  = (*Tracker)(nil)
)

func NewTracker(inner Allocator) *Tracker {
	return &Tracker{
		Allocator:   inner,
		outstanding: make(map[*byte]int),
	}
}

func (t *Tracker) Allocate(size, alignment int) ([]byte, error) {
	buf, err := t.Allocator.Allocate(size, alignment)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outstanding[key(buf)]++
	t.allocated++
	return buf, nil
}

// Release records that buf is no longer in use. The memory itself is only
// reclaimed by Reset of the underlying allocator.
func (t *Tracker) Release(buf []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key(buf)
	if t.outstanding[k] == 0 {
		t.unknown++
		return
	}
	t.outstanding[k]--
	if t.outstanding[k] == 0 {
		delete(t.outstanding, k)
	}
	t.released++
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	t.outstanding = make(map[*byte]int)
	t.mu.Unlock()
	t.Allocator.Reset()
}

// Allocated is the number of successful allocations.
func (t *Tracker) Allocated() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allocated
}

// Released is the number of releases that matched an outstanding buffer.
func (t *Tracker) Released() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.released
}

// Outstanding is the number of buffers allocated but not yet released.
func (t *Tracker) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.outstanding {
		n += c
	}
	return n
}

// Unknown counts releases of buffers this tracker never handed out (double releases included).
func (t *Tracker) Unknown() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unknown
}

// Zero-length buffers have no stable address, so they share one key.
func key(buf []byte) *byte {
	if len(buf) == 0 {
		return nil
	}
	return unsafe.SliceData(buf)
}
