package memory

// Manager groups the allocation scopes available to one method instance.
// Independent methods running concurrently must each have their own Manager.
type Manager struct {
	// Planned backs buffers that live as long as the method: constants,
	// intermediates and outputs laid out by the plan.
	Planned Allocator
	// Scratch backs per-instruction temporaries; it is reset after every
	// instruction. May be nil if no kernel needs scratch space.
	Scratch Allocator
}

func NewManager(planned, scratch Allocator) *Manager {
	return &Manager{Planned: planned, Scratch: scratch}
}

// NewArenaManager builds a Manager over two fresh arenas.
func NewArenaManager(plannedBytes, scratchBytes int) *Manager {
	var scratch Allocator
	if scratchBytes > 0 {
		scratch = NewArena("scratch", scratchBytes)
	}
	return NewManager(NewArena("planned", plannedBytes), scratch)
}
