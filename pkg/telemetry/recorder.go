package telemetry

import (
	"sync"
	"time"
)

// Record is one completed event.
type Record struct {
	Event    Event
	Duration time.Duration
	Err      error
}

// Recorder keeps completed events in memory, in completion order.
type Recorder struct {
	mu      sync.Mutex
	records []Record
	open    int
}

var _ Tracer = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Begin(ev Event) Span {
	r.mu.Lock()
	r.open++
	r.mu.Unlock()
	return StartSpan(ev)
}

func (r *Recorder) End(span Span, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open--
	r.records = append(r.records, Record{Event: span.Event, Duration: span.Elapsed(), Err: err})
}

// Records returns a copy of everything recorded so far.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Instructions returns the recorded kernel and delegate events, dropping method events.
func (r *Recorder) Instructions() []Event {
	var out []Event
	for _, rec := range r.Records() {
		if rec.Event.Kind == KindMethod {
			continue
		}
		out = append(out, rec.Event)
	}
	return out
}

// Open is the number of events begun but not ended.
func (r *Recorder) Open() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
	r.open = 0
}
