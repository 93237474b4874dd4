// Package telemetry receives timing and identity events from method
// execution. Tracers are passive: nothing they do may influence execution.
package telemetry

import (
	"fmt"
	"time"

	"k8s.io/klog/v2"
)

// Kind says what an event measures.
type Kind string

const (
	KindMethod   Kind = "method"
	KindKernel   Kind = "kernel"
	KindDelegate Kind = "delegate"
)

// Event identifies the thing being timed.
type Event struct {
	Kind   Kind
	Method string
	// RunID is shared by every event of one execution of the method.
	RunID string
	// Chain and Instruction locate the instruction; both are -1 for method events.
	Chain       int
	Instruction int
	// Name is the operator key or the delegate backend ID.
	Name string
}

// Span is an event in flight.
type Span struct {
	Event Event
	Start time.Time
}

func StartSpan(ev Event) Span {
	return Span{Event: ev, Start: time.Now()}
}

func (s Span) Elapsed() time.Duration {
	return time.Since(s.Start)
}

// Tracer is notified when an event begins and ends.
type Tracer interface {
	Begin(ev Event) Span
	// End reports the outcome; err is the execution error, if any.
	End(span Span, err error)
}

type nopTracer struct{}

// Nop discards all events.
func Nop() Tracer { return nopTracer{} }

func (nopTracer) Begin(ev Event) Span { return Span{Event: ev} }

func (nopTracer) End(Span, error) {}

type multiTracer []Tracer

// Multi fans events out to every tracer, in order.
func Multi(tracers ...Tracer) Tracer {
	var flat multiTracer
	for _, t := range tracers {
		if t == nil {
			continue
		}
		if m, ok := t.(multiTracer); ok {
			flat = append(flat, m...)
			continue
		}
		flat = append(flat, t)
	}
	return flat
}

// Begin and End isolate each tracer, so one that panics does not starve
// the ones after it.
func (m multiTracer) Begin(ev Event) Span {
	for _, t := range m {
		guard(ev, "Begin", func() { t.Begin(ev) })
	}
	return StartSpan(ev)
}

func (m multiTracer) End(span Span, err error) {
	for _, t := range m {
		guard(span.Event, "End", func() { t.End(span, err) })
	}
}

func guard(ev Event, call string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			klog.Background().Error(fmt.Errorf("%v", r), "tracer panicked", "call", call, "kind", ev.Kind, "method", ev.Method)
		}
	}()
	fn()
}
