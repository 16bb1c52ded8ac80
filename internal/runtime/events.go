package runtime

import (
	"time"

	"github.com/google/uuid"
)

// EventKind classifies lifecycle notifications.
type EventKind string

const (
	EventStateTransition  EventKind = "state_transition"
	EventIterationStarted EventKind = "iteration_started"
	EventToolInvoked      EventKind = "tool_invoked"
	EventCompaction       EventKind = "compaction"
	EventRunFinished      EventKind = "run_finished"
)

// Event is one ordered lifecycle notification emitted during a run.
type Event struct {
	Kind      EventKind
	State     State
	Iteration int
	Tool      string
	Detail    string
	Time      time.Time
}

// Sink receives lifecycle events. Implementations must not block: the loop
// treats emission as fire-and-forget.
type Sink interface {
	Emit(Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// ChannelSink buffers events for an external observer. When the buffer is
// full the event is dropped rather than blocking the loop.
type ChannelSink struct {
	ch chan Event
}

// NewChannelSink builds a sink with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(e Event) {
	select {
	case s.ch <- e:
	default:
	}
}

// Events exposes the receive side for the observer.
func (s *ChannelSink) Events() <-chan Event { return s.ch }

// Close signals that no further events will arrive. Emit must not be called
// after Close.
func (s *ChannelSink) Close() { close(s.ch) }

// BlockerSink stores the human-facing question when a run escalates. The
// store is external; the runtime only hands the payload over.
type BlockerSink interface {
	StoreBlocker(taskID uuid.UUID, question string)
}

// NopBlockerSink discards blocker questions.
type NopBlockerSink struct{}

func (NopBlockerSink) StoreBlocker(uuid.UUID, string) {}
