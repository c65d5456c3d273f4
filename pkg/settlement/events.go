package settlement

import (
	"sync"

	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
)

// EventSink receives notifications after a state change is applied. Emit is
// called with the engine lock held and must not call back into the engine.
type EventSink interface {
	Emit(event models.Event)
}

type discardSink struct{}

func (discardSink) Emit(models.Event) {}

// EventRecorder keeps every emitted event in memory
type EventRecorder struct {
	mu     sync.Mutex
	events []models.Event
}

// Emit implements EventSink
func (r *EventRecorder) Emit(event models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of everything recorded so far
func (r *EventRecorder) Events() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of type t
func (r *EventRecorder) OfType(t models.EventType) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
