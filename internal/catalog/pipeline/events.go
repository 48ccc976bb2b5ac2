package pipeline

import (
	"time"

	"github.com/egdb/catalog-mirror/internal/catalog/diff"
)

// EventKind names a pipeline event.
type EventKind string

const (
	EventRunStarted      EventKind = "run_started"
	EventNamespaceState  EventKind = "namespace_state"
	EventNamespaceDone   EventKind = "namespace_done"
	EventNamespaceFailed EventKind = "namespace_failed"
	EventIndexComplete   EventKind = "index_complete"
	EventRunComplete     EventKind = "run_complete"
)

// Event is emitted to the Observer as a run progresses.
type Event struct {
	Kind      EventKind
	RunID     string
	Namespace string
	State     State
	Items     int
	Changes   []diff.Change
	Err       error
	Stats     *Stats
	Time      time.Time
}

// Observer receives events. Observe is called synchronously from the run.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(e Event) { f(e) }
