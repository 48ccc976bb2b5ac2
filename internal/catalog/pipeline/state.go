package pipeline

import (
	"fmt"

	"github.com/egdb/catalog-mirror/internal/catalog/fetch"
)

// State is a step of namespace processing.
type State string

// Namespace states. The fetch states mirror fetch.Stage.
const (
	StatePending          State = "pending"
	StateListing          State = "listing"
	StateFallbackOffers   State = "fallback-offers"
	StateItemResolution   State = "item-resolution"
	StateHiddenResolution State = "hidden-resolution"
	StateDiff             State = "diff"
	StatePersist          State = "persist"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// transitions lists the states reachable from each state. A namespace that
// turns out empty (not found, no offers) goes straight from its fetch state
// to Diff with no items.
var transitions = map[State][]State{
	StatePending:          {StateListing},
	StateListing:          {StateFallbackOffers, StateHiddenResolution, StateDiff, StateFailed},
	StateFallbackOffers:   {StateItemResolution, StateDiff, StateFailed},
	StateItemResolution:   {StateHiddenResolution, StateDiff, StateFailed},
	StateHiddenResolution: {StateDiff, StateFailed},
	StateDiff:             {StatePersist, StateFailed},
	StatePersist:          {StateDone, StateFailed},
}

// CanTransition reports whether from → to is a legal step.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends a namespace.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

func stateForStage(stage fetch.Stage) State {
	switch stage {
	case fetch.StageListing:
		return StateListing
	case fetch.StageFallbackOffers:
		return StateFallbackOffers
	case fetch.StageItemResolution:
		return StateItemResolution
	case fetch.StageHiddenResolution:
		return StateHiddenResolution
	default:
		return State(stage)
	}
}

// machine tracks one namespace through its states.
type machine struct {
	namespace string
	state     State
	onEnter   func(ns string, s State)
}

func newMachine(ns string, onEnter func(string, State)) *machine {
	return &machine{namespace: ns, state: StatePending, onEnter: onEnter}
}

// enter moves to s. An illegal step is a programming error and is returned
// rather than applied.
func (m *machine) enter(s State) error {
	if !CanTransition(m.state, s) {
		return fmt.Errorf("namespace %s: illegal transition %s -> %s", m.namespace, m.state, s)
	}
	m.state = s
	if m.onEnter != nil {
		m.onEnter(m.namespace, s)
	}
	return nil
}
