package dashboard

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/egdb/catalog-mirror/internal/catalog/diff"
	"github.com/egdb/catalog-mirror/internal/catalog/pipeline"
)

// NamespaceData is broadcast when a namespace changes state.
type NamespaceData struct {
	Namespace string `json:"namespace"`
	State     string `json:"state"`
	Items     int    `json:"items,omitempty"`
	Changes   int    `json:"changes,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ChangesData carries the change records of one namespace.
type ChangesData struct {
	Namespace string        `json:"namespace"`
	Changes   []diff.Change `json:"changes"`
}

// Progress is the live view of the current run.
type Progress struct {
	RunID     string            `json:"runId,omitempty"`
	StartedAt time.Time         `json:"startedAt,omitempty"`
	Running   bool              `json:"running"`
	States    map[string]string `json:"states"`
	Done      int               `json:"done"`
	Failed    int               `json:"failed"`
	Changes   int               `json:"changes"`
	Stats     *pipeline.Stats   `json:"stats,omitempty"`

	mu sync.Mutex
}

func newProgress() *Progress {
	return &Progress{States: make(map[string]string)}
}

// Snapshot returns a copy safe to marshal while the run continues.
func (p *Progress) Snapshot() *Progress {
	p.mu.Lock()
	defer p.mu.Unlock()

	states := make(map[string]string, len(p.States))
	for ns, st := range p.States {
		states[ns] = st
	}
	return &Progress{
		RunID:     p.RunID,
		StartedAt: p.StartedAt,
		Running:   p.Running,
		States:    states,
		Done:      p.Done,
		Failed:    p.Failed,
		Changes:   p.Changes,
		Stats:     p.Stats,
	}
}

// Observe implements pipeline.Observer: it folds the event into the live
// progress and broadcasts it.
func (s *Server) Observe(e pipeline.Event) {
	p := s.progress
	p.mu.Lock()
	switch e.Kind {
	case pipeline.EventRunStarted:
		p.RunID = e.RunID
		p.StartedAt = e.Time
		p.Running = true
		p.States = make(map[string]string)
		p.Done, p.Failed, p.Changes = 0, 0, 0
		p.Stats = nil
	case pipeline.EventNamespaceState:
		p.States[e.Namespace] = string(e.State)
	case pipeline.EventNamespaceDone:
		p.States[e.Namespace] = string(pipeline.StateDone)
		p.Done++
		p.Changes += len(e.Changes)
	case pipeline.EventNamespaceFailed:
		p.States[e.Namespace] = string(pipeline.StateFailed)
		p.Failed++
	case pipeline.EventRunComplete:
		p.Running = false
		p.Stats = e.Stats
	}
	p.mu.Unlock()

	for _, msg := range messagesFor(e) {
		s.Broadcast(msg)
	}
}

func messagesFor(e pipeline.Event) []Message {
	var out []Message
	add := func(typ MessageType, v interface{}) {
		data, err := json.Marshal(v)
		if err != nil {
			return
		}
		out = append(out, Message{Type: typ, Timestamp: e.Time, Data: data})
	}

	switch e.Kind {
	case pipeline.EventRunStarted:
		add(MessageTypeRunStarted, map[string]interface{}{"runId": e.RunID})
	case pipeline.EventNamespaceState:
		add(MessageTypeNamespace, NamespaceData{Namespace: e.Namespace, State: string(e.State)})
	case pipeline.EventNamespaceDone:
		add(MessageTypeNamespace, NamespaceData{
			Namespace: e.Namespace,
			State:     string(pipeline.StateDone),
			Items:     e.Items,
			Changes:   len(e.Changes),
		})
		if len(e.Changes) > 0 {
			add(MessageTypeChanges, ChangesData{Namespace: e.Namespace, Changes: e.Changes})
		}
	case pipeline.EventNamespaceFailed:
		data := NamespaceData{Namespace: e.Namespace, State: string(pipeline.StateFailed)}
		if e.Err != nil {
			data.Error = e.Err.Error()
		}
		add(MessageTypeNamespace, data)
	case pipeline.EventIndexComplete:
		add(MessageTypeIndex, map[string]interface{}{"items": e.Items})
	case pipeline.EventRunComplete:
		add(MessageTypeRunComplete, e.Stats)
	}
	return out
}

// sortedStates lists namespace states in name order.
func sortedStates(states map[string]string) []NamespaceData {
	out := make([]NamespaceData, 0, len(states))
	for ns, st := range states {
		out = append(out, NamespaceData{Namespace: ns, State: st})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Namespace < out[j].Namespace })
	return out
}
