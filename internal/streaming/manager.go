// Package streaming fans turn events out to independent per-consumer queues.
//
// Each registered queue drains at its own pace. Delivery never blocks: when a
// queue is full the oldest pending event is dropped to make room for the
// newest one. A stalled consumer therefore loses its oldest backlog but keeps
// receiving fresh events, and always observes the completion marker last.
package streaming

import "sync"

// EventType tags the kind of payload carried by a StreamEvent.
type EventType string

const (
	EventText      EventType = "text"
	EventReasoning EventType = "reasoning"
	EventCitations EventType = "citations"
	EventAudio     EventType = "audio"
	EventError     EventType = "error"
	EventComplete  EventType = "complete"
)

// StreamEvent is one item fanned out to every consumer queue. Content is
// opaque to the manager.
type StreamEvent struct {
	Type     EventType
	Content  any
	Metadata map[string]string
}

// DropFunc is invoked once per evicted event when a full queue sheds its
// oldest entry. Used to feed the fan-out drop metric.
type DropFunc func(queueIndex int, evicted StreamEvent)

// Manager owns the consumer queues for one session plus a side-channel
// results accumulator that is not fanned out.
type Manager struct {
	mu      sync.Mutex
	queues  []chan StreamEvent
	results map[string][]any
	onDrop  DropFunc
}

func NewManager() *Manager {
	return &Manager{results: make(map[string][]any)}
}

// SetDropHandler installs the eviction callback. Call before the first Push.
func (m *Manager) SetDropHandler(fn DropFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDrop = fn
}

// AddQueue registers an independent consumer queue with the given capacity
// and returns its receive side. Queues are registered during session setup,
// before events start flowing.
func (m *Manager) AddQueue(capacity int) <-chan StreamEvent {
	if capacity <= 0 {
		capacity = 64
	}
	q := make(chan StreamEvent, capacity)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues = append(m.queues, q)
	return q
}

// Push delivers the event to every registered queue. Each delivery is
// independent: a full queue evicts its own oldest entry and never delays the
// others.
func (m *Manager) Push(ev StreamEvent) {
	m.mu.Lock()
	queues := m.queues
	onDrop := m.onDrop
	m.mu.Unlock()

	for i, q := range queues {
		deliver(q, ev, i, onDrop)
	}
}

// SignalCompletion delivers a terminal marker to every queue. Because each
// queue is FIFO and pushes for a turn all happen from the session task, the
// marker lands strictly after every content event already pushed.
func (m *Manager) SignalCompletion(token string) {
	m.Push(StreamEvent{
		Type:    EventComplete,
		Content: token,
	})
}

func deliver(q chan StreamEvent, ev StreamEvent, idx int, onDrop DropFunc) {
	for {
		select {
		case q <- ev:
			return
		default:
		}
		// Queue full: shed the oldest pending event and retry.
		select {
		case evicted := <-q:
			if onDrop != nil {
				onDrop(idx, evicted)
			}
		default:
			// A consumer drained the queue between our two selects; loop and
			// try the send again.
		}
	}
}

// AppendResult records a value under key in the shared accumulator. Results
// are a side-channel for later single-reader assembly (e.g. rebuilding the
// full transcript) and are not fanned out to queues.
func (m *Manager) AppendResult(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[key] = append(m.results[key], value)
}

// Results returns a snapshot copy of the accumulated values for key.
func (m *Manager) Results(key string) []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.results[key]
	out := make([]any, len(src))
	copy(out, src)
	return out
}

// ResetResults clears one accumulator key, typically between turns.
func (m *Manager) ResetResults(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.results, key)
}
