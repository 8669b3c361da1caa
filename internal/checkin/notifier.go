package checkin

import (
	"sync"
	"time"
)

// Event is one orchestrator transition, published to observers (UI progress,
// metrics, logging).
type Event struct {
	AttemptID   string    `json:"attempt_id"`
	StudentID   string    `json:"student_id"`
	SessionID   string    `json:"session_id"`
	Step        Step      `json:"step"`
	FinalStatus Status    `json:"final_status"`
	FailReason  Reason    `json:"fail_reason,omitempty"`
	At          time.Time `json:"at"`
}

// Notifier fans out events to subscribers over buffered channels. A slow
// subscriber drops events rather than blocking the pipeline.
type Notifier struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan Event)}
}

// Subscribe registers an observer. The returned cancel func closes the
// channel and must be called when the observer is done.
func (n *Notifier) Subscribe() (<-chan Event, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.next
	n.next++
	ch := make(chan Event, 16)
	n.subs[id] = ch

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if existing, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking.
func (n *Notifier) Publish(evt Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
