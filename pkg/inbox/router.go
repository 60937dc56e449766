// Package inbox allocates per-invocation mailboxes for agent nodes and routes
// messages injected while they run.
package inbox

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
)

// DefaultCapacity bounds each mailbox when the router is built with a non-positive capacity.
const DefaultCapacity = 32

// ErrMailboxFull is returned when a message arrives at a mailbox with no room left.
var ErrMailboxFull = errors.New("mailbox full")

// Router owns every mailbox of one run.
type Router struct {
	capacity int

	mu      sync.Mutex
	counter int
	open    map[string]*Stream
	order   []string
	retired map[string]bool
}

// NewRouter creates a router whose mailboxes hold at most capacity messages.
func NewRouter(capacity int) *Router {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Router{
		capacity: capacity,
		open:     make(map[string]*Stream),
		retired:  make(map[string]bool),
	}
}

// Open allocates a fresh invocation id and mailbox for nodeID.
func (r *Router) Open(nodeID string, input any, maxTurns int) *Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counter++
	id := fmt.Sprintf("%s#%d", nodeID, r.counter)
	s := newStream(id, nodeID, input, r.capacity, maxTurns)
	r.open[id] = s
	r.order = append(r.order, id)
	return s
}

// Release destroys the mailbox of an invocation whose node reached a terminal state.
func (r *Router) Release(invocationID string) {
	r.mu.Lock()
	s, ok := r.open[invocationID]
	if ok {
		delete(r.open, invocationID)
		r.retired[invocationID] = true
		for i, id := range r.order {
			if id == invocationID {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
	if ok {
		s.Close()
	}
}

// OpenCount reports the number of live mailboxes.
func (r *Router) OpenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}

// Send delivers msg to the most recently opened mailbox.
func (r *Router) Send(msg domain.Message) error {
	r.mu.Lock()
	var s *Stream
	if n := len(r.order); n > 0 {
		s = r.open[r.order[n-1]]
	}
	r.mu.Unlock()
	if s == nil {
		return domain.ErrUnknownTarget
	}
	return s.enqueue(msg)
}

// SendTo delivers msg to the open mailbox of the node with the given id.
func (r *Router) SendTo(name string, msg domain.Message) error {
	r.mu.Lock()
	var s *Stream
	for i := len(r.order) - 1; i >= 0; i-- {
		if cand := r.open[r.order[i]]; cand.nodeID == name {
			s = cand
			break
		}
	}
	r.mu.Unlock()
	if s == nil {
		return fmt.Errorf("%w: %q", domain.ErrUnknownTarget, name)
	}
	return s.enqueue(msg)
}

// SendToRun delivers msg to one invocation.
func (r *Router) SendToRun(invocationID string, msg domain.Message) error {
	r.mu.Lock()
	s, ok := r.open[invocationID]
	retired := r.retired[invocationID]
	r.mu.Unlock()
	switch {
	case ok:
		return s.enqueue(msg)
	case retired:
		return &domain.MailboxClosedError{InvocationID: invocationID}
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownTarget, invocationID)
	}
}

// CloseAll closes every open mailbox, waking nodes blocked on Next.
func (r *Router) CloseAll() {
	r.mu.Lock()
	streams := make([]*Stream, 0, len(r.open))
	for _, s := range r.open {
		streams = append(streams, s)
	}
	r.mu.Unlock()
	for _, s := range streams {
		s.Close()
	}
}
