package inbox

import (
	"context"
	"sync"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
)

// Stream is the node-facing side of one invocation mailbox.
// Next yields the resolved input first, then injected turns, until the node
// closes the stream, the turn limit is reached or the mailbox is destroyed.
type Stream struct {
	id       string
	nodeID   string
	input    any
	maxTurns int

	ch   chan domain.Message
	done chan struct{}

	mu        sync.Mutex
	closed    bool
	inputSent bool
	turns     int
	onTurn    func(domain.Message)
}

func newStream(id, nodeID string, input any, capacity, maxTurns int) *Stream {
	return &Stream{
		id:       id,
		nodeID:   nodeID,
		input:    input,
		maxTurns: maxTurns,
		ch:       make(chan domain.Message, capacity),
		done:     make(chan struct{}),
	}
}

// ID returns the invocation id.
func (s *Stream) ID() string { return s.id }

// NodeID returns the id of the node owning the invocation.
func (s *Stream) NodeID() string { return s.nodeID }

// OnTurn registers a hook run for every injected turn the node consumes.
func (s *Stream) OnTurn(fn func(domain.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTurn = fn
}

// Turns reports how many injected turns were consumed.
func (s *Stream) Turns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns
}

// Next blocks until the next message is available. ok is false once the stream is
// closed or the turn limit is reached. A done ctx returns its cause.
func (s *Stream) Next(ctx context.Context) (msg domain.Message, ok bool, err error) {
	s.mu.Lock()
	if !s.inputSent {
		s.inputSent = true
		s.mu.Unlock()
		return domain.Message{Content: s.input, From: domain.InputRef}, true, nil
	}
	if s.maxTurns > 0 && s.turns >= s.maxTurns {
		s.closeLocked()
		s.mu.Unlock()
		return domain.Message{}, false, nil
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return domain.Message{}, false, nil
	default:
	}

	select {
	case msg = <-s.ch:
	case <-s.done:
		return domain.Message{}, false, nil
	case <-ctx.Done():
		return domain.Message{}, false, context.Cause(ctx)
	}

	s.mu.Lock()
	s.turns++
	hook := s.onTurn
	s.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
	return msg, true, nil
}

// Close ends the stream. Messages sent afterwards are dropped.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Stream) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

// Closed reports whether the stream accepts no more messages.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) enqueue(msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &domain.MailboxClosedError{InvocationID: s.id}
	}
	select {
	case s.ch <- msg:
		return nil
	default:
		return ErrMailboxFull
	}
}
