package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/Open-Harness/open-harness-sub011/internal/logging"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
)

// eventQueue buffers hub events for one client. Hub listeners run inline with
// emission, so push never blocks; the client drains at its own pace.
type eventQueue struct {
	mu     sync.Mutex
	events []domain.Event
	ready  chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{ready: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev domain.Event) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *eventQueue) drain() []domain.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}

// eventStream is the event history of a run followed by its live events.
// A run that is no longer in memory is served from its recording.
type eventStream struct {
	backlog []domain.Event
	queue   *eventQueue
	stop    func()
}

func (s *Server) openStream(ctx context.Context, runID string) (*eventStream, error) {
	run, err := s.Runs.Get(runID)
	if err != nil {
		if !errors.Is(err, domain.ErrRunNotFound) {
			return nil, err
		}
		rec, err := s.Runs.Engine().Store().Load(ctx, runID)
		if err != nil {
			return nil, err
		}
		return &eventStream{backlog: rec.Events, stop: func() {}}, nil
	}

	q := newEventQueue()
	history, unsubscribe := run.Hub().Tail(q.push)
	return &eventStream{backlog: history, queue: q, stop: unsubscribe}, nil
}

// Each calls fn for every event until run:complete, the end of a recording,
// an error from fn, or ctx is done.
func (st *eventStream) Each(ctx context.Context, fn func(domain.Event) error) error {
	defer st.stop()

	emit := func(events []domain.Event) (bool, error) {
		for _, ev := range events {
			if err := fn(ev); err != nil {
				return true, err
			}
			if ev.Name() == domain.EventRunComplete {
				return true, nil
			}
		}
		return false, nil
	}

	if done, err := emit(st.backlog); done || st.queue == nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-st.queue.ready:
			if done, err := emit(st.queue.drain()); done {
				return err
			}
		}
	}
}

// patternFilter keeps events matching any comma separated pattern. An empty
// filter keeps everything.
func patternFilter(raw string) func(domain.EventName) bool {
	var patterns []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	return func(name domain.EventName) bool {
		if len(patterns) == 0 {
			return true
		}
		for _, p := range patterns {
			if domain.MatchName(p, name) {
				return true
			}
		}
		return false
	}
}

// StreamEvents handles GET /runs/{id}/events (SSE). Every event is one
// "data: <json>" frame; the stream ends with "data: [DONE]".
func (s *Server) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.Logger.Error("StreamEvents: streaming not supported")
		return
	}

	runID := chi.URLParam(r, "id")
	stream, err := s.openStream(r.Context(), runID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	keep := patternFilter(r.URL.Query().Get("filter"))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.Logger.Debug("SSE client connected", logging.RunID(runID))
	err = stream.Each(r.Context(), func(ev domain.Event) error {
		if !keep(ev.Name()) {
			return nil
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		s.Logger.Debug("SSE client gone", logging.RunID(runID), logging.Err(err))
		return
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
