package domain

import "time"

// Fixture is the recorded outcome of one substitutable node invocation.
type Fixture struct {
	NodeID string      `json:"nodeId"`
	Type   string      `json:"type"`
	Output any         `json:"output,omitempty"`
	Error  string      `json:"error,omitempty"`
	Kind   FailureKind `json:"kind,omitempty"`

	// Events are the events the node emitted between task:start and its terminal event.
	Events []Event `json:"events,omitempty"`
}

// Snapshot is the final state of a run, saved once it completes.
type Snapshot struct {
	RunID       string             `json:"runId"`
	Flow        string             `json:"flow"`
	SessionID   string             `json:"sessionId,omitempty"`
	Status      RunStatus          `json:"status"`
	Input       any                `json:"input,omitempty"`
	Outputs     map[string]any     `json:"outputs,omitempty"`
	Error       string             `json:"error,omitempty"`
	Fixtures    map[string]Fixture `json:"fixtures,omitempty"`
	StartedAt   time.Time          `json:"startedAt"`
	CompletedAt time.Time          `json:"completedAt"`
}

// Summary strips the heavy fields of a snapshot for listings.
func (s *Snapshot) Summary() RunSummary {
	return RunSummary{
		RunID:       s.RunID,
		Flow:        s.Flow,
		Status:      s.Status,
		StartedAt:   s.StartedAt,
		CompletedAt: s.CompletedAt,
	}
}

// Recording is a persisted run: its ordered events plus its final snapshot.
type Recording struct {
	Snapshot
	Events []Event `json:"events"`
}

// RunSummary is one row of a store listing.
type RunSummary struct {
	RunID       string    `json:"runId"`
	Flow        string    `json:"flow"`
	Status      RunStatus `json:"status"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
}

// RunQuery filters a store listing. Zero fields match everything.
type RunQuery struct {
	Flow   string
	Status RunStatus
	Limit  int
}

// Match reports whether a summary passes the filter (Limit is applied by the caller).
func (q RunQuery) Match(s RunSummary) bool {
	if q.Flow != "" && q.Flow != s.Flow {
		return false
	}
	if q.Status != "" && q.Status != s.Status {
		return false
	}
	return true
}
