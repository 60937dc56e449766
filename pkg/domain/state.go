package domain

import "time"

// RunStatus is the lifecycle of one run.
type RunStatus string

const (
	StatusIdle     RunStatus = "idle"
	StatusRunning  RunStatus = "running"
	StatusComplete RunStatus = "complete"
	StatusFailed   RunStatus = "failed"
	StatusAborted  RunStatus = "aborted"
)

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusAborted
}

// HubStatus is the externally visible connection status of a hub.
type HubStatus string

const (
	HubConnecting HubStatus = "connecting"
	HubRunning    HubStatus = "running"
	HubPaused     HubStatus = "paused"
	HubComplete   HubStatus = "complete"
	HubError      HubStatus = "error"
)

// Terminal reports whether the status can no longer change.
func (s HubStatus) Terminal() bool {
	return s == HubComplete || s == HubError
}

// FailureKind distinguishes why a task failed.
type FailureKind string

const (
	FailureExecution FailureKind = "execution"
	FailureTimeout   FailureKind = "timeout"
	FailureBinding   FailureKind = "binding"
	FailureAborted   FailureKind = "aborted"
	FailureReplay    FailureKind = "replay"
)

// ErrorMarker replaces the output of a node that failed under ContinueOnError.
type ErrorMarker struct {
	Error string      `json:"error"`
	Kind  FailureKind `json:"kind"`
}

// RunResult is what a finished run yields.
type RunResult struct {
	RunID    string         `json:"runId"`
	Status   RunStatus      `json:"status"`
	Outputs  map[string]any `json:"outputs"`
	Events   []Event        `json:"events"`
	Duration time.Duration  `json:"-"`
	Error    error          `json:"-"`
}

// DurationMs reports the run duration in milliseconds.
func (r *RunResult) DurationMs() int64 {
	return r.Duration.Milliseconds()
}

// Message is one turn injected into an agent mailbox.
type Message struct {
	Content any    `json:"content"`
	From    string `json:"from,omitempty"`
}

// PromptRequest is what a gate node asks of a human.
type PromptRequest struct {
	NodeID  string   `json:"nodeId,omitempty"`
	Text    string   `json:"text"`
	Choices []string `json:"choices,omitempty"`
}
