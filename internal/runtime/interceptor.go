package runtime

import "context"

// Call describes one execution of a substitutable node.
type Call struct {
	RunID  string
	NodeID string
	Type   string
	Input  any

	// StartSeq is the sequence number of the task:start event of this execution.
	StartSeq uint64
}

// Outcome is a recorded node result.
type Outcome struct {
	Output any
	Err    error
}

// Interceptor sits between the scheduler and agent or long-lived nodes.
type Interceptor interface {
	// Substitute returns the recorded outcome of the call instead of running it.
	// handled is false when the node must run live. A non-nil error is fatal.
	Substitute(ctx context.Context, call Call) (out Outcome, handled bool, err error)

	// Capture is told the outcome of every live execution before its terminal event.
	Capture(call Call, out Outcome)
}
