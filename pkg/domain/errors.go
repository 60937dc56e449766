package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrCompile matches every flow validation error raised before a run starts.
	ErrCompile = errors.New("flow compile error")

	ErrUnresolvedBinding    = errors.New("unresolved binding")
	ErrNodeExecution        = errors.New("node execution failed")
	ErrTimeout              = errors.New("node timed out")
	ErrConcurrentPrompt     = errors.New("a prompt is already pending")
	ErrMailboxClosed        = errors.New("mailbox closed")
	ErrReplayFixtureMissing = errors.New("replay fixture missing")
	ErrAborted              = errors.New("run aborted")
	ErrInvalidInput         = errors.New("invalid flow input")

	// ErrRunNotFound is returned when a run id cannot be found in the store.
	ErrRunNotFound = errors.New("run not found")
	// ErrFlowNotFound is returned when a loader has no flow with the given name.
	ErrFlowNotFound = errors.New("flow not found")
	// ErrUnknownPrompt is returned when a reply targets no pending prompt.
	ErrUnknownPrompt = errors.New("unknown prompt")
	// ErrUnknownTarget is returned when a message has no open mailbox to go to.
	ErrUnknownTarget = errors.New("no open mailbox for target")
)

// CycleError reports a cycle that does not pass through a loop-control node.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected: %s", strings.Join(e.Path, " -> "))
}

func (e *CycleError) Is(target error) bool { return target == ErrCompile }

// UnknownNodeTypeError reports a node whose type is not registered.
type UnknownNodeTypeError struct {
	NodeID string
	Type   string
}

func (e *UnknownNodeTypeError) Error() string {
	return fmt.Sprintf("node %q: unknown node type %q", e.NodeID, e.Type)
}

func (e *UnknownNodeTypeError) Is(target error) bool { return target == ErrCompile }

// DanglingEdgeError reports an edge endpoint that names no node.
type DanglingEdgeError struct {
	From    string
	To      string
	Missing string
}

func (e *DanglingEdgeError) Error() string {
	return fmt.Sprintf("edge %s -> %s: node %q does not exist", e.From, e.To, e.Missing)
}

func (e *DanglingEdgeError) Is(target error) bool { return target == ErrCompile }

// DuplicateNodeError reports two nodes sharing an id, or a node using a reserved id.
type DuplicateNodeError struct {
	NodeID string
}

func (e *DuplicateNodeError) Error() string {
	if e.NodeID == InputRef {
		return fmt.Sprintf("node id %q is reserved", e.NodeID)
	}
	return fmt.Sprintf("duplicate node id %q", e.NodeID)
}

func (e *DuplicateNodeError) Is(target error) bool { return target == ErrCompile }

// ExpressionError reports a template or condition that does not parse.
type ExpressionError struct {
	Where string
	Err   error
}

func (e *ExpressionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Where, e.Err)
}

func (e *ExpressionError) Unwrap() error { return e.Err }

func (e *ExpressionError) Is(target error) bool { return target == ErrCompile }

// UnknownReferenceError reports an expression that names a node absent from the flow.
type UnknownReferenceError struct {
	Where     string
	Reference string
}

func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("%s: reference to unknown node %q", e.Where, e.Reference)
}

func (e *UnknownReferenceError) Is(target error) bool { return target == ErrCompile }

// UnresolvedBindingError reports a reference to a node that has produced no output yet.
type UnresolvedBindingError struct {
	NodeID    string
	Reference string
}

func (e *UnresolvedBindingError) Error() string {
	return fmt.Sprintf("node %q: binding %q is not resolved", e.NodeID, e.Reference)
}

func (e *UnresolvedBindingError) Is(target error) bool { return target == ErrUnresolvedBinding }

// NodeExecutionError wraps the error returned by a node definition.
type NodeExecutionError struct {
	NodeID string
	Err    error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %q: %v", e.NodeID, e.Err)
}

func (e *NodeExecutionError) Unwrap() error { return e.Err }

func (e *NodeExecutionError) Is(target error) bool { return target == ErrNodeExecution }

// TimeoutError reports a node that exceeded its policy timeout.
type TimeoutError struct {
	NodeID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("node %q: timed out after %s", e.NodeID, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ConcurrentPromptError is returned when a second prompt is opened while one is pending.
type ConcurrentPromptError struct {
	PendingID string
}

func (e *ConcurrentPromptError) Error() string {
	return fmt.Sprintf("prompt %q is still pending", e.PendingID)
}

func (e *ConcurrentPromptError) Is(target error) bool { return target == ErrConcurrentPrompt }

// MailboxClosedError is returned when a message targets a finished invocation.
type MailboxClosedError struct {
	InvocationID string
}

func (e *MailboxClosedError) Error() string {
	return fmt.Sprintf("mailbox %q is closed", e.InvocationID)
}

func (e *MailboxClosedError) Is(target error) bool { return target == ErrMailboxClosed }

// ReplayFixtureMissingError is returned in replay mode when no recorded output
// matches the resolved input of a node.
type ReplayFixtureMissingError struct {
	RunID  string
	NodeID string
	Key    string
}

func (e *ReplayFixtureMissingError) Error() string {
	return fmt.Sprintf("replay of run %q: no fixture for node %q (input hash %s); re-record the run or check the node input",
		e.RunID, e.NodeID, e.Key)
}

func (e *ReplayFixtureMissingError) Is(target error) bool { return target == ErrReplayFixtureMissing }

// AbortError is the cancellation cause of an aborted run.
type AbortError struct {
	Reason string
}

func (e *AbortError) Error() string {
	if e.Reason == "" {
		return ErrAborted.Error()
	}
	return fmt.Sprintf("%v: %s", ErrAborted, e.Reason)
}

func (e *AbortError) Is(target error) bool { return target == ErrAborted }

// InputValidationError reports flow input that does not match the declared inputs.
type InputValidationError struct {
	Flow string
	Err  error
}

func (e *InputValidationError) Error() string {
	return fmt.Sprintf("flow %q: %v", e.Flow, e.Err)
}

func (e *InputValidationError) Unwrap() error { return e.Err }

func (e *InputValidationError) Is(target error) bool { return target == ErrInvalidInput }

// FailureKindOf classifies an error returned from node execution.
func FailureKindOf(err error) FailureKind {
	switch {
	case errors.Is(err, ErrTimeout):
		return FailureTimeout
	case errors.Is(err, ErrUnresolvedBinding):
		return FailureBinding
	case errors.Is(err, ErrReplayFixtureMissing):
		return FailureReplay
	case errors.Is(err, ErrAborted):
		return FailureAborted
	default:
		return FailureExecution
	}
}
