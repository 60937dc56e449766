package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EventName identifies the kind of an event on the wire.
type EventName string

const (
	EventRunStart      EventName = "run:start"
	EventRunComplete   EventName = "run:complete"
	EventPhaseStart    EventName = "phase:start"
	EventPhaseComplete EventName = "phase:complete"
	EventTaskStart     EventName = "task:start"
	EventTaskComplete  EventName = "task:complete"
	EventTaskFailed    EventName = "task:failed"
	EventTaskSkipped   EventName = "task:skipped"
	EventNodeStream    EventName = "node:stream"
	EventAgentStart    EventName = "agent:start"
	EventAgentMessage  EventName = "agent:message"
	EventAgentComplete EventName = "agent:complete"
	EventSessionPrompt EventName = "session:prompt"
	EventSessionReply  EventName = "session:reply"
	EventSessionAbort  EventName = "session:abort"
	EventDiagnostic    EventName = "diagnostic"
)

// Terminal reports whether the event ends a task.
func (n EventName) Terminal() bool {
	return n == EventTaskComplete || n == EventTaskFailed || n == EventTaskSkipped
}

// EventContext holds the ambient execution fields stamped on every event.
type EventContext struct {
	SessionID string `json:"sessionId,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Task      string `json:"task,omitempty"`
	Agent     string `json:"agent,omitempty"`
}

// Merge returns c with every non-empty field of o applied on top.
func (c EventContext) Merge(o EventContext) EventContext {
	if o.SessionID != "" {
		c.SessionID = o.SessionID
	}
	if o.Phase != "" {
		c.Phase = o.Phase
	}
	if o.Task != "" {
		c.Task = o.Task
	}
	if o.Agent != "" {
		c.Agent = o.Agent
	}
	return c
}

// IsZero reports whether no field is set.
func (c EventContext) IsZero() bool {
	return c == EventContext{}
}

// Payload is the tagged union of event bodies.
// Consumers switch on the concrete type; unknown kinds decode into *Unknown and are inert.
type Payload interface {
	EventName() EventName
}

// RunStart opens a run.
type RunStart struct {
	Flow  string `json:"flow"`
	Input any    `json:"input,omitempty"`
}

// RunComplete closes a run. It is always the last event.
type RunComplete struct {
	Status     RunStatus      `json:"status"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"durationMs"`
}

type PhaseStart struct {
	Name string `json:"name"`
}

type PhaseComplete struct {
	Name   string    `json:"name"`
	Status RunStatus `json:"status"`
}

type TaskStart struct {
	NodeID string `json:"nodeId"`
	Type   string `json:"type"`
}

type TaskComplete struct {
	NodeID     string `json:"nodeId"`
	Output     any    `json:"output,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

type TaskFailed struct {
	NodeID     string      `json:"nodeId"`
	Error      string      `json:"error"`
	Kind       FailureKind `json:"kind"`
	DurationMs int64       `json:"durationMs"`
}

type TaskSkipped struct {
	NodeID string `json:"nodeId"`
	Reason string `json:"reason"`
}

// NodeStream carries an incremental chunk from a streaming node.
type NodeStream struct {
	NodeID string `json:"nodeId"`
	Chunk  any    `json:"chunk"`
}

type AgentStart struct {
	NodeID       string `json:"nodeId"`
	InvocationID string `json:"invocationId"`
}

// AgentMessage is emitted when an agent consumes an injected mailbox turn.
type AgentMessage struct {
	InvocationID string `json:"invocationId"`
	Content      any    `json:"content"`
}

type AgentComplete struct {
	InvocationID string `json:"invocationId"`
	Turns        int    `json:"turns"`
}

// SessionPrompt asks a human for input. The run is paused until a reply or abort.
type SessionPrompt struct {
	PromptID string   `json:"promptId"`
	NodeID   string   `json:"nodeId,omitempty"`
	Text     string   `json:"text"`
	Choices  []string `json:"choices,omitempty"`
}

// SessionReply settles a prompt. Cancelled is set when the prompt ended
// without an answer (timeout, abort or a failing sibling).
type SessionReply struct {
	PromptID  string `json:"promptId"`
	Response  any    `json:"response"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

type SessionAbort struct {
	Reason string `json:"reason,omitempty"`
}

// Diagnostic reports a non-fatal anomaly, such as a dropped message or a panicking listener.
type Diagnostic struct {
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// Unknown keeps the raw body of an event kind this build does not understand.
type Unknown struct {
	Name EventName       `json:"-"`
	Raw  json.RawMessage `json:"-"`
}

func (*RunStart) EventName() EventName      { return EventRunStart }
func (*RunComplete) EventName() EventName   { return EventRunComplete }
func (*PhaseStart) EventName() EventName    { return EventPhaseStart }
func (*PhaseComplete) EventName() EventName { return EventPhaseComplete }
func (*TaskStart) EventName() EventName     { return EventTaskStart }
func (*TaskComplete) EventName() EventName  { return EventTaskComplete }
func (*TaskFailed) EventName() EventName    { return EventTaskFailed }
func (*TaskSkipped) EventName() EventName   { return EventTaskSkipped }
func (*NodeStream) EventName() EventName    { return EventNodeStream }
func (*AgentStart) EventName() EventName    { return EventAgentStart }
func (*AgentMessage) EventName() EventName  { return EventAgentMessage }
func (*AgentComplete) EventName() EventName { return EventAgentComplete }
func (*SessionPrompt) EventName() EventName { return EventSessionPrompt }
func (*SessionReply) EventName() EventName  { return EventSessionReply }
func (*SessionAbort) EventName() EventName  { return EventSessionAbort }
func (*Diagnostic) EventName() EventName    { return EventDiagnostic }
func (u *Unknown) EventName() EventName     { return u.Name }

// MarshalJSON keeps the raw body so unknown events survive a round trip.
func (u *Unknown) MarshalJSON() ([]byte, error) {
	if len(u.Raw) == 0 {
		return []byte("null"), nil
	}
	return u.Raw, nil
}

func newPayload(name EventName) Payload {
	switch name {
	case EventRunStart:
		return &RunStart{}
	case EventRunComplete:
		return &RunComplete{}
	case EventPhaseStart:
		return &PhaseStart{}
	case EventPhaseComplete:
		return &PhaseComplete{}
	case EventTaskStart:
		return &TaskStart{}
	case EventTaskComplete:
		return &TaskComplete{}
	case EventTaskFailed:
		return &TaskFailed{}
	case EventTaskSkipped:
		return &TaskSkipped{}
	case EventNodeStream:
		return &NodeStream{}
	case EventAgentStart:
		return &AgentStart{}
	case EventAgentMessage:
		return &AgentMessage{}
	case EventAgentComplete:
		return &AgentComplete{}
	case EventSessionPrompt:
		return &SessionPrompt{}
	case EventSessionReply:
		return &SessionReply{}
	case EventSessionAbort:
		return &SessionAbort{}
	case EventDiagnostic:
		return &Diagnostic{}
	default:
		return nil
	}
}

// DecodePayload turns a named raw body into its typed payload.
func DecodePayload(name EventName, raw json.RawMessage) (Payload, error) {
	p := newPayload(name)
	if p == nil {
		return &Unknown{Name: name, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", name, err)
	}
	return p, nil
}

// Event is an immutable, sequenced envelope emitted through the hub.
type Event struct {
	Seq       uint64
	Timestamp time.Time
	Context   EventContext
	Payload   Payload
}

// Name returns the event kind.
func (e Event) Name() EventName {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.EventName()
}

// wireEvent is the JSON shape shared by stores and transports.
type wireEvent struct {
	ID        string          `json:"id,omitempty"`
	Name      EventName       `json:"name"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
	Source    *EventContext   `json:"source,omitempty"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.Name(), err)
	}
	w := wireEvent{
		Name:      e.Name(),
		Payload:   body,
		Timestamp: e.Timestamp.UnixMilli(),
	}
	if e.Seq > 0 {
		w.ID = strconv.FormatUint(e.Seq, 10)
	}
	if !e.Context.IsZero() {
		ctx := e.Context
		w.Source = &ctx
	}
	return json.Marshal(w)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Name == "" {
		return fmt.Errorf("event without name")
	}
	p, err := DecodePayload(w.Name, w.Payload)
	if err != nil {
		return err
	}
	var seq uint64
	if w.ID != "" {
		seq, err = strconv.ParseUint(w.ID, 10, 64)
		if err != nil {
			return fmt.Errorf("event id %q: %w", w.ID, err)
		}
	}
	*e = Event{Seq: seq, Timestamp: time.UnixMilli(w.Timestamp), Payload: p}
	if w.Source != nil {
		e.Context = *w.Source
	}
	return nil
}

// MatchName reports whether name matches a pattern such as "task:*" or "*".
func MatchName(pattern string, name EventName) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(string(name), prefix)
	}
	return pattern == string(name)
}
