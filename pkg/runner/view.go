package runner

import (
	"time"

	harness "github.com/Open-Harness/open-harness-sub011"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
)

// RunView is the client-facing state of a run, shared by the HTTP and MCP surfaces.
type RunView struct {
	RunID     string           `json:"runId"`
	Flow      string           `json:"flow"`
	Status    domain.RunStatus `json:"status"`
	Hub       domain.HubStatus `json:"hub,omitempty"`
	Replay    bool             `json:"replay,omitempty"`
	Outputs   map[string]any   `json:"outputs,omitempty"`
	Error     string           `json:"error,omitempty"`
	StartedAt time.Time        `json:"startedAt,omitzero"`

	// Prompt is the unanswered session prompt, if the run is paused on one.
	Prompt *domain.SessionPrompt `json:"prompt,omitempty"`

	// Agents lists the invocation ids whose mailboxes are open.
	Agents []string `json:"agents,omitempty"`
}

// Terminal reports whether the run has finished.
func (v RunView) Terminal() bool { return v.Status.Terminal() }

func liveView(run *harness.Run) RunView {
	h := run.Hub()
	view := RunView{
		RunID:  run.ID(),
		Flow:   run.Flow().Name(),
		Status: domain.StatusRunning,
		Hub:    h.Status(),
		Replay: run.Replaying(),
	}

	prompts := map[string]*domain.SessionPrompt{}
	var order []string
	agents := map[string]bool{}
	var agentOrder []string
	for _, ev := range h.History() {
		switch p := ev.Payload.(type) {
		case *domain.RunStart:
			view.StartedAt = ev.Timestamp
		case *domain.SessionPrompt:
			prompts[p.PromptID] = p
			order = append(order, p.PromptID)
		case *domain.SessionReply:
			delete(prompts, p.PromptID)
		case *domain.AgentStart:
			agents[p.InvocationID] = true
			agentOrder = append(agentOrder, p.InvocationID)
		case *domain.AgentComplete:
			delete(agents, p.InvocationID)
		case *domain.RunComplete:
			view.Status = p.Status
			view.Outputs = p.Outputs
			view.Error = p.Error
		}
	}
	if !view.Status.Terminal() {
		for i := len(order) - 1; i >= 0; i-- {
			if p, ok := prompts[order[i]]; ok {
				view.Prompt = p
				break
			}
		}
		for _, id := range agentOrder {
			if agents[id] {
				view.Agents = append(view.Agents, id)
			}
		}
	}
	return view
}

func snapshotView(snap *domain.Snapshot) RunView {
	return RunView{
		RunID:     snap.RunID,
		Flow:      snap.Flow,
		Status:    snap.Status,
		Outputs:   snap.Outputs,
		Error:     snap.Error,
		StartedAt: snap.StartedAt,
	}
}
