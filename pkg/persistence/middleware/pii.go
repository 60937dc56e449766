package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/ports"
)

// Mask replaces the value of every redacted key.
const Mask = "***"

type piiMiddleware struct {
	next     ports.RunStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks values of keys matching
// the patterns before they reach the store: in event payloads, run input,
// node outputs and fixtures. The live run is never modified.
func NewPIIMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("redact pattern %q: %w", p, err)
		}
		patterns[i] = re
	}
	return func(next ports.RunStore) ports.RunStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}, nil
}

func (m *piiMiddleware) AppendEvent(ctx context.Context, runID string, event domain.Event) error {
	masked, err := m.maskEvent(event)
	if err != nil {
		return err
	}
	return m.next.AppendEvent(ctx, runID, masked)
}

func (m *piiMiddleware) SaveSnapshot(ctx context.Context, snapshot *domain.Snapshot) error {
	cloned := *snapshot
	cloned.Input = m.maskValue(snapshot.Input)
	if snapshot.Outputs != nil {
		cloned.Outputs = m.maskValue(snapshot.Outputs).(map[string]any)
	}
	if snapshot.Fixtures != nil {
		cloned.Fixtures = make(map[string]domain.Fixture, len(snapshot.Fixtures))
		for k, f := range snapshot.Fixtures {
			f.Output = m.maskValue(f.Output)
			events := make([]domain.Event, len(f.Events))
			for i, ev := range f.Events {
				masked, err := m.maskEvent(ev)
				if err != nil {
					return err
				}
				events[i] = masked
			}
			if f.Events == nil {
				events = nil
			}
			f.Events = events
			cloned.Fixtures[k] = f
		}
	}
	return m.next.SaveSnapshot(ctx, &cloned)
}

func (m *piiMiddleware) GetSnapshot(ctx context.Context, runID string) (*domain.Snapshot, error) {
	return m.next.GetSnapshot(ctx, runID)
}

func (m *piiMiddleware) Load(ctx context.Context, runID string) (*domain.Recording, error) {
	return m.next.Load(ctx, runID)
}

func (m *piiMiddleware) List(ctx context.Context, query domain.RunQuery) ([]domain.RunSummary, error) {
	return m.next.List(ctx, query)
}

func (m *piiMiddleware) Delete(ctx context.Context, runID string) error {
	return m.next.Delete(ctx, runID)
}

// maskEvent masks a copy of the payload. The payload goes through its wire
// form, which decodes into fresh values.
func (m *piiMiddleware) maskEvent(ev domain.Event) (domain.Event, error) {
	if ev.Payload == nil {
		return ev, nil
	}
	raw, err := json.Marshal(ev.Payload)
	if err != nil {
		return ev, fmt.Errorf("redact %s: %w", ev.Name(), err)
	}
	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		return ev, fmt.Errorf("redact %s: %w", ev.Name(), err)
	}
	maskAny(body, m.patterns)
	raw, err = json.Marshal(body)
	if err != nil {
		return ev, fmt.Errorf("redact %s: %w", ev.Name(), err)
	}
	p, err := domain.DecodePayload(ev.Name(), raw)
	if err != nil {
		return ev, err
	}
	ev.Payload = p
	return ev, nil
}

func (m *piiMiddleware) maskValue(v any) any {
	out := deepCopy(v)
	maskAny(out, m.patterns)
	return out
}

// Helpers

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, sub := range t {
			out[k] = deepCopy(sub)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, sub := range t {
			out[i] = deepCopy(sub)
		}
		return out
	default:
		return v
	}
}

func maskAny(v any, patterns []*regexp.Regexp) {
	switch t := v.(type) {
	case map[string]any:
		maskMap(t, patterns)
	case []any:
		for _, sub := range t {
			maskAny(sub, patterns)
		}
	}
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		masked := false
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = Mask
				masked = true
				break
			}
		}
		if !masked {
			maskAny(v, patterns)
		}
	}
}
