package recording

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
)

// Comparable reduces events to what must be identical between a live run and
// its replay: name, context and payload, without timestamps, durations and the
// run specific session id.
func Comparable(events []domain.Event) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		body, err := json.Marshal(ev.Payload)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", ev.Seq, err)
		}
		var payload any
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("event %d: %w", ev.Seq, err)
		}
		if m, ok := payload.(map[string]any); ok {
			delete(m, "durationMs")
		}
		ctx := ev.Context
		ctx.SessionID = ""
		out = append(out, map[string]any{
			"name":    string(ev.Name()),
			"context": ctx,
			"payload": payload,
		})
	}
	return out, nil
}

// Difference is the first position at which two event sequences diverge.
// A nil Want or Got means that sequence ended early.
type Difference struct {
	Index int            `json:"index"`
	Want  map[string]any `json:"want,omitempty"`
	Got   map[string]any `json:"got,omitempty"`
}

func (d *Difference) String() string {
	return fmt.Sprintf("event %d differs: want %v, got %v", d.Index, d.Want, d.Got)
}

// Diff compares two event sequences with Comparable and returns the first
// difference, or nil when they match.
func Diff(want, got []domain.Event) (*Difference, error) {
	a, err := Comparable(want)
	if err != nil {
		return nil, err
	}
	b, err := Comparable(got)
	if err != nil {
		return nil, err
	}
	for i := 0; i < len(a) || i < len(b); i++ {
		var x, y map[string]any
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		if x == nil || y == nil || !reflect.DeepEqual(x, y) {
			return &Difference{Index: i, Want: x, Got: y}, nil
		}
	}
	return nil, nil
}
