package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
)

func TestJSONHandler_Output(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := NewJSONHandler(strings.NewReader(""), buf)

	needsInput, err := handler.Output(context.Background(), domain.Event{
		Seq:     7,
		Payload: &domain.SessionPrompt{PromptID: "prompt-1", Text: "Proceed?"},
	})
	if err != nil {
		t.Fatalf("Output failed: %v", err)
	}
	if !needsInput {
		t.Error("Expected needsInput to be true")
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line of output, got %d", len(lines))
	}
	var decoded domain.Event
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if decoded.Seq != 7 || decoded.Name() != domain.EventSessionPrompt {
		t.Errorf("Unexpected event %+v", decoded)
	}
}

func TestJSONHandler_Input(t *testing.T) {
	handler := NewJSONHandler(strings.NewReader("\"Hello World\"\nplain text\n"), io.Discard)
	ctx := context.Background()

	val, err := handler.Input(ctx)
	if err != nil {
		t.Fatalf("Input failed: %v", err)
	}
	if val != "Hello World" {
		t.Errorf("Expected unquoted JSON string, got %q", val)
	}

	val, err = handler.Input(ctx)
	if err != nil {
		t.Fatalf("Input failed: %v", err)
	}
	if val != "plain text" {
		t.Errorf("Expected raw text, got %q", val)
	}

	if _, err := handler.Input(ctx); err != io.EOF {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}
