package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
)

// JSONHandler implements the IOHandler interface for structured JSON-Lines communication.
// Every event is written as one line in the wire format shared with the stores.
// Answers are read one per line, as a JSON value or as raw text.
type JSONHandler struct {
	Reader  *bufio.Reader
	Writer  io.Writer
	Encoder *json.Encoder

	mu        sync.Mutex
	inputChan chan inputResult
	startOnce sync.Once
}

// NewJSONHandler creates a handler for JSON IO.
func NewJSONHandler(r io.Reader, w io.Writer) *JSONHandler {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	return &JSONHandler{
		Reader:  bufio.NewReader(r),
		Writer:  w,
		Encoder: json.NewEncoder(w),
	}
}

func (h *JSONHandler) Output(ctx context.Context, ev domain.Event) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.Encoder.Encode(ev); err != nil {
		return false, err
	}
	return ev.Name() == domain.EventSessionPrompt, nil
}

func (h *JSONHandler) pump() {
	for {
		text, err := h.Reader.ReadString('\n')
		if text != "" {
			h.inputChan <- inputResult{text: text}
		}
		if err != nil {
			if err != io.EOF {
				h.inputChan <- inputResult{err: err}
			}
			close(h.inputChan)
			return
		}
	}
}

// Input reads a line. A JSON string is unquoted; anything else is returned raw.
func (h *JSONHandler) Input(ctx context.Context) (string, error) {
	h.startOnce.Do(func() {
		h.inputChan = make(chan inputResult)
		go h.pump()
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res, ok := <-h.inputChan:
		if !ok {
			return "", io.EOF
		}
		if res.err != nil {
			return "", res.err
		}
		text := strings.TrimSpace(res.text)

		var val string
		if err := json.Unmarshal([]byte(text), &val); err == nil {
			text = val
		}
		return SanitizeInput(text)
	}
}

// SystemOutput writes {"system": msg}.
func (h *JSONHandler) SystemOutput(ctx context.Context, msg string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Encoder.Encode(map[string]string{"system": msg})
}
