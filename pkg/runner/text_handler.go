package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
)

// Styler decorates one rendered line according to the event it describes.
type Styler func(name domain.EventName, line string) string

// TextHandler implements the standard text-based interface.
type TextHandler struct {
	Reader   *bufio.Reader
	Writer   io.Writer
	Renderer ContentRenderer
	Style    Styler

	// Verbose also prints task:start and phase events.
	Verbose bool

	mu        sync.Mutex
	streaming bool

	inputChan chan inputResult
	startOnce sync.Once
}

type inputResult struct {
	text string
	err  error
}

// TextHandlerOption defines configuration for TextHandler.
type TextHandlerOption func(*TextHandler)

// WithStdin reads answers from os.Stdin.
func WithStdin() TextHandlerOption {
	return WithReader(os.Stdin)
}

// WithReader reads answers from r.
func WithReader(r io.Reader) TextHandlerOption {
	return func(h *TextHandler) {
		h.Reader = bufio.NewReader(r)
	}
}

// WithTextHandlerRenderer configures the content renderer.
func WithTextHandlerRenderer(renderer ContentRenderer) TextHandlerOption {
	return func(h *TextHandler) {
		h.Renderer = renderer
	}
}

// WithStyler configures line decoration, e.g. terminal colors.
func WithStyler(style Styler) TextHandlerOption {
	return func(h *TextHandler) {
		h.Style = style
	}
}

// WithVerbose prints every lifecycle event.
func WithVerbose(verbose bool) TextHandlerOption {
	return func(h *TextHandler) {
		h.Verbose = verbose
	}
}

// NewTextHandler creates a handler writing to w. Without WithReader or
// WithStdin, input only arrives through FeedInput.
func NewTextHandler(w io.Writer, opts ...TextHandlerOption) *TextHandler {
	if w == nil {
		w = os.Stdout
	}
	h := &TextHandler{Writer: w}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *TextHandler) initPump() {
	h.startOnce.Do(func() {
		h.inputChan = make(chan inputResult)
		if h.Reader != nil {
			go h.pump()
		}
	})
}

func (h *TextHandler) pump() {
	for {
		text, err := h.Reader.ReadString('\n')

		// If we got text (even with EOF), send it
		if text != "" {
			h.inputChan <- inputResult{text: text}
		}

		if err != nil {
			if err == io.EOF {
				close(h.inputChan)
				return
			}
			h.inputChan <- inputResult{err: err}
			// Backoff for non-fatal errors to prevent CPU spikes on persistent failure
			time.Sleep(50 * time.Millisecond)
		}
	}
}

// FeedInput pushes a line as if it had been typed. It blocks until Input consumes it.
func (h *TextHandler) FeedInput(text string, err error) {
	h.initPump()
	h.inputChan <- inputResult{text: text, err: err}
}

func (h *TextHandler) render(text string) string {
	if h.Renderer == nil {
		return text
	}
	rendered, err := h.Renderer(text)
	if err != nil {
		return text
	}
	return strings.TrimSpace(rendered)
}

func (h *TextHandler) line(name domain.EventName, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	if h.Style != nil {
		text = h.Style(name, text)
	}
	if h.streaming {
		fmt.Fprintln(h.Writer)
		h.streaming = false
	}
	fmt.Fprintln(h.Writer, text)
}

// Output prints a one-line description of the event.
func (h *TextHandler) Output(ctx context.Context, ev domain.Event) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	name := ev.Name()
	switch p := ev.Payload.(type) {
	case *domain.RunStart:
		h.line(name, "run %s started", p.Flow)
	case *domain.RunComplete:
		if p.Error != "" {
			h.line(name, "run %s after %dms: %s", p.Status, p.DurationMs, p.Error)
		} else {
			h.line(name, "run %s after %dms", p.Status, p.DurationMs)
		}
	case *domain.PhaseStart, *domain.PhaseComplete:
		if h.Verbose {
			h.line(name, "%s", name)
		}
	case *domain.TaskStart:
		if h.Verbose {
			h.line(name, "%s (%s) started", p.NodeID, p.Type)
		}
	case *domain.TaskComplete:
		if s, ok := p.Output.(string); ok && s != "" {
			h.line(name, "%s: %s", p.NodeID, h.render(s))
		} else if p.Output != nil {
			h.line(name, "%s: %v", p.NodeID, p.Output)
		} else {
			h.line(name, "%s done", p.NodeID)
		}
	case *domain.TaskFailed:
		h.line(name, "%s failed (%s): %s", p.NodeID, p.Kind, p.Error)
	case *domain.TaskSkipped:
		if h.Verbose {
			h.line(name, "%s skipped: %s", p.NodeID, p.Reason)
		}
	case *domain.NodeStream:
		fmt.Fprint(h.Writer, p.Chunk)
		h.streaming = true
	case *domain.AgentMessage:
		h.line(name, "[%s] <- %v", p.InvocationID, p.Content)
	case *domain.SessionPrompt:
		text := h.render(p.Text)
		if len(p.Choices) > 0 {
			text += " [" + strings.Join(p.Choices, "/") + "]"
		}
		h.line(name, "%s", text)
		return true, nil
	case *domain.SessionAbort:
		h.line(name, "aborted: %s", p.Reason)
	case *domain.Diagnostic:
		h.line(name, "%s: %s", p.Level, p.Message)
	}
	return false, nil
}

// Input prompts with "> " and returns the next sanitized line.
// Lines that fail sanitization are reported and read again.
func (h *TextHandler) Input(ctx context.Context) (string, error) {
	h.initPump()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
			h.print("> ")
		}

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
			clean, err := SanitizeInput(strings.TrimSpace(res.text))
			if err != nil {
				h.print(fmt.Sprintf("Error: %v. Please try again.\n", err))
				continue
			}
			return clean, nil
		}
	}
}

// print writes outside Output, which may run concurrently on the emitting goroutine.
func (h *TextHandler) print(s string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprint(h.Writer, s)
}

// SystemOutput prints msg with a "[System]" prefix.
func (h *TextHandler) SystemOutput(ctx context.Context, msg string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.line("", "[System] %s", msg)
	return nil
}
