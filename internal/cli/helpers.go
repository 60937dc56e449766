package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Open-Harness/open-harness-sub011/internal/config"
	"github.com/Open-Harness/open-harness-sub011/internal/logging"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
)

// ErrRunFailed is returned when a run ends failed or aborted, so the process
// exits non-zero.
var ErrRunFailed = errors.New("run did not complete")

// NewLogger builds the application logger. Logs go to stderr to keep stdout
// for the flow itself.
func NewLogger(cfg config.LogConfig) *slog.Logger {
	return logging.NewWithFormat(os.Stderr, logging.ParseLevel(cfg.Level), cfg.Format)
}

// printSystemMessage prints a standardized system message.
func printSystemMessage(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, ">>> %s\n", fmt.Sprintf(format, args...))
}

// ParseInput decodes the --input flag: inline JSON, or @path for a JSON file.
// An empty string means no input.
func ParseInput(raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}
	data := []byte(raw)
	if path, ok := strings.CutPrefix(raw, "@"); ok {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("error reading input file: %w", err)
		}
	}
	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("error parsing input JSON: %w", err)
	}
	return input, nil
}

// outcome maps a finished run to the process result.
func outcome(res *domain.RunResult) error {
	if res.Status == domain.StatusComplete {
		return nil
	}
	if res.Error != nil {
		return fmt.Errorf("%w: %s: %w", ErrRunFailed, res.Status, res.Error)
	}
	return fmt.Errorf("%w: %s", ErrRunFailed, res.Status)
}
