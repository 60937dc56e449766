package runner

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// DefaultMaxInputSize is 4KB (conservative default)
	DefaultMaxInputSize = 4096
	// EnvMaxInputSize is the environment variable to override the default
	EnvMaxInputSize = "HARNESS_MAX_INPUT_SIZE"
)

var (
	ErrInputTooLarge = errors.New("input exceeds maximum allowed size")
	ErrInvalidUTF8   = errors.New("input contains invalid UTF-8 sequences")
)

// Sanitizer cleans text injected into a run: prompt replies and mailbox messages.
// A zero MaxSize falls back to HARNESS_MAX_INPUT_SIZE, then DefaultMaxInputSize.
type Sanitizer struct {
	MaxSize int
}

// SanitizeInput cleans user input with the default limits.
func SanitizeInput(input string) (string, error) {
	return Sanitizer{}.String(input)
}

// String enforces the size limit, validates UTF-8 and strips dangerous control characters.
func (s Sanitizer) String(input string) (string, error) {
	limit := s.limit()
	if len(input) > limit {
		// Reject rather than truncate so the recorded run stays deterministic.
		return "", fmt.Errorf("%w: size=%d limit=%d", ErrInputTooLarge, len(input), limit)
	}

	if !utf8.ValidString(input) {
		return "", ErrInvalidUTF8
	}

	// Newline, tab and carriage return survive. ESC, NUL, BEL and the other
	// controls go: they poison logs and corrupt terminals.
	clean := true
	for _, r := range input {
		if unicode.IsControl(r) && !isSafeControl(r) {
			clean = false
			break
		}
	}
	if clean {
		return input, nil
	}

	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if !unicode.IsControl(r) || isSafeControl(r) {
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

// Value sanitizes every string inside a JSON-shaped value.
func (s Sanitizer) Value(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return s.String(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			clean, err := s.Value(item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = clean
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			clean, err := s.Value(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = clean
		}
		return out, nil
	default:
		return v, nil
	}
}

func (s Sanitizer) limit() int {
	if s.MaxSize > 0 {
		return s.MaxSize
	}
	return getMaxInputSize()
}

func isSafeControl(r rune) bool {
	return r == '\n' || r == '\t' || r == '\r'
}

func getMaxInputSize() int {
	if val := os.Getenv(EnvMaxInputSize); val != "" {
		if size, err := strconv.Atoi(val); err == nil && size > 0 {
			return size
		}
	}
	return DefaultMaxInputSize
}
