package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Open-Harness/open-harness-sub011/internal/compiler"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/ports"
)

var (
	_ ports.FlowLoader = (*Loader)(nil)
	_ ports.Watchable  = (*Loader)(nil)
)

// DefaultDebounce is how long Watch waits for a burst of file events to settle.
const DefaultDebounce = 100 * time.Millisecond

// Loader implements ports.FlowLoader over a directory of *.yaml / *.yml flow files.
// A file declares its flow name; without one the file name is used.
type Loader struct {
	Dir      string
	Debounce time.Duration

	parser *compiler.Parser
}

// NewLoader creates a loader reading flows from dir.
func NewLoader(dir string) *Loader {
	return &Loader{Dir: dir, Debounce: DefaultDebounce, parser: compiler.NewParser()}
}

func isFlowFile(name string) bool {
	switch filepath.Ext(name) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func (l *Loader) files() ([]string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && isFlowFile(e.Name()) {
			paths = append(paths, filepath.Join(l.Dir, e.Name()))
		}
	}
	return paths, nil
}

// Load parses the flow with the given name.
// The file named after the flow is tried first, then every other file.
func (l *Loader) Load(ctx context.Context, name string) (*domain.FlowSpec, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(l.Dir, name+ext)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		spec, err := l.parser.ParseFile(path)
		if err != nil {
			return nil, err
		}
		if spec.Name == name {
			return spec, nil
		}
	}

	paths, err := l.files()
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		spec, err := l.parser.ParseFile(path)
		if err != nil {
			continue
		}
		if spec.Name == name {
			return spec, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrFlowNotFound, name)
}

// List returns the names of every flow in the directory, sorted.
// A file that fails to parse fails the listing.
func (l *Loader) List(ctx context.Context) ([]string, error) {
	paths, err := l.files()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(paths))
	for _, path := range paths {
		spec, err := l.parser.ParseFile(path)
		if err != nil {
			return nil, err
		}
		names = append(names, spec.Name)
	}
	sort.Strings(names)
	return names, nil
}

// Watch implements ports.Watchable. The returned channel receives one signal
// per settled burst of changes to flow files and closes when ctx is done.
func (l *Loader) Watch(ctx context.Context) (<-chan struct{}, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to start watcher: %w", err)
	}
	if err := w.Add(l.Dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", l.Dir, err)
	}

	debounce := l.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		defer w.Close()

		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case evt, ok := <-w.Events:
				if !ok {
					return
				}
				if !isFlowFile(evt.Name) || evt.Op == fsnotify.Chmod {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounce)
				} else {
					timer.Reset(debounce)
				}
				fire = timer.C
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			case <-fire:
				fire = nil
				// A pending signal already covers this change.
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}()

	return ch, nil
}
