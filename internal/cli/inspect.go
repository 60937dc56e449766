package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/Open-Harness/open-harness-sub011/internal/presentation/graph"
	"github.com/Open-Harness/open-harness-sub011/internal/validator"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
)

// Validate compiles the named flows (all when names is empty) and applies
// the exec tool and edge checks.
func Validate(ctx context.Context, env *Environment, names []string) error {
	compile := func(spec *domain.FlowSpec) error {
		_, err := env.Engine.Compile(spec)
		return err
	}
	return validator.ValidateFlows(ctx, env.Engine.Loader(), compile, names,
		validator.ExecTools(env.Tools), validator.Isolated)
}

// Graph writes the Mermaid chart of a flow. With runID, node states of that
// recorded run are painted on it.
func Graph(ctx context.Context, env *Environment, name, runID string, w io.Writer) error {
	flow, err := env.Engine.Load(ctx, name)
	if err != nil {
		return err
	}
	var overlay *graph.Overlay
	if runID != "" {
		rec, err := env.Engine.Store().Load(ctx, runID)
		if err != nil {
			return err
		}
		overlay = graph.OverlayFromEvents(rec.Events)
	}
	_, err = fmt.Fprint(w, graph.GenerateMermaid(flow.Spec(), env.Engine.Registry().Capabilities, overlay))
	return err
}

// ListRecordings prints the recorded runs as a table.
func ListRecordings(ctx context.Context, env *Environment, query domain.RunQuery, w io.Writer) error {
	runs, err := env.Engine.Store().List(ctx, query)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tFLOW\tSTATUS\tSTARTED\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.RunID, r.Flow, r.Status,
			r.StartedAt.Local().Format(time.DateTime),
			r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	return tw.Flush()
}

// InspectRecording writes a recorded run: the whole recording as indented
// JSON, or with eventsOnly one event per line.
func InspectRecording(ctx context.Context, env *Environment, runID string, eventsOnly bool, w io.Writer) error {
	rec, err := env.Engine.Store().Load(ctx, runID)
	if err != nil {
		return err
	}
	if eventsOnly {
		enc := json.NewEncoder(w)
		for _, ev := range rec.Events {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

// RemoveRecordings deletes recorded runs.
func RemoveRecordings(ctx context.Context, env *Environment, runIDs []string, w io.Writer) error {
	for _, id := range runIDs {
		if err := env.Engine.Store().Delete(ctx, id); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
		printSystemMessage(w, "Deleted '%s'.", id)
	}
	return nil
}
