package observability_test

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	harness "github.com/Open-Harness/open-harness-sub011"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/dsl"
	"github.com/Open-Harness/open-harness-sub011/pkg/nodes"
	"github.com/Open-Harness/open-harness-sub011/pkg/observability"
)

func TestMetrics_RunChannel(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	b := dsl.New("triage")
	b.Add("classify").Type(nodes.TypePassthrough).Input("${input}").
		Branch("classify.urgent", "page").
		Branch("!classify.urgent", "ticket")
	b.Add("page").Type(nodes.TypeNoop)
	b.Add("ticket").Type(nodes.TypeNoop)

	eng, err := harness.New()
	require.NoError(t, err)
	flow, err := eng.Compile(b.Spec())
	require.NoError(t, err)

	for range 2 {
		res, err := eng.Run(context.Background(), flow, map[string]any{"urgent": true}, harness.WithChannels(metrics.Channel()))
		require.NoError(t, err)
		require.Equal(t, domain.StatusComplete, res.Status)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RunsStarted.WithLabelValues("triage")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RunsCompleted.WithLabelValues("triage", "complete")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.RunsInFlight))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Tasks.WithLabelValues("triage", "page", "complete")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Tasks.WithLabelValues("triage", "ticket", "skipped")))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.RunDuration))

	err = testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP harness_runs_completed_total Total number of runs completed, by final status.
# TYPE harness_runs_completed_total counter
harness_runs_completed_total{flow="triage",status="complete"} 2
`), "harness_runs_completed_total")
	assert.NoError(t, err)
}

func TestMetrics_FailuresAndDiagnostics(t *testing.T) {
	metrics := observability.NewMetrics(nil)
	ch := metrics.Channel()

	ch.On["run:start"](domain.Event{Payload: &domain.RunStart{Flow: "f"}})
	ch.On["task:*"](domain.Event{Payload: &domain.TaskFailed{NodeID: "a", Kind: domain.FailureTimeout, DurationMs: 1500}})
	ch.On["diagnostic"](domain.Event{Payload: &domain.Diagnostic{Level: "warn", Message: "loop limit reached"}})
	ch.On["run:complete"](domain.Event{Payload: &domain.RunComplete{Status: domain.StatusFailed}})

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Tasks.WithLabelValues("f", "a", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Diagnostics.WithLabelValues("warn")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RunsCompleted.WithLabelValues("f", "failed")))
}
