/*
Package observability exports run metrics to Prometheus.

Metrics is a set of collectors; Metrics.Channel returns a ports.Channel that
feeds them from the events of one run. Attach a fresh channel to every run:

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	run, err := engine.Start(ctx, flow, input, harness.WithChannels(metrics.Channel()))
*/
package observability
