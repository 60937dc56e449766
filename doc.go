/*
Package harness runs flows: declarative graphs of computation nodes whose
execution is observed through a per-run event hub.

A flow is compiled once against the registered node types and can then be run
any number of times. Every run emits an ordered, sequenced stream of events
(run, phase, task, agent and session events) that observers consume through
the hub, and accepts commands back: messages for running agents, replies to
human prompts and abort.

# Concept

Nodes are connected by edges. A node becomes ready when its incoming edges
are resolved, runs once, and ends in exactly one terminal state: complete,
failed or skipped. Node inputs are templates over the flow input and the
outputs of other nodes, e.g. "${fetch.body}"; conditions on nodes and edges
are boolean expressions in the same language.

Runs can be recorded into a RunStore and replayed later. Replay serves agent
and long-lived nodes from the recorded fixtures, so a replay produces the same
event sequence without calling anything external.

# Usage

	eng, err := harness.New(harness.WithLoader(file.NewLoader("./flows")))
	if err != nil {
		log.Fatal(err)
	}

	flow, err := eng.Load(ctx, "review")
	if err != nil {
		log.Fatal(err)
	}

	run, err := eng.Start(ctx, flow, map[string]any{"topic": "release notes"}, harness.WithRecording())
	if err != nil {
		log.Fatal(err)
	}
	run.Hub().Subscribe(func(ev domain.Event) {
		log.Println(ev.Name())
	}, "task:*")

	result, err := run.Wait(ctx)
*/
package harness
