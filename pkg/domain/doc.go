/*
Package domain contains the core models of the flow runtime.

It defines the declarative flow graph, the event union streamed by the hub,
run results, recordings and the error taxonomy. This package is kept pure and
free of I/O or persistence concerns, following Hexagonal Architecture
principles.

# Key Entities

  - FlowSpec: A named graph of NodeSpecs joined by Edges.
  - NodeCapabilities: What a node type needs from the executor (mailbox, streaming).
  - Event: An immutable, sequenced envelope around a Payload.
  - Payload: The tagged union of lifecycle events (run, phase, task, node, agent, session).
  - RunResult: The outcome of one run (outputs, events, duration, status).
  - Recording: A persisted run used for deterministic replay.
*/
package domain
