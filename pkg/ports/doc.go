/*
Package ports defines the driven ports (interfaces) of the flow runtime.

These interfaces decouple the core from external implementations, allowing
the engine to work with various storage backends, flow sources and transports.

# Key Interfaces

  - FlowLoader: Resolves flow definitions by name (memory, directory).
  - RunStore: Persists run events and snapshots for recording and replay.
  - DistributedLocker: Guards a run id across processes.
  - Channel: Observes a hub and injects commands (console, SSE, WebSocket).
*/
package ports
