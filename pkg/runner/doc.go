/*
Package runner connects flow runs to the outside world.

It has two halves:

  - Runner drives one run interactively. It renders events through an IOHandler
    (TextHandler for terminals, JSONHandler for JSON-Lines pipes) and answers
    session prompts with the input the handler reads. An interrupt signal aborts the run.
  - Manager tracks the runs started on behalf of remote clients (HTTP, WebSocket, MCP)
    so that later requests can address them by id.

Every text that enters a run from outside goes through SanitizeInput first.

# Usage

	r := runner.New(
		runner.WithInputHandler(runner.NewTextHandler(os.Stdout, runner.WithStdin())),
	)
	result, err := r.Run(ctx, engine, flow, input)
*/
package runner
