package harness_test

import (
	"context"
	"fmt"
	"log"

	harness "github.com/Open-Harness/open-harness-sub011"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/dsl"
	"github.com/Open-Harness/open-harness-sub011/pkg/ports"
)

// ExampleEngine_Run builds a branching flow in Go and prints the task events.
func ExampleEngine_Run() {
	b := dsl.New("triage").Inputs("severity", "int")
	b.Add("classify").
		Type("passthrough").
		Input(map[string]any{"urgent": "${input.severity >= 3}"}).
		Branch("classify.urgent", "page").
		Branch("!classify.urgent", "ticket")
	b.Add("page").Type("passthrough").Input("paging on-call")
	b.Add("ticket").Type("passthrough").Input("filing a ticket")

	eng, err := harness.New()
	if err != nil {
		log.Fatal(err)
	}
	flow, err := eng.Compile(b.Spec())
	if err != nil {
		log.Fatal(err)
	}

	printer := ports.Channel{
		Name: "printer",
		On: map[string]func(domain.Event){
			"task:complete": func(ev domain.Event) {
				p := ev.Payload.(*domain.TaskComplete)
				fmt.Printf("%s -> %v\n", p.NodeID, p.Output)
			},
			"task:skipped": func(ev domain.Event) {
				p := ev.Payload.(*domain.TaskSkipped)
				fmt.Printf("%s skipped: %s\n", p.NodeID, p.Reason)
			},
		},
	}

	res, err := eng.Run(context.Background(), flow, map[string]any{"severity": 4}, harness.WithChannels(printer))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(res.Status)
	// Output:
	// classify -> map[urgent:true]
	// ticket skipped: no incoming edge fired
	// page -> paging on-call
	// complete
}
