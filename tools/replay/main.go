package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"go.temporal.io/sdk/worker"

	"github.com/troupehq/troupe/internal/workflows"
)

func main() {
	historyPath := flag.String("history", "", "Path to Temporal workflow history JSON (from tctl --output json)")
	flag.Parse()

	if *historyPath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay -history /path/to/history.json")
		os.Exit(2)
	}

	// Create a replayer and register all known workflows.
	replayer := worker.NewWorkflowReplayer()
	replayer.RegisterWorkflow(workflows.OrchestratorWorkflow)
	replayer.RegisterWorkflow(workflows.SequentialWorkflow)
	replayer.RegisterWorkflow(workflows.ReflexionWorkflow)
	replayer.RegisterWorkflow(workflows.SupervisorWorkflow)

	// Replay from file; this will error on any non-determinism between history and code.
	if err := replayer.ReplayWorkflowHistoryFromJSONFile(nil, *historyPath); err != nil {
		log.Fatalf("Replay failed (non-deterministic change or invalid history): %v", err)
	}

	log.Printf("Replay succeeded for %s", *historyPath)
}
