package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/nautilink/helm-bridge/internal/bridge/config"
	"github.com/nautilink/helm-bridge/internal/bridge/orchestrator"
	"github.com/nautilink/helm-bridge/internal/logging"
)

var version = "dev"

func main() {
	fs := flag.NewFlagSet("helm-bridge", flag.ExitOnError)
	showVersion := fs.Bool("version", false, "print version and exit")
	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println(version)
		return
	}

	logging.Setup()

	cfg, err := config.Load(version)
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}

	// orchestrator.Run installs its own signal handlers for graceful
	// shutdown (spec.md §4.9 step 6).
	if err := orchestrator.Run(context.Background(), cfg); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
