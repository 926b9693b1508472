// Package main is the entry point for metergate, the usage-governance
// and data-lifecycle service.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/artpar/metergate/bootstrap"
	"github.com/artpar/metergate/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "metergate.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	validate := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("metergate %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	if *validate {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration valid\n")
		fmt.Printf("  Database: %s\n", cfg.Database.Driver)
		fmt.Printf("  Daily limit: %d\n", cfg.Limits.DailyLimit)
		fmt.Printf("  Retention policies: %d\n", len(cfg.Retention.Policies))
		os.Exit(0)
	}

	app, err := bootstrap.New(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
