// Package main is the entry point for the CRITs indicator server and CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"crits/bootstrap"
	"crits/cmd"
)

// run initializes and starts the indicator server
func run(configPath string) error {
	ctx := context.Background()

	app, err := bootstrap.NewApp(ctx, configPath)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := app.Start(ctx); err != nil {
		app.Shutdown()
		return fmt.Errorf("failed to start application: %w", err)
	}

	app.WaitForShutdown()
	app.Shutdown()
	return nil
}

func main() {
	// "indicators ..." runs the CLI instead of the server
	if len(os.Args) > 1 && os.Args[1] == "indicators" {
		indicatorsCmd := cmd.NewIndicatorsCmd()
		indicatorsCmd.SetArgs(os.Args[2:])
		if err := indicatorsCmd.Execute(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
