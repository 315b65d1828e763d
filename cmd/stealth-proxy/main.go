// Package main is the entry point for the stealth proxy.
package main

import (
	"log"
	"os"

	"github.com/alecthomas/kong"

	"stealth-proxy-go/internal/app"
	"stealth-proxy-go/pkg/config"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("stealth-proxy"),
		kong.Description("Content-rewriting reverse proxy for embedded media and pages."),
		kong.UsageOnError(),
	)

	// Create and initialize application
	application, err := app.New(&cli)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	// Ensure cleanup on exit
	defer application.Shutdown()

	// Run the server
	if err := application.Run(); err != nil {
		log.Printf("server error: %v", err)
		os.Exit(1)
	}
}
