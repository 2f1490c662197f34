package main

import (
	"context"
	"fmt"
	"os"

	"github.com/laitim2001/freight-mapping-engine/internal/bootstrap"
	"github.com/laitim2001/freight-mapping-engine/internal/config"
	"github.com/laitim2001/freight-mapping-engine/internal/observability/logging"
)

func main() {
	if err := newRootCmd(openEngine).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rulesctl: %v\n", err)
		os.Exit(1)
	}
}

func openEngine(ctx context.Context) (*engine, error) {
	cfg := config.Load()
	// The seed command applies files explicitly.
	cfg.SeedRulesPath = ""
	logger := logging.NewJSONLoggerTo(os.Stderr, "rulesctl", cfg.LogLevel)

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	return &engine{
		rules:       app.Rules,
		versions:    app.VersionUC,
		suggestions: app.SuggestionUC,
		close:       app.Close,
	}, nil
}
