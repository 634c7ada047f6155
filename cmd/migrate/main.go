package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"captaincrm/internal/app"
	"captaincrm/internal/config"
	"captaincrm/internal/logging"
	"captaincrm/internal/models"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", envOr("CONFIG_PATH", "configs/config.yaml"), "path to config.yaml")
		kinds      = flag.String("kind", "all", "entity kind to migrate: client, booking or all")
		verify     = flag.Bool("verify", false, "verify the secondary store against the record store instead of copying")
		progress   = flag.Bool("progress", false, "print the stored progress and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	logger := logging.Component(baseLogger, "migrate")

	targets, err := parseKinds(*kinds)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer func() { _ = a.Close(context.Background()) }()

	if !*progress && !a.Mongo.Enabled() {
		return fmt.Errorf("secondary store: %w", models.ErrMirrorDisabled)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	for _, kind := range targets {
		var out any
		switch {
		case *progress:
			out, err = a.Migration.Progress(ctx, kind)
		case *verify:
			out, err = a.Migration.Verify(ctx, kind)
		default:
			out, err = a.Migration.Run(ctx, kind)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", kind, err)
		}
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
	return nil
}

func parseKinds(s string) ([]models.EntityKind, error) {
	if s == "all" {
		return []models.EntityKind{models.KindClient, models.KindBooking}, nil
	}
	kind, err := models.ParseKind(s)
	if err != nil {
		return nil, err
	}
	return []models.EntityKind{kind}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
