package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/divy-sh/breve/internal/remote"
	"github.com/divy-sh/breve/internal/state"
	"github.com/fatih/color"
)

func main() {
	server := flag.String("server", envOr("BREVE_SERVER", "http://localhost:8080"), "breve server URL")
	logLevel := flag.String("log-level", "warn", "log level (debug, info, warn, error)")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		color.Red("Error: invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(*server, logger); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(server string, logger *slog.Logger) error {
	client, err := remote.NewClient(server, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := state.NewSession(ctx, client, client, logger)
	r := newREPL(session, os.Stdout)
	defer r.close()

	// Ctrl+C stops the reply being generated; with nothing generating it quits.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		for sig := range sigs {
			if sig == os.Interrupt && r.generating() {
				session.Models.AbortGeneration(ctx)
				continue
			}
			fmt.Println()
			os.Exit(0)
		}
	}()

	r.start(ctx)
	return r.run(ctx, os.Stdin)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
