// strand - client engine for a local inference backend.
//
// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/ehallam/strand/internal/backend"
	"github.com/ehallam/strand/internal/config"
	"github.com/ehallam/strand/internal/model"
	"github.com/ehallam/strand/internal/power"
	"github.com/ehallam/strand/internal/session"
	"github.com/ehallam/strand/internal/store"
	"github.com/ehallam/strand/internal/supervisor"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A .env next to the binary can carry STRAND_* overrides for development.
	godotenv.Load()

	cfg := config.Global()

	// Follow the config file; controllers read settings at submit time, so a
	// reload affects the next turn.
	if watcher, err := config.NewWatcher(500*time.Millisecond, nil); err == nil {
		if err := watcher.Watch(); err == nil {
			defer watcher.Close()
		}
	}

	client := backend.NewClientWithConfig(&backend.ClientConfig{
		BaseURL:           cfg.Backend.BaseURL,
		Timeout:           cfg.Timeout(),
		AttemptInterval:   cfg.AttemptInterval(),
		MaxDecodeFailures: cfg.Backend.MaxDecodeFailures,
	})

	sup := supervisor.New()
	defer sup.TerminateAll()

	if err := ensureBackend(client, sup, cfg); err != nil {
		return err
	}

	// SIGTERM ends the program. SIGINT is handled per turn by the REPL so
	// Ctrl+C stops a response instead of the session.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	// Discovery keeps retrying until the backend answers; the catalog fills
	// in whenever that happens.
	catalog := model.NewCatalog()
	go refreshCatalog(ctx, client, catalog)

	snapshots := openSnapshots(cfg)
	if snapshots != nil {
		defer snapshots.Close()
		go refreshSnapshots(ctx, client, cfg, snapshots)
	}

	keeper := power.NewKeeper()
	controller := session.NewController(client, config.Live{}, session.WithStayAwake(
		func(reason string) (func(), error) {
			token, err := keeper.Acquire(reason)
			if err != nil {
				return nil, err
			}
			return token.Release, nil
		}))

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		pipeCtx, stopPipe := signal.NotifyContext(ctx, os.Interrupt)
		defer stopPipe()
		return runPiped(pipeCtx, controller)
	}

	repl := newREPL(controller, client, catalog, sup, snapshots)
	defer repl.Close()
	return repl.Run(ctx)
}

// signalContext derives a context that cancels on Ctrl+C, for the duration
// of one streaming turn.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt)
}

func readAll(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// ensureBackend checks reachability and autostarts the backend when
// configured to.
func ensureBackend(client *backend.Client, sup *supervisor.Supervisor, cfg *config.Config) error {
	checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.CheckRunning(checkCtx); err == nil {
		return nil
	}

	if !cfg.Server.Autostart {
		return fmt.Errorf("backend is not reachable at %s and autostart is off", cfg.Backend.BaseURL)
	}

	job, err := sup.Launch(cfg.Server.Executable, cfg.Server.Args...)
	if err != nil {
		return fmt.Errorf("backend autostart failed: %s", job.Output())
	}
	fmt.Fprintf(os.Stderr, "Starting backend: %s\n", job.Command())

	// Poll until the backend answers or the grace period runs out.
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		pollCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := client.CheckRunning(pollCtx)
		cancel()
		if err == nil {
			return nil
		}
		if job.Done() {
			return fmt.Errorf("backend exited during startup: %s", job.Output())
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("backend started but not responding at %s", cfg.Backend.BaseURL)
}

// refreshCatalog fills the catalog as soon as discovery succeeds, then keeps
// it fresh on a slow cadence.
func refreshCatalog(ctx context.Context, client *backend.Client, catalog *model.Catalog) {
	for {
		providers, err := client.DiscoverProvidersUntil(ctx)
		if err != nil {
			return // context done
		}
		catalog.ReplaceProviders(providers)

		models, err := client.ListModelsUntil(ctx)
		if err != nil {
			return
		}
		catalog.ReplaceModels(models)

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Minute):
		}
	}
}

// openSnapshots opens the local sequence snapshot. Snapshot trouble is never
// fatal; the engine just runs without the cache.
func openSnapshots(cfg *config.Config) *store.SnapshotStore {
	path, err := cfg.StorePath()
	if err != nil {
		return nil
	}
	snapshots, err := store.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: sequence snapshot unavailable: %v\n", err)
		return nil
	}
	return snapshots
}

// refreshSnapshots replaces the local snapshot with the backend's listing
// whenever one can be fetched.
func refreshSnapshots(ctx context.Context, client *backend.Client, cfg *config.Config, snapshots *store.SnapshotStore) {
	for {
		records, err := client.ListSequences(ctx, backend.ListSequencesOptions{
			Limit:        cfg.List.Limit,
			LookbackDays: cfg.List.LookbackDays,
		})
		if err == nil {
			if err := snapshots.ReplaceAll(records); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: snapshot refresh failed: %v\n", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Minute):
		}
	}
}

// runPiped reads one prompt from stdin, streams the reply to stdout, and
// exits. Used when stdin is not a terminal.
func runPiped(ctx context.Context, controller *session.Controller) error {
	prompt, err := readAll(os.Stdin)
	if err != nil {
		return err
	}
	if prompt == "" {
		return fmt.Errorf("empty prompt on stdin")
	}

	done := make(chan struct{}, 1)
	unsubscribe := controller.Subscribe(func(change session.StateChange) {
		if change.Delta != "" {
			fmt.Print(change.Delta)
		}
		if change.State == session.StateIdle {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if err := controller.Submit(ctx, prompt, session.SubmitOptions{}); err != nil {
		return err
	}

	select {
	case <-done:
	case <-ctx.Done():
		controller.Cancel()
		<-done
	}
	fmt.Println()

	if last := controller.Sequence().LastMessage(); last != nil && last.Role == model.RoleError {
		return fmt.Errorf("%s", last.Content)
	}
	return nil
}
