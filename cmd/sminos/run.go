package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mtzanidakis/sminos/internal/config"
	"github.com/mtzanidakis/sminos/internal/container"
	"github.com/mtzanidakis/sminos/internal/cycle"
	"github.com/mtzanidakis/sminos/internal/registry"
	"github.com/mtzanidakis/sminos/internal/store"
	"github.com/mtzanidakis/sminos/internal/vault"
	"github.com/mtzanidakis/sminos/internal/workspace"
)

// runRun executes a single remediation run in the foreground and exits
// with a status reflecting the outcome.
func runRun(args []string) {
	var profile, mode string
	var rest []string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-profile":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "missing value for -profile")
				os.Exit(2)
			}
			i++
			profile = args[i]
		case "-mode":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "missing value for -mode")
				os.Exit(2)
			}
			i++
			mode = args[i]
		default:
			rest = append(rest, args[i])
		}
	}
	request := strings.Join(rest, " ")

	if mode != "" && mode != cycle.ModeContinuous && mode != cycle.ModeSingle {
		fmt.Fprintf(os.Stderr, "invalid mode %q: must be %q or %q\n", mode, cycle.ModeContinuous, cycle.ModeSingle)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config failed", "error", err)
		os.Exit(1)
	}

	db, err := store.New(cfg.Store)
	if err != nil {
		slog.Error("init store failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ws := workspace.NewManager(cfg.Workspace)
	reg := registry.New(db, cfg.Profiles, cfg.Defaults, ws)
	if err := reg.Sync(); err != nil {
		slog.Error("sync profile registry failed", "error", err)
		os.Exit(1)
	}

	var v *vault.Vault
	if cfg.Vault.Passphrase != "" {
		v = vault.New(cfg.Vault.Passphrase)
	}

	var containers *container.Manager
	if cfg.Worker.Runtime == "docker" {
		containers, err = container.NewManager(cfg.Worker)
		if err != nil {
			slog.Error("init container manager failed", "error", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	driver := cycle.New(cfg, db, ws, nil, reg, v, containers)
	report, err := driver.Run(ctx, cycle.RunRequest{
		Request: request,
		Profile: profile,
		Mode:    mode,
	})
	if err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("run %s: %s after %d cycle(s)\n", report.RunID, report.StopReason, report.CyclesCompleted)
	if !report.Succeeded() {
		os.Exit(1)
	}
}

func runBuildImage(args []string) error {
	contextDir := "."
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		contextDir = args[0]
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	mgr, err := container.NewManager(cfg.Worker)
	if err != nil {
		return fmt.Errorf("init container manager: %w", err)
	}

	return mgr.BuildImage(context.Background(), contextDir)
}
