package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/mtzanidakis/sminos/internal/config"
	"github.com/mtzanidakis/sminos/internal/container"
	"github.com/mtzanidakis/sminos/internal/cycle"
	"github.com/mtzanidakis/sminos/internal/natsbus"
	"github.com/mtzanidakis/sminos/internal/registry"
	"github.com/mtzanidakis/sminos/internal/router"
	"github.com/mtzanidakis/sminos/internal/scheduler"
	"github.com/mtzanidakis/sminos/internal/store"
	"github.com/mtzanidakis/sminos/internal/telegram"
	"github.com/mtzanidakis/sminos/internal/vault"
	"github.com/mtzanidakis/sminos/internal/web"
	"github.com/mtzanidakis/sminos/internal/workspace"
	"github.com/nats-io/nats.go"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("sminos %s\n", version)
	case "run":
		runRun(os.Args[2:])
	case "gateway":
		if err := runGateway(); err != nil {
			slog.Error("gateway failed", "error", err)
			os.Exit(1)
		}
	case "backup":
		if err := runBackup(os.Args[2:]); err != nil {
			slog.Error("backup failed", "error", err)
			os.Exit(1)
		}
	case "restore":
		if err := runRestore(os.Args[2:]); err != nil {
			slog.Error("restore failed", "error", err)
			os.Exit(1)
		}
	case "vault":
		if err := runVault(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "build-image":
		if err := runBuildImage(os.Args[2:]); err != nil {
			slog.Error("build failed", "error", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: sminos <command>

Commands:
  run          Execute a remediation run in the foreground
  gateway      Start the sminos gateway service
  backup       Archive the data directory to a tar.zst file
  restore      Restore a backup archive into the data directory
  vault        Manage encrypted secrets
  build-image  Build the worker docker image
  version      Print version
`)
}

func runGateway() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting sminos gateway", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", bus.Port())

	client, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("init nats client: %w", err)
	}
	defer client.Close()

	// Workspaces and profile registry
	ws := workspace.NewManager(cfg.Workspace)
	reg := registry.New(db, cfg.Profiles, cfg.Defaults, ws)
	if err := reg.Sync(); err != nil {
		return fmt.Errorf("sync profile registry: %w", err)
	}

	// Secrets vault
	var v *vault.Vault
	if cfg.Vault.Passphrase != "" {
		v = vault.New(cfg.Vault.Passphrase)
	} else {
		slog.Warn("vault passphrase not set, secret injection disabled")
	}

	// Container manager, only needed for the docker runtime
	var containers *container.Manager
	if cfg.Worker.Runtime == "docker" {
		containers, err = container.NewManager(cfg.Worker)
		if err != nil {
			return fmt.Errorf("init container manager: %w", err)
		}
	}

	// Cycle driver
	driver := cycle.New(cfg, db, ws, client, reg, v, containers)

	// Request router
	rtr := router.New(reg, cfg.Router)

	// Control subjects for swarmctl and other bus clients
	if err := registerControlHandlers(client, driver, rtr, db); err != nil {
		return fmt.Errorf("register control handlers: %w", err)
	}

	// Scheduler
	sched := scheduler.New(db, driver, client, cfg.Scheduler)
	go sched.Start(ctx)
	slog.Info("scheduler started")

	// Telegram bot
	if cfg.Telegram.Token != "" {
		bot, err := telegram.NewBot(cfg.Telegram, driver, db, rtr, client)
		if err != nil {
			return fmt.Errorf("init telegram bot: %w", err)
		}
		go bot.Start(ctx)
		slog.Info("telegram bot started")
	} else {
		slog.Warn("telegram token not set, bot disabled")
	}

	// Web dashboard
	if cfg.Web.Enabled {
		srv := web.NewServer(db, bus, driver, reg, rtr, cfg.Web, v, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	// Wait for shutdown, reloading the config on SIGHUP
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigCh
		if sig == syscall.SIGHUP {
			cfg = reloadConfig(cfg, reg, rtr, sched, driver)
			continue
		}
		slog.Info("shutting down", "signal", sig)
		break
	}
	cancel()

	if containers != nil {
		containers.StopAll(context.Background())
	}
	return nil
}

// reloadConfig re-reads the config file and applies the reloadable sections
// to the running components. It returns the config now in effect.
func reloadConfig(cfg *config.Config, reg *registry.Registry, rtr *router.Router,
	sched *scheduler.Scheduler, driver *cycle.Driver) *config.Config {
	next, err := config.Load()
	if err != nil {
		slog.Error("config reload failed, keeping previous config", "error", err)
		return cfg
	}

	diff := config.Diff(cfg, next)
	for _, field := range diff.NonReloadable {
		slog.Warn("config field requires a restart", "field", field)
	}
	if !diff.HasChanges() {
		slog.Info("config reloaded, no reloadable changes")
		return cfg
	}

	// Pin the sections the running components were built with.
	next.Telegram = cfg.Telegram
	next.Web = cfg.Web
	next.NATS = cfg.NATS
	next.Store = cfg.Store
	next.Vault = cfg.Vault
	next.Worker.Runtime = cfg.Worker.Runtime

	if len(diff.ProfilesAdded)+len(diff.ProfilesRemoved)+len(diff.ProfilesChanged) > 0 || diff.DefaultsChanged {
		if err := reg.Reload(next.Profiles, next.Defaults); err != nil {
			slog.Error("profile reload failed", "error", err)
		} else {
			slog.Info("profiles reloaded",
				"added", len(diff.ProfilesAdded),
				"removed", len(diff.ProfilesRemoved),
				"changed", len(diff.ProfilesChanged))
		}
	}
	if diff.RouterChanged {
		rtr.SetDefaultProfile(diff.NewDefaultProfile)
		slog.Info("default profile updated", "profile", diff.NewDefaultProfile)
	}
	if diff.SchedulerChanged {
		sched.UpdateConfig(next.Scheduler.PollInterval)
	}
	if diff.FeedbackChanged {
		slog.Info("feedback settings updated, applied from the next run")
	}
	driver.UpdateConfig(next)
	slog.Info("config reloaded")
	return next
}

// registerControlHandlers wires the request/reply control subjects that
// swarmctl talks to.
func registerControlHandlers(client *natsbus.Client, driver *cycle.Driver, rtr *router.Router, db *store.Store) error {
	reply := func(msg *nats.Msg, v any) {
		data, err := json.Marshal(v)
		if err != nil {
			data = []byte(`{"error":"marshal reply failed"}`)
		}
		_ = msg.Respond(data)
	}
	replyErr := func(msg *nats.Msg, err error) {
		reply(msg, map[string]string{"error": err.Error()})
	}

	if _, err := client.Subscribe(natsbus.TopicControlRunTrigger, func(msg *nats.Msg) {
		var req struct {
			Request string `json:"request"`
			Profile string `json:"profile"`
			Mode    string `json:"mode"`
		}
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			replyErr(msg, fmt.Errorf("invalid trigger payload: %w", err))
			return
		}

		profile, request := req.Profile, req.Request
		if profile == "" {
			routed, cleaned, err := rtr.Route(request)
			if err != nil {
				replyErr(msg, err)
				return
			}
			profile, request = routed, cleaned
		}

		runReq := cycle.RunRequest{
			RunID:   uuid.NewString(),
			Request: request,
			Profile: profile,
			Mode:    req.Mode,
		}
		go func() {
			if _, err := driver.Run(context.Background(), runReq); err != nil {
				slog.Error("bus-triggered run failed", "run_id", runReq.RunID, "error", err)
			}
		}()
		reply(msg, map[string]string{"run_id": runReq.RunID, "profile": profile, "status": "started"})
	}); err != nil {
		return err
	}

	if _, err := client.Subscribe(natsbus.TopicControlRunStatus, func(msg *nats.Msg) {
		var req struct {
			RunID string `json:"run_id"`
		}
		_ = json.Unmarshal(msg.Data, &req)

		if req.RunID != "" {
			run, err := db.GetSwarmRun(req.RunID)
			if err != nil {
				replyErr(msg, err)
				return
			}
			if run == nil {
				replyErr(msg, fmt.Errorf("run %s not found", req.RunID))
				return
			}
			reply(msg, run)
			return
		}

		runs, err := db.ListSwarmRuns()
		if err != nil {
			replyErr(msg, err)
			return
		}
		reply(msg, map[string]any{"busy": driver.Busy(), "runs": runs})
	}); err != nil {
		return err
	}

	if _, err := client.Subscribe(natsbus.TopicControlFeedbackHistory, func(msg *nats.Msg) {
		var req struct {
			RunID string `json:"run_id"`
			Limit int    `json:"limit"`
		}
		_ = json.Unmarshal(msg.Data, &req)
		if req.Limit <= 0 {
			req.Limit = 50
		}

		if req.RunID != "" {
			records, err := db.ListFeedbackRecords(req.RunID)
			if err != nil {
				replyErr(msg, err)
				return
			}
			reply(msg, records)
			return
		}
		records, err := db.ListRecentFeedback(req.Limit)
		if err != nil {
			replyErr(msg, err)
			return
		}
		reply(msg, records)
	}); err != nil {
		return err
	}

	if _, err := client.Subscribe(natsbus.TopicControlScheduleList, func(msg *nats.Msg) {
		scheds, err := db.ListScheduledRuns()
		if err != nil {
			replyErr(msg, err)
			return
		}
		reply(msg, scheds)
	}); err != nil {
		return err
	}

	setScheduleStatus := func(msg *nats.Msg, status string) {
		var req struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(msg.Data, &req); err != nil || req.ID == "" {
			replyErr(msg, fmt.Errorf("schedule id is required"))
			return
		}
		sched, err := db.GetScheduledRun(req.ID)
		if err != nil {
			replyErr(msg, err)
			return
		}
		if sched == nil {
			replyErr(msg, fmt.Errorf("schedule %s not found", req.ID))
			return
		}
		if err := db.UpdateScheduledRunStatus(req.ID, status); err != nil {
			replyErr(msg, err)
			return
		}
		reply(msg, map[string]string{"id": req.ID, "status": status})
	}

	if _, err := client.Subscribe(natsbus.TopicControlSchedulePause, func(msg *nats.Msg) {
		setScheduleStatus(msg, "paused")
	}); err != nil {
		return err
	}

	if _, err := client.Subscribe(natsbus.TopicControlScheduleResume, func(msg *nats.Msg) {
		setScheduleStatus(msg, "active")
	}); err != nil {
		return err
	}

	return client.Flush()
}
