package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/mtzanidakis/sminos/internal/config"
	"github.com/mtzanidakis/sminos/internal/cycle"
	"github.com/mtzanidakis/sminos/internal/natsbus"
	"github.com/mtzanidakis/sminos/internal/router"
	"github.com/mtzanidakis/sminos/internal/schedule"
	"github.com/mtzanidakis/sminos/internal/store"
	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/nats-io/nats.go"
)

const maxRunsListed = 10

type Bot struct {
	bot     *telego.Bot
	handler *th.BotHandler
	driver  *cycle.Driver
	store   *store.Store
	router  *router.Router
	client  *natsbus.Client
	sub     *nats.Subscription
	cfg     config.TelegramConfig
	cancel  context.CancelFunc
}

// NewBot builds the chat control surface. The NATS client is optional; without
// it the bot still answers commands but sends no completion notifications.
func NewBot(cfg config.TelegramConfig, d *cycle.Driver, s *store.Store, r *router.Router, client *natsbus.Client) (*Bot, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Bot{
		bot:    bot,
		driver: d,
		store:  s,
		router: r,
		client: client,
		cfg:    cfg,
	}, nil
}

func (b *Bot) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	updates, err := b.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.bot, updates)
	if err != nil {
		cancel()
		return fmt.Errorf("create handler: %w", err)
	}
	b.handler = handler

	handler.HandleMessage(func(hctx *th.Context, message telego.Message) error {
		b.handleMessage(ctx, message)
		return nil
	})

	if b.client != nil && b.cfg.ChatID != 0 {
		sub, err := b.client.Subscribe(natsbus.TopicEventsCycleAll, func(msg *nats.Msg) {
			b.notifyEvent(ctx, msg)
		})
		if err != nil {
			slog.Warn("subscribe run events failed", "error", err)
		} else {
			b.sub = sub
		}
	}

	go handler.Start()

	<-ctx.Done()
	_ = handler.Stop()
	return nil
}

func (b *Bot) Stop() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	if b.cancel != nil {
		b.cancel()
	}
	if b.handler != nil {
		_ = b.handler.Stop()
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg telego.Message) {
	chatID := msg.Chat.ID
	userID := msg.From.ID

	// Check allow list
	if len(b.cfg.AllowFrom) > 0 {
		allowed := false
		for _, id := range b.cfg.AllowFrom {
			if id == userID {
				allowed = true
				break
			}
		}
		if !allowed {
			slog.Warn("unauthorized telegram user", "user_id", userID, "chat_id", chatID)
			return
		}
	}

	text := msg.Text
	if text == "" {
		if msg.Caption != "" {
			text = msg.Caption
		} else {
			return
		}
	}

	_ = b.sendChatAction(ctx, chatID, "typing")

	cmd, args := splitCommand(text)

	var reply string
	var err error
	switch cmd {
	case "/start", "/help":
		reply = helpText
	case "/status":
		reply, err = b.statusText()
	case "/runs":
		reply, err = b.runsText()
	case "/run":
		reply, err = b.startRun(ctx, chatID, args)
	case "/pause":
		reply, err = b.setScheduleStatus(args, "paused")
	case "/resume":
		reply, err = b.setScheduleStatus(args, "active")
	default:
		reply = "Unknown command. Send /help for the command list."
	}

	if err != nil {
		slog.Error("handle command failed", "command", cmd, "chat", chatID, "error", err)
		reply = fmt.Sprintf("Command failed: %v", err)
	}
	if reply == "" {
		return
	}
	if err := b.SendMessage(ctx, chatID, reply); err != nil {
		slog.Error("send telegram reply failed", "chat", chatID, "error", err)
	}
}

func (b *Bot) statusText() (string, error) {
	state := "idle"
	if b.driver.Busy() {
		state = "executing a run"
	}

	runs, err := b.store.ListSwarmRuns()
	if err != nil {
		return "", fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		return fmt.Sprintf("Coordinator %s. No runs recorded yet.", state), nil
	}
	return fmt.Sprintf("Coordinator %s.\nLast run %s", state, formatRunLine(runs[0])), nil
}

func (b *Bot) runsText() (string, error) {
	runs, err := b.store.ListSwarmRuns()
	if err != nil {
		return "", fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		return "No runs recorded yet.", nil
	}
	if len(runs) > maxRunsListed {
		runs = runs[:maxRunsListed]
	}
	lines := make([]string, 0, len(runs))
	for _, r := range runs {
		lines = append(lines, formatRunLine(r))
	}
	return strings.Join(lines, "\n"), nil
}

// startRun routes the request to a profile and launches the run in the
// background. The driver serializes runs internally, so a request issued
// while another run executes waits its turn instead of failing.
func (b *Bot) startRun(ctx context.Context, chatID int64, request string) (string, error) {
	request = strings.TrimSpace(request)
	if request == "" {
		return "Usage: /run <request> (prefix with @profile to pick a worker profile)", nil
	}

	profile, cleaned, err := b.router.Route(request)
	if err != nil {
		return "", fmt.Errorf("route request: %w", err)
	}

	runID := uuid.NewString()
	go func() {
		if _, err := b.driver.Run(ctx, cycle.RunRequest{
			RunID:   runID,
			Request: cleaned,
			Profile: profile,
		}); err != nil {
			slog.Error("telegram run failed", "run_id", runID, "error", err)
			_ = b.SendMessage(ctx, chatID, fmt.Sprintf("Run %s failed: %v", shortID(runID), err))
		}
	}()

	verb := "started"
	if b.driver.Busy() {
		verb = "queued"
	}
	return fmt.Sprintf("Run %s %s with profile %s.", shortID(runID), verb, profile), nil
}

func (b *Bot) setScheduleStatus(args, status string) (string, error) {
	id := strings.TrimSpace(args)
	if id == "" {
		return b.scheduleUsage(status)
	}

	sched, err := b.store.GetScheduledRun(id)
	if err != nil {
		return "", fmt.Errorf("schedule %s not found", id)
	}
	if err := b.store.UpdateScheduledRunStatus(sched.ID, status); err != nil {
		return "", fmt.Errorf("update schedule: %w", err)
	}
	return fmt.Sprintf("Schedule %q is now %s.", sched.Name, status), nil
}

func (b *Bot) scheduleUsage(status string) (string, error) {
	cmd := "/pause"
	if status == "active" {
		cmd = "/resume"
	}
	scheds, err := b.store.ListScheduledRuns()
	if err != nil {
		return "", fmt.Errorf("list schedules: %w", err)
	}
	lines := []string{fmt.Sprintf("Usage: %s <schedule-id>", cmd)}
	for _, s := range scheds {
		lines = append(lines, fmt.Sprintf("%s %s (%s, %s)", s.ID, s.Name, schedule.FormatSchedule(s.Schedule), s.Status))
	}
	return strings.Join(lines, "\n"), nil
}

// notifyEvent forwards cycle and run completions to the configured chat.
func (b *Bot) notifyEvent(ctx context.Context, msg *nats.Msg) {
	var ev struct {
		Type  string         `json:"type"`
		RunID string         `json:"run_id"`
		Data  map[string]any `json:"data"`
	}
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return
	}

	text := formatEvent(ev.Type, ev.RunID, ev.Data)
	if text == "" {
		return
	}
	if err := b.SendMessage(ctx, b.cfg.ChatID, text); err != nil {
		slog.Error("send telegram notification failed", "chat", b.cfg.ChatID, "error", err)
	}
}

func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	chunks := chunkMessage(toTelegramMarkdown(text), 4096)
	for _, chunk := range chunks {
		msg := tu.Message(tu.ID(chatID), chunk)
		_, err := b.bot.SendMessage(ctx, msg)
		if err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

func (b *Bot) sendChatAction(ctx context.Context, chatID int64, action string) error {
	return b.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), action))
}

const helpText = `Commands:
/status - coordinator state and latest run
/runs - recent swarm runs
/run <request> - start a remediation run (@profile prefix routes it)
/pause <schedule-id> - pause a scheduled run
/resume <schedule-id> - resume a paused schedule`

// splitCommand separates the leading command from its arguments and strips
// the @botname suffix Telegram appends in group chats.
func splitCommand(text string) (cmd, args string) {
	text = strings.TrimSpace(text)
	cmd, args, _ = strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return cmd, strings.TrimSpace(args)
}

func formatRunLine(r store.SwarmRun) string {
	line := fmt.Sprintf("%s %s", shortID(r.ID), r.Status)
	if r.StopReason != "" {
		line += " (" + r.StopReason + ")"
	}
	if r.CyclesCompleted > 0 {
		line += fmt.Sprintf(", %d cycle(s)", r.CyclesCompleted)
	}
	if r.Request != "" {
		line += ": " + truncate(r.Request, 64)
	}
	return line
}

func formatEvent(eventType, runID string, data map[string]any) string {
	state := "completed"
	if ok, _ := data["ok"].(bool); !ok {
		state = "failed"
	}
	switch eventType {
	case "cycle_completed":
		return fmt.Sprintf("Run %s cycle %v %s: %v agent(s) executed, %v item(s) resolved, next %v.",
			shortID(runID), data["cycle"], state, data["executed"], data["resolved"], data["next_agents"])
	case "run_completed":
		return fmt.Sprintf("Run %s %s: %v after %v cycle(s).",
			shortID(runID), state, data["stop_reason"], data["cycles"])
	}
	return ""
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
