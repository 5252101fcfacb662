package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mtzanidakis/sminos/internal/natsbus"
)

const requestTimeout = 10 * time.Second

type triggerReply struct {
	RunID   string `json:"run_id"`
	Profile string `json:"profile"`
	Status  string `json:"status"`
}

type runInfo struct {
	ID              string `json:"id"`
	Request         string `json:"request"`
	Profile         string `json:"profile"`
	Mode            string `json:"mode"`
	Status          string `json:"status"`
	StopReason      string `json:"stop_reason"`
	CyclesCompleted int    `json:"cycles_completed"`
	StartedAt       string `json:"started_at"`
}

type statusReply struct {
	Busy bool      `json:"busy"`
	Runs []runInfo `json:"runs"`
}

type feedbackRecord struct {
	RunID           string `json:"run_id"`
	Cycle           int    `json:"cycle"`
	Decision        string `json:"decision"`
	CurrentAgents   int    `json:"current_agents"`
	NextAgents      int    `json:"next_agents"`
	SignalWorkers   int    `json:"signal_workers"`
	UnresolvedTotal int    `json:"unresolved_total"`
}

type scheduleInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Schedule  string `json:"schedule"`
	Status    string `json:"status"`
	Request   string `json:"request"`
	NextRunAt string `json:"next_run_at"`
}

type scheduleReply struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type controlError struct {
	Error string `json:"error"`
}

// requestJSON sends a request over the control subject and decodes the reply
// into out. Error replies are surfaced as errors.
func requestJSON(natsURL, topic string, payload any, out any) error {
	client, err := natsbus.NewClientFromURL(natsURL)
	if err != nil {
		return err
	}
	defer client.Close()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	msg, err := client.Request(topic, data, requestTimeout)
	if err != nil {
		return fmt.Errorf("control request: %w", err)
	}

	// Error replies are objects carrying an error key; list replies are arrays.
	if len(msg.Data) > 0 && msg.Data[0] == '{' {
		var ce controlError
		if json.Unmarshal(msg.Data, &ce) == nil && ce.Error != "" {
			return fmt.Errorf("%s", ce.Error)
		}
	}

	if out != nil {
		if err := json.Unmarshal(msg.Data, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func parseArgs(args []string) map[string]string {
	result := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 2 && args[i][:2] == "--" && i+1 < len(args) {
			result[args[i][2:]] = args[i+1]
			i++
		}
	}
	return result
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, `  swarmctl run --request "..." [--profile <id>] [--mode single|continuous]`)
	fmt.Fprintln(os.Stderr, `  swarmctl status [--run <id>]`)
	fmt.Fprintln(os.Stderr, `  swarmctl feedback [--run <id>] [--limit <n>]`)
	fmt.Fprintln(os.Stderr, "  swarmctl schedules")
	fmt.Fprintln(os.Stderr, `  swarmctl pause --id <schedule-id>`)
	fmt.Fprintln(os.Stderr, `  swarmctl resume --id <schedule-id>`)
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func main() {
	natsURL := os.Getenv("SMINOS_NATS_URL")
	if natsURL == "" {
		natsURL = "nats://127.0.0.1:4222"
	}

	if len(os.Args) < 2 {
		usage()
	}

	command := os.Args[1]
	rest := os.Args[2:]

	switch command {
	case "run":
		args := parseArgs(rest)
		if args["request"] == "" {
			fatal("--request is required")
		}
		var resp triggerReply
		err := requestJSON(natsURL, natsbus.TopicControlRunTrigger, map[string]any{
			"request": args["request"],
			"profile": args["profile"],
			"mode":    args["mode"],
		}, &resp)
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("Run %s %s (profile %s)\n", resp.RunID, resp.Status, resp.Profile)

	case "status":
		args := parseArgs(rest)
		if id := args["run"]; id != "" {
			var run runInfo
			if err := requestJSON(natsURL, natsbus.TopicControlRunStatus, map[string]any{"run_id": id}, &run); err != nil {
				fatal("%v", err)
			}
			reason := ""
			if run.StopReason != "" {
				reason = fmt.Sprintf(" (%s)", run.StopReason)
			}
			fmt.Printf("%s  %s%s  %d cycle(s)\n", run.ID, run.Status, reason, run.CyclesCompleted)
			fmt.Printf("  profile: %s  mode: %s\n", run.Profile, run.Mode)
			fmt.Printf("  request: %s\n", run.Request)
			return
		}

		var resp statusReply
		if err := requestJSON(natsURL, natsbus.TopicControlRunStatus, map[string]any{}, &resp); err != nil {
			fatal("%v", err)
		}
		state := "idle"
		if resp.Busy {
			state = "busy"
		}
		fmt.Printf("Coordinator: %s\n", state)
		if len(resp.Runs) == 0 {
			fmt.Println("No runs recorded.")
			return
		}
		for _, r := range resp.Runs {
			fmt.Printf("  %s  %s  %d cycle(s)  %s\n", shortID(r.ID), r.Status, r.CyclesCompleted, r.Request)
		}

	case "feedback":
		args := parseArgs(rest)
		payload := map[string]any{}
		if args["run"] != "" {
			payload["run_id"] = args["run"]
		}
		if args["limit"] != "" {
			n, err := strconv.Atoi(args["limit"])
			if err != nil {
				fatal("invalid --limit: %v", err)
			}
			payload["limit"] = n
		}
		var records []feedbackRecord
		if err := requestJSON(natsURL, natsbus.TopicControlFeedbackHistory, payload, &records); err != nil {
			fatal("%v", err)
		}
		if len(records) == 0 {
			fmt.Println("No feedback recorded.")
			return
		}
		for _, rec := range records {
			fmt.Printf("  %s  cycle %d  %s  %d -> %d agents  %d unresolved\n",
				shortID(rec.RunID), rec.Cycle, rec.Decision, rec.CurrentAgents, rec.NextAgents, rec.UnresolvedTotal)
		}

	case "schedules":
		var scheds []scheduleInfo
		if err := requestJSON(natsURL, natsbus.TopicControlScheduleList, map[string]any{}, &scheds); err != nil {
			fatal("%v", err)
		}
		if len(scheds) == 0 {
			fmt.Println("No schedules found.")
			return
		}
		for _, s := range scheds {
			next := ""
			if s.NextRunAt != "" {
				next = "  next " + s.NextRunAt
			}
			fmt.Printf("  %s  %s  %s  [%s]%s\n", s.ID, s.Status, s.Name, s.Schedule, next)
		}

	case "pause", "resume":
		args := parseArgs(rest)
		if args["id"] == "" {
			fatal("--id is required")
		}
		topic := natsbus.TopicControlSchedulePause
		if command == "resume" {
			topic = natsbus.TopicControlScheduleResume
		}
		var resp scheduleReply
		if err := requestJSON(natsURL, topic, map[string]any{"id": args["id"]}, &resp); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("Schedule %s is now %s\n", resp.ID, resp.Status)

	default:
		fatal("unknown command: %s", command)
	}
}
