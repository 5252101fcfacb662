package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/sminos/internal/cycle"
	"github.com/mtzanidakis/sminos/internal/schedule"
	"github.com/mtzanidakis/sminos/internal/store"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Swarm runs
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("POST /api/runs", s.triggerRun)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.deleteRun)
	mux.HandleFunc("GET /api/runs/{id}/cycles", s.listRunCycles)
	mux.HandleFunc("GET /api/runs/{id}/events", s.listRunEvents)
	mux.HandleFunc("GET /api/runs/{id}/feedback", s.listRunFeedback)

	// Controller history across runs
	mux.HandleFunc("GET /api/feedback", s.listRecentFeedback)

	// Worker profiles
	mux.HandleFunc("GET /api/profiles", s.listProfiles)
	mux.HandleFunc("GET /api/profiles/{id}", s.getProfile)
	mux.HandleFunc("GET /api/profiles/{id}/toolkit", s.getProfileToolkit)
	mux.HandleFunc("PUT /api/profiles/{id}/toolkit", s.updateProfileToolkit)

	// Scheduled runs
	mux.HandleFunc("GET /api/schedules", s.listSchedules)
	mux.HandleFunc("POST /api/schedules", s.createSchedule)
	mux.HandleFunc("PUT /api/schedules/{id}", s.updateSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.deleteSchedule)

	// Secrets
	mux.HandleFunc("GET /api/secrets", s.listSecrets)
	mux.HandleFunc("POST /api/secrets", s.createSecret)
	mux.HandleFunc("GET /api/secrets/{id}", s.getSecret)
	mux.HandleFunc("PUT /api/secrets/{id}", s.updateSecret)
	mux.HandleFunc("DELETE /api/secrets/{id}", s.deleteSecret)
	mux.HandleFunc("GET /api/profiles/{id}/secrets", s.getProfileSecrets)
	mux.HandleFunc("PUT /api/profiles/{id}/secrets", s.setProfileSecrets)
	mux.HandleFunc("POST /api/profiles/{id}/secrets/{secretId}", s.addProfileSecret)
	mux.HandleFunc("DELETE /api/profiles/{id}/secrets/{secretId}", s.removeProfileSecret)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListSwarmRuns()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []store.SwarmRun{}
	}
	jsonResponse(w, runs)
}

// triggerRun launches a run in the background and returns immediately. Runs
// execute one at a time; a trigger during an active run waits its turn.
func (s *Server) triggerRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Request string `json:"request"`
		Profile string `json:"profile"`
		Mode    string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Mode != "" && body.Mode != cycle.ModeContinuous && body.Mode != cycle.ModeSingle {
		jsonError(w, "mode must be 'continuous' or 'single'", http.StatusBadRequest)
		return
	}

	profile := body.Profile
	request := body.Request
	if profile == "" {
		routed, cleaned, err := s.router.Route(request)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		profile, request = routed, cleaned
	} else if _, ok := s.registry.GetDefinition(profile); !ok {
		jsonError(w, fmt.Sprintf("unknown profile %q", profile), http.StatusBadRequest)
		return
	}

	runID := uuid.NewString()
	go func() {
		if _, err := s.driver.Run(s.runCtx, cycle.RunRequest{
			RunID:   runID,
			Request: request,
			Profile: profile,
			Mode:    body.Mode,
		}); err != nil {
			slog.Error("api-triggered run failed", "run_id", runID, "error", err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"run_id":  runID,
		"profile": profile,
		"status":  "started",
	})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.store.GetSwarmRun(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, run)
}

func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteSwarmRun(id); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) listRunCycles(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cycles, err := s.store.ListCycles(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if cycles == nil {
		cycles = []store.Cycle{}
	}
	jsonResponse(w, cycles)
}

func (s *Server) listRunEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events, err := s.store.GetRunEvents(id, queryLimit(r, 100))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []store.RunEvent{}
	}
	jsonResponse(w, events)
}

func (s *Server) listRunFeedback(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	records, err := s.store.ListFeedbackRecords(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []store.FeedbackRecord{}
	}
	jsonResponse(w, records)
}

func (s *Server) listRecentFeedback(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListRecentFeedback(queryLimit(r, 50))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []store.FeedbackRecord{}
	}
	jsonResponse(w, records)
}

func (s *Server) listProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.registry.List()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Enrich with resolved defaults so the UI sees effective values
	out := make([]map[string]any, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, map[string]any{
			"id":          p.ID,
			"name":        p.Name,
			"description": p.Description,
			"model":       s.registry.ResolveModel(p.ID),
			"image":       s.registry.ResolveImage(p.ID),
			"workspace":   p.Workspace,
			"created_at":  p.CreatedAt,
			"updated_at":  p.UpdatedAt,
		})
	}
	jsonResponse(w, out)
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := s.registry.Get(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if p == nil {
		jsonError(w, "profile not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, p)
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	scheds, err := s.store.ListScheduledRuns()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	names := s.profileNameMap()
	out := make([]map[string]any, 0, len(scheds))
	for _, sr := range scheds {
		out = append(out, scheduleToAPI(sr, names))
	}
	jsonResponse(w, out)
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name      string `json:"name"`
		ProfileID string `json:"profile_id"`
		Request   string `json:"request"`
		Mode      string `json:"mode"`
		Schedule  string `json:"schedule"`
		Enabled   *bool  `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Name == "" || body.Schedule == "" || body.Request == "" {
		jsonError(w, "name, schedule, and request are required", http.StatusBadRequest)
		return
	}

	// Normalize schedule (handles plain cron strings)
	normalized, err := schedule.NormalizeSchedule(body.Schedule)
	if err != nil {
		jsonError(w, fmt.Sprintf("invalid schedule: %v", err), http.StatusBadRequest)
		return
	}

	status := "active"
	if body.Enabled != nil && !*body.Enabled {
		status = "paused"
	}

	sr := store.ScheduledRun{
		ID:        uuid.New().String(),
		ProfileID: body.ProfileID,
		Name:      body.Name,
		Schedule:  normalized,
		Request:   body.Request,
		Mode:      body.Mode,
		Status:    status,
	}

	if status == "active" {
		sr.NextRunAt = schedule.CalculateNextRun(normalized)
	}

	if err := s.store.SaveScheduledRun(&sr); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, scheduleToAPI(sr, s.profileNameMap()))
}

func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	existing, err := s.store.GetScheduledRun(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing == nil {
		jsonError(w, "schedule not found", http.StatusNotFound)
		return
	}

	var body struct {
		Name      *string `json:"name"`
		ProfileID *string `json:"profile_id"`
		Request   *string `json:"request"`
		Mode      *string `json:"mode"`
		Schedule  *string `json:"schedule"`
		Enabled   *bool   `json:"enabled"`
		Status    *string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if body.Name != nil {
		existing.Name = *body.Name
	}
	if body.ProfileID != nil {
		existing.ProfileID = *body.ProfileID
	}
	if body.Request != nil {
		existing.Request = *body.Request
	}
	if body.Mode != nil {
		existing.Mode = *body.Mode
	}

	// Handle enabled bool → status mapping
	if body.Enabled != nil {
		if *body.Enabled {
			existing.Status = "active"
		} else if existing.Status != "completed" {
			existing.Status = "paused"
		}
	} else if body.Status != nil {
		existing.Status = *body.Status
	}

	if body.Schedule != nil {
		normalized, err := schedule.NormalizeSchedule(*body.Schedule)
		if err != nil {
			jsonError(w, fmt.Sprintf("invalid schedule: %v", err), http.StatusBadRequest)
			return
		}
		existing.Schedule = normalized
	}

	// Recalculate next_run_at
	if existing.Status == "active" {
		existing.NextRunAt = schedule.CalculateNextRun(existing.Schedule)
	} else {
		existing.NextRunAt = nil
	}

	if err := s.store.SaveScheduledRun(existing); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, scheduleToAPI(*existing, s.profileNameMap()))
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteScheduledRun(id); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	runs, _ := s.store.ListSwarmRuns()
	profiles, _ := s.registry.List()
	scheds, _ := s.store.ListScheduledRuns()

	runningRuns := 0
	for _, run := range runs {
		if run.Status == "running" {
			runningRuns++
		}
	}
	activeSchedules := 0
	for _, sr := range scheds {
		if sr.Status == "active" {
			activeSchedules++
		}
	}

	busState := "off"
	if s.bus != nil {
		busState = "ok"
	}

	recent, _ := s.store.GetRecentEvents(10)
	recentOut := make([]map[string]string, 0, len(recent))
	for _, ev := range recent {
		recentOut = append(recentOut, map[string]string{
			"id":     fmt.Sprintf("%d", ev.ID),
			"run_id": ev.RunID,
			"type":   ev.Type,
			"time":   formatEventTime(ev.CreatedAt),
		})
	}

	jsonResponse(w, map[string]any{
		"status":           "ok",
		"busy":             s.driver.Busy(),
		"running_runs":     runningRuns,
		"runs_count":       len(runs),
		"profiles_count":   len(profiles),
		"active_schedules": activeSchedules,
		"uptime":           formatUptime(time.Since(s.startedAt)),
		"recent_events":    recentOut,
		"nats":             busState,
		"timestamp":        time.Now().UTC(),
		"version":          s.version,
	})
}

func (s *Server) profileNameMap() map[string]string {
	profiles, _ := s.registry.List()
	m := make(map[string]string, len(profiles))
	for _, p := range profiles {
		m[p.ID] = p.Name
	}
	return m
}

func scheduleToAPI(sr store.ScheduledRun, profileNames map[string]string) map[string]any {
	m := map[string]any{
		"id":               sr.ID,
		"name":             sr.Name,
		"schedule":         sr.Schedule,
		"schedule_display": schedule.FormatSchedule(sr.Schedule),
		"profile_id":       sr.ProfileID,
		"request":          sr.Request,
		"mode":             sr.Mode,
		"enabled":          sr.Status == "active",
		"status":           sr.Status,
	}
	if name, ok := profileNames[sr.ProfileID]; ok {
		m["profile_name"] = name
	}
	if sr.LastStatus != "" {
		m["last_status"] = sr.LastStatus
	}
	if sr.LastError != "" {
		m["last_error"] = sr.LastError
	}
	if sr.LastRunAt != nil {
		m["last_run"] = formatEventTime(*sr.LastRunAt)
	}
	if sr.NextRunAt != nil {
		m["next_run"] = formatEventTime(*sr.NextRunAt)
	}
	return m
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func formatEventTime(t time.Time) string {
	local := t.Local()
	now := time.Now()
	if local.Year() == now.Year() && local.YearDay() == now.YearDay() {
		return local.Format("15:04")
	}
	return local.Format("Jan 2 15:04")
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
