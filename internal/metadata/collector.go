package metadata

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/mtzanidakis/sminos/internal/plan"
)

// ComplexitySignal summarizes how much work a cycle is facing. Produced once
// per cycle and consumed by the recommender as opaque input.
type ComplexitySignal struct {
	FilesChanged    int `json:"files_changed"`
	LinesChanged    int `json:"lines_changed"`
	DifficultyHits  int `json:"difficulty_hits"`
	EstimatedTokens int `json:"estimated_tokens"`
}

// Built-in difficulty markers; the configured list extends this set.
var defaultKeywords = []string{
	"race",
	"deadlock",
	"migration",
	"refactor",
	"concurrency",
	"corruption",
	"security",
}

// Collector builds the ComplexitySignal from git diff stats and the open
// plan items. Every input degrades to zero instead of failing: a missing
// git binary, an unknown base ref, or an empty plan never abort a cycle.
type Collector struct {
	dir      string
	keywords []string
}

// NewCollector returns a collector running git in dir (empty means the
// current working directory) with the built-in keywords extended by extra.
func NewCollector(dir string, extra []string) *Collector {
	keywords := make([]string, 0, len(defaultKeywords)+len(extra))
	keywords = append(keywords, defaultKeywords...)
	for _, k := range extra {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			keywords = append(keywords, k)
		}
	}
	return &Collector{dir: dir, keywords: keywords}
}

func (c *Collector) Collect(ctx context.Context, baseRef string, items []plan.Item) ComplexitySignal {
	sig := ComplexitySignal{
		DifficultyHits:  c.keywordHits(items),
		EstimatedTokens: estimateTokens(items),
	}
	sig.FilesChanged, sig.LinesChanged = c.diffStats(ctx, baseRef)
	return sig
}

func (c *Collector) diffStats(ctx context.Context, baseRef string) (files, lines int) {
	if baseRef == "" {
		return 0, 0
	}

	cmd := exec.CommandContext(ctx, "git", "diff", "--numstat", baseRef)
	cmd.Dir = c.dir
	out, err := cmd.Output()
	if err != nil {
		slog.Debug("git diff unavailable, using zero diff stats", "base_ref", baseRef, "error", err)
		return 0, 0
	}
	return parseNumstat(out)
}

// parseNumstat sums a `git diff --numstat` listing. Binary files report "-"
// counts and contribute only to the file total.
func parseNumstat(out []byte) (files, lines int) {
	for _, line := range bytes.Split(out, []byte("\n")) {
		fields := strings.Fields(string(line))
		if len(fields) < 3 {
			continue
		}
		files++
		if added, err := strconv.Atoi(fields[0]); err == nil {
			lines += added
		}
		if deleted, err := strconv.Atoi(fields[1]); err == nil {
			lines += deleted
		}
	}
	return files, lines
}

func (c *Collector) keywordHits(items []plan.Item) int {
	hits := 0
	for _, it := range items {
		title := strings.ToLower(it.Title)
		for _, k := range c.keywords {
			if strings.Contains(title, k) {
				hits++
			}
		}
	}
	return hits
}

// estimateTokens approximates the prompt size of the open items at four
// bytes per token.
func estimateTokens(items []plan.Item) int {
	total := 0
	for _, it := range items {
		total += len(it.ID) + len(it.Title) + len(it.Area) + len(it.Severity)
		for _, p := range it.Paths {
			total += len(p)
		}
	}
	return total / 4
}
