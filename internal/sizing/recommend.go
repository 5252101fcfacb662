package sizing

import (
	"fmt"
	"math"

	"github.com/mtzanidakis/sminos/internal/metadata"
)

// Factor caps. The score is a sum of capped contributions so one huge diff
// or a keyword-stuffed plan cannot dominate the recommendation.
const (
	maxLinesFactor      = 6.0
	maxFilesFactor      = 4.0
	maxDifficultyFactor = 3.0
	maxPromptFactor     = 4.0

	linesPerFactor  = 1200.0
	filesPerFactor  = 10.0
	hitWeight       = 0.7
	tokensPerFactor = 7000.0
)

// Policy carries the sizing bounds and mode for one recommendation.
type Policy struct {
	MinAgents         int
	MaxAgents         int
	Adaptive          bool
	Override          int // explicit agent count; 0 = unset
	Seed              int // carried from the previous cycle's feedback; 0 = unset
	TokenBudget       int // 0 = no budget
	PerAgentTokenCost int
}

// Decision is the recommender's output: a target count plus the full
// rationale for how it was reached.
type Decision struct {
	TargetCount     int                `json:"target_count"`
	Rationale       []string           `json:"rationale"`
	ScoreComponents map[string]float64 `json:"score_components,omitempty"`
}

// Recommend maps a complexity signal and policy to a target worker count.
// It is deterministic and has no side effects.
func Recommend(sig metadata.ComplexitySignal, pol Policy) Decision {
	if pol.Override > 0 {
		target := clamp(pol.Override, pol.MinAgents, pol.MaxAgents)
		d := Decision{
			TargetCount: target,
			Rationale:   []string{fmt.Sprintf("explicit override: %d agents", pol.Override)},
		}
		if target != pol.Override {
			d.Rationale = append(d.Rationale, fmt.Sprintf("clamped to [%d, %d] -> %d", pol.MinAgents, pol.MaxAgents, target))
		}
		return d
	}

	if pol.Seed > 0 {
		target := clamp(pol.Seed, pol.MinAgents, pol.MaxAgents)
		d := Decision{
			TargetCount: target,
			Rationale:   []string{fmt.Sprintf("carried from previous cycle feedback: %d agents", pol.Seed)},
		}
		if target != pol.Seed {
			d.Rationale = append(d.Rationale, fmt.Sprintf("clamped to [%d, %d] -> %d", pol.MinAgents, pol.MaxAgents, target))
		}
		return d
	}

	if !pol.Adaptive {
		return Decision{
			TargetCount: pol.MinAgents,
			Rationale:   []string{fmt.Sprintf("adaptive sizing disabled, using min_agents %d", pol.MinAgents)},
		}
	}

	linesFactor := math.Min(maxLinesFactor, float64(sig.LinesChanged)/linesPerFactor)
	filesFactor := math.Min(maxFilesFactor, float64(sig.FilesChanged)/filesPerFactor)
	difficultyFactor := math.Min(maxDifficultyFactor, float64(sig.DifficultyHits)*hitWeight)
	promptFactor := math.Min(maxPromptFactor, float64(sig.EstimatedTokens)/tokensPerFactor)

	rawScore := 1.0 + linesFactor + filesFactor + difficultyFactor + promptFactor
	recommended := int(math.Ceil(rawScore))

	d := Decision{
		ScoreComponents: map[string]float64{
			"base":       1.0,
			"lines":      linesFactor,
			"files":      filesFactor,
			"difficulty": difficultyFactor,
			"prompt":     promptFactor,
			"raw":        rawScore,
		},
		Rationale: []string{
			fmt.Sprintf("lines factor %.2f (%d lines changed)", linesFactor, sig.LinesChanged),
			fmt.Sprintf("files factor %.2f (%d files changed)", filesFactor, sig.FilesChanged),
			fmt.Sprintf("difficulty factor %.2f (%d keyword hits)", difficultyFactor, sig.DifficultyHits),
			fmt.Sprintf("prompt factor %.2f (%d estimated tokens)", promptFactor, sig.EstimatedTokens),
			fmt.Sprintf("raw score %.2f -> %d agents", rawScore, recommended),
		},
	}

	if pol.TokenBudget > 0 && pol.PerAgentTokenCost > 0 {
		tokenCap := pol.TokenBudget / pol.PerAgentTokenCost
		if tokenCap < pol.MinAgents {
			tokenCap = pol.MinAgents
		}
		if recommended > tokenCap {
			recommended = tokenCap
			d.Rationale = append(d.Rationale, fmt.Sprintf("token budget %d caps at %d agents", pol.TokenBudget, tokenCap))
		}
	}

	target := clamp(recommended, pol.MinAgents, pol.MaxAgents)
	if target != recommended {
		d.Rationale = append(d.Rationale, fmt.Sprintf("clamped to [%d, %d] -> %d", pol.MinAgents, pol.MaxAgents, target))
	}
	d.Rationale = append(d.Rationale, fmt.Sprintf("target %d agents", target))
	d.TargetCount = target
	return d
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if max > 0 && v > max {
		return max
	}
	return v
}
