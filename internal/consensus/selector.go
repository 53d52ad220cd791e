// Package consensus combines per-worker scores into a weighted selection
// and decides whether a run's outcome is ok, degraded, or a conflict.
//
// Conflicts are never silently resolved: a result below quorum or with
// declared disagreements always carries conflict status for escalation.
package consensus

import (
	"encoding/json"
	"math"

	"github.com/conclavehq/conclave/internal/config"
	conclaveerrors "github.com/conclavehq/conclave/internal/errors"
	"github.com/conclavehq/conclave/internal/model"
	"github.com/conclavehq/conclave/internal/scoring"
)

const weightSumTolerance = 1e-6

// WorkerResult is one succeeded worker's contribution to consensus.
// Results must be supplied in agent registration order; ties in final
// score break toward the earlier entry.
type WorkerResult struct {
	AgentName string
	Validated []byte
	// Trajectory is nil for uninstrumented agents. That is a supported
	// degrade path: interaction is treated as 0 and the final score falls
	// back to pure technical.
	Trajectory *model.Trajectory
}

// Selector evaluates worker results against configured weights.
type Selector struct {
	scorer *scoring.Scorer
	cfg    config.ConsensusConfig
}

// New creates a Selector.
func New(scorer *scoring.Scorer, cfg config.ConsensusConfig) *Selector {
	return &Selector{scorer: scorer, cfg: cfg}
}

// Finalize combines a technical and interaction score under the given
// weight pair.
func Finalize(w config.WeightsConfig, technical, interaction float64) float64 {
	return w.Technical*technical + w.Interaction*interaction
}

// Select returns the arg-max score by final score. Ties break toward the
// earliest entry, so selection is deterministic given registration order.
func Select(scores []model.Score) (model.Score, error) {
	if len(scores) == 0 {
		return model.Score{}, conclaveerrors.NewConsensusError("no scores to select from", conclaveerrors.ErrNoScores)
	}

	best := scores[0]
	for _, s := range scores[1:] {
		if s.Final > best.Final {
			best = s
		}
	}
	return best, nil
}

// Evaluate scores each worker result, selects a winner, and determines the
// consensus status for the stage.
//
// rosterSize is the number of workers originally spawned for the run;
// results holds only the workers that succeeded validation. Status is ok
// when the full roster succeeded with no declared disagreement, degraded
// when at least quorum succeeded, and conflict when quorum was missed or
// the outputs materially disagree.
func (s *Selector) Evaluate(stage string, results []WorkerResult, rosterSize int) (model.ConsensusResult, error) {
	weights := s.cfg.WeightsForStage(stage)
	if math.Abs(weights.Technical+weights.Interaction-1.0) > weightSumTolerance {
		return model.ConsensusResult{}, conclaveerrors.NewConsensusError(
			"weights must sum to 1.0", conclaveerrors.ErrWeightsInvalid).WithStage(stage)
	}

	if len(results) == 0 {
		return model.ConsensusResult{Status: model.ConsensusConflict},
			conclaveerrors.NewConsensusError("no worker produced acceptable output", conclaveerrors.ErrNoScores).
				WithStage(stage).
				WithSucceeded(0).
				WithRoster(rosterSize)
	}

	scores := make([]model.Score, 0, len(results))
	disagreement := false
	for _, r := range results {
		technical := s.scorer.TechnicalScore(r.Validated)

		var interaction, final float64
		if r.Trajectory != nil {
			interaction = s.scorer.InteractionScore(*r.Trajectory)
			final = Finalize(weights, technical, interaction)
		} else {
			final = technical
		}

		scores = append(scores, model.Score{
			AgentName:   r.AgentName,
			Technical:   technical,
			Interaction: interaction,
			Final:       final,
		})

		if len(declaredConflicts(r.Validated)) > 0 {
			disagreement = true
		}
	}

	winner, err := Select(scores)
	if err != nil {
		return model.ConsensusResult{Status: model.ConsensusConflict}, err
	}

	result := model.ConsensusResult{
		SelectedAgent: winner.AgentName,
		Confidence:    winner.Final,
		PerAgent:      scores,
	}

	switch {
	case len(results) < s.cfg.Quorum:
		result.Status = model.ConsensusConflict
	case disagreement:
		result.Status = model.ConsensusConflict
	case len(results) < rosterSize:
		result.Status = model.ConsensusDegraded
	default:
		result.Status = model.ConsensusOK
	}

	return result, nil
}

// declaredConflicts extracts the top-level "conflicts" list a worker may
// embed in its structured output. A non-empty list is a material
// disagreement between workers.
func declaredConflicts(validated []byte) []string {
	var payload struct {
		Conflicts []string `json:"conflicts"`
	}
	if err := json.Unmarshal(validated, &payload); err != nil {
		return nil
	}
	return payload.Conflicts
}
