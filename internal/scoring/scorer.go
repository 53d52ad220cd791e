// Package scoring computes per-worker quality scores from validated output
// and recorded interaction trajectories.
//
// The technical score is a bounded [0,1] blend of completeness and
// correctness checks over the structured output. The interaction score is
// the sum of a proactivity component (question discipline) and a
// personalization component (preference compliance); it may be negative.
package scoring

import (
	"encoding/json"

	"github.com/conclavehq/conclave/internal/config"
	"github.com/conclavehq/conclave/internal/model"
)

// technical score blend, per the original evaluation:
// 60% completeness, 40% correctness
const (
	completenessWeight = 0.6
	correctnessWeight  = 0.4
)

// Scorer computes technical and interaction scores.
type Scorer struct {
	cfg            config.ScoringConfig
	requiredFields []string
	heuristics     EffortClassifier
	fallback       EffortClassifier
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithRequiredFields sets the top-level fields the completeness check
// expects in validated output.
func WithRequiredFields(fields ...string) Option {
	return func(s *Scorer) { s.requiredFields = fields }
}

// WithEffortFallback installs a fallback classifier consulted when the
// pattern heuristics find a question ambiguous. Typically model-backed.
func WithEffortFallback(c EffortClassifier) Option {
	return func(s *Scorer) { s.fallback = c }
}

// New creates a Scorer with the given bonus/penalty configuration.
func New(cfg config.ScoringConfig, opts ...Option) *Scorer {
	s := &Scorer{
		cfg:        cfg,
		heuristics: heuristicClassifier{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TechnicalScore evaluates validated output and returns a score in [0,1].
//
// Completeness is the fraction of required top-level fields present with
// non-empty values. Correctness is a structural check: the output must be a
// parseable object; empty objects and non-object payloads score lower.
func (s *Scorer) TechnicalScore(validated []byte) float64 {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(validated, &obj); err != nil {
		// Parseable but not an object: structure is wrong, content may
		// still be salvageable
		if json.Valid(validated) {
			return clamp01(completenessWeight * s.completeness(nil))
		}
		return 0
	}

	completeness := s.completeness(obj)
	correctness := correctness(obj)
	return clamp01(completenessWeight*completeness + correctnessWeight*correctness)
}

// completeness returns the fraction of required fields present and
// non-empty. With no required fields configured, presence of any content
// counts as complete.
func (s *Scorer) completeness(obj map[string]json.RawMessage) float64 {
	if len(s.requiredFields) == 0 {
		if len(obj) > 0 {
			return 1.0
		}
		return 0
	}

	present := 0
	for _, field := range s.requiredFields {
		if raw, ok := obj[field]; ok && !isEmptyValue(raw) {
			present++
		}
	}
	return float64(present) / float64(len(s.requiredFields))
}

func correctness(obj map[string]json.RawMessage) float64 {
	if obj == nil {
		return 0
	}
	if len(obj) == 0 {
		return 0.5
	}

	// Penalize null-heavy objects: a worker that emitted the right keys
	// with no values did not do the work
	empty := 0
	for _, raw := range obj {
		if isEmptyValue(raw) {
			empty++
		}
	}
	return 1.0 - float64(empty)/float64(len(obj))
}

func isEmptyValue(raw json.RawMessage) bool {
	switch string(raw) {
	case "null", `""`, "{}", "[]":
		return true
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ProactivityScore rewards question discipline. No questions, or questions
// that were all low-effort, earn the bonus; each medium-effort question and
// each high-effort/blocking question applies its penalty.
func (s *Scorer) ProactivityScore(traj model.Trajectory) float64 {
	if len(traj.Questions) == 0 {
		return s.cfg.ProactivityBonus
	}

	var medium, high int
	for _, q := range traj.Questions {
		switch s.ClassifyEffort(q) {
		case model.EffortMedium:
			medium++
		case model.EffortHigh:
			high++
		}
	}

	if medium == 0 && high == 0 {
		return s.cfg.ProactivityBonus
	}
	return -s.cfg.MediumQuestionPenalty*float64(medium) - s.cfg.HighQuestionPenalty*float64(high)
}

// PersonalizationScore rewards preference compliance. A clean trajectory
// earns the bonus; each violation applies a penalty by kind.
func (s *Scorer) PersonalizationScore(traj model.Trajectory) float64 {
	if len(traj.Violations) == 0 {
		return s.cfg.PersonalizationBonus
	}

	score := 0.0
	for _, v := range traj.Violations {
		switch v.Kind {
		case model.ViolationLanguage:
			score -= s.cfg.LanguageViolationPenalty
		default: // format and content share a penalty
			score -= s.cfg.FormatViolationPenalty
		}
	}
	return score
}

// InteractionScore is the sum of the proactivity and personalization
// components. It is unbounded below.
func (s *Scorer) InteractionScore(traj model.Trajectory) float64 {
	return s.ProactivityScore(traj) + s.PersonalizationScore(traj)
}
