package scoring

import (
	"strings"

	"github.com/conclavehq/conclave/internal/model"
)

// EffortClassifier decides how much operator effort a worker question
// demands. Implementations report ok=false when the question is ambiguous,
// letting the scorer consult a fallback.
type EffortClassifier interface {
	ClassifyEffort(question string) (model.EffortLevel, bool)
}

// heuristicClassifier is the default pattern-based classifier.
//
// Phrasing buckets:
//   - selection questions offer bounded choices the operator can answer from
//     context in seconds (low effort)
//   - investigative or blocking questions demand research before the worker
//     can proceed (high effort)
//   - open-ended questions that are neither fall in between (medium effort)
type heuristicClassifier struct{}

var lowEffortMarkers = []string{
	"which of",
	"which one",
	"should i use",
	"should i include",
	"do you want",
	"would you like",
	"do you prefer",
	"yes or no",
	"is it ok",
	"is it okay",
}

var highEffortMarkers = []string{
	"before proceeding",
	"before i proceed",
	"investigate",
	"research",
	"deep dive",
	"audit",
	"benchmark",
	"blocked on",
	"cannot continue",
	"can't continue",
}

var mediumEffortMarkers = []string{
	"how should",
	"what approach",
	"what strategy",
	"how do you want",
	"describe",
	"explain",
	"clarify",
	"elaborate",
}

func (heuristicClassifier) ClassifyEffort(question string) (model.EffortLevel, bool) {
	q := strings.ToLower(question)

	// High-effort markers dominate: an investigative question phrased as a
	// choice is still blocking.
	for _, marker := range highEffortMarkers {
		if strings.Contains(q, marker) {
			return model.EffortHigh, true
		}
	}

	for _, marker := range lowEffortMarkers {
		if strings.Contains(q, marker) {
			return model.EffortLow, true
		}
	}

	// A bare "A or B?" is a selection question even without a lead-in.
	if strings.Contains(q, " or ") && strings.HasSuffix(strings.TrimSpace(q), "?") {
		return model.EffortLow, true
	}

	for _, marker := range mediumEffortMarkers {
		if strings.Contains(q, marker) {
			return model.EffortMedium, true
		}
	}

	return "", false
}

// ClassifyEffort resolves a question's effort level. Pre-tagged questions
// keep their tag; untagged ones go through the heuristics, then the optional
// fallback classifier, then default to medium.
func (s *Scorer) ClassifyEffort(q model.Question) model.EffortLevel {
	if q.Effort != "" {
		return q.Effort
	}

	if level, ok := s.heuristics.ClassifyEffort(q.Text); ok {
		return level
	}
	if s.fallback != nil {
		if level, ok := s.fallback.ClassifyEffort(q.Text); ok {
			return level
		}
	}
	return model.EffortMedium
}
