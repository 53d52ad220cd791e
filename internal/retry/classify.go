// Package retry provides error classification, backoff computation, and
// retry state management for run execution.
//
// Failures are classified as retryable, permanent, or degraded; retryable
// failures back off exponentially with jitter, and per-key attempt state is
// tracked so budgets survive across dispatch cycles.
package retry

import (
	conclaveerrors "github.com/conclavehq/conclave/internal/errors"
)

// Classification is the retry disposition of a failure.
type Classification int

const (
	// Permanent failures are never retried: auth failures, malformed
	// config or arguments.
	Permanent Classification = iota
	// Retryable failures are transient: store contention, transport
	// timeouts, validation failures within budget.
	Retryable
	// Degraded means partial success is acceptable because quorum has
	// already been reached; the failure is recorded but not retried.
	Degraded
)

// String returns the classification name.
func (c Classification) String() string {
	switch c {
	case Permanent:
		return "permanent"
	case Retryable:
		return "retryable"
	case Degraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Classify determines the retry disposition of an error.
//
// Nil errors and unknown errors classify as Permanent: an operation is only
// retried when the error is positively known to be transient.
func Classify(err error) Classification {
	if err == nil {
		return Permanent
	}

	// Permanent sentinels take precedence over any retryable flag set
	// further down the chain.
	if conclaveerrors.Is(err, conclaveerrors.ErrWeightsInvalid) ||
		conclaveerrors.Is(err, conclaveerrors.ErrInvalidInput) ||
		conclaveerrors.Is(err, conclaveerrors.ErrAgentUnknown) ||
		conclaveerrors.Is(err, conclaveerrors.ErrStageRetriesExhausted) {
		return Permanent
	}

	if conclaveerrors.IsRetryable(err) {
		return Retryable
	}

	return Permanent
}

// ClassifyForRun determines the retry disposition of a worker failure in the
// context of a run. When quorum has already been reached, a failure that
// would otherwise be retried is classified Degraded instead: the run can
// proceed on the outputs it has.
func ClassifyForRun(err error, quorumReached bool) Classification {
	class := Classify(err)
	if class == Retryable && quorumReached {
		return Degraded
	}
	return class
}
