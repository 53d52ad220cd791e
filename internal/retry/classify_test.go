package retry

import (
	"fmt"
	"testing"

	conclaveerrors "github.com/conclavehq/conclave/internal/errors"
)

func TestClassificationString(t *testing.T) {
	tests := []struct {
		class    Classification
		expected string
	}{
		{Permanent, "permanent"},
		{Retryable, "retryable"},
		{Degraded, "degraded"},
		{Classification(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.class.String(); got != tt.expected {
			t.Errorf("Classification(%d).String() = %q, want %q", tt.class, got, tt.expected)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Classification
	}{
		{
			name:     "nil error is permanent",
			err:      nil,
			expected: Permanent,
		},
		{
			name:     "store contention is retryable",
			err:      conclaveerrors.ErrStoreContention,
			expected: Retryable,
		},
		{
			name:     "timeout is retryable",
			err:      conclaveerrors.ErrTimeout,
			expected: Retryable,
		},
		{
			name:     "validation error is retryable",
			err:      conclaveerrors.NewValidationError(conclaveerrors.KindTooSmall, "output below size floor"),
			expected: Retryable,
		},
		{
			name:     "invalid weights are permanent",
			err:      conclaveerrors.ErrWeightsInvalid,
			expected: Permanent,
		},
		{
			name:     "invalid input is permanent",
			err:      conclaveerrors.ErrInvalidInput,
			expected: Permanent,
		},
		{
			name:     "unknown agent is permanent",
			err:      conclaveerrors.ErrAgentUnknown,
			expected: Permanent,
		},
		{
			name:     "exhausted stage retries are permanent",
			err:      conclaveerrors.ErrStageRetriesExhausted,
			expected: Permanent,
		},
		{
			name:     "plain error is permanent",
			err:      fmt.Errorf("something broke"),
			expected: Permanent,
		},
		{
			name:     "wrapped store contention is retryable",
			err:      fmt.Errorf("persisting transition: %w", conclaveerrors.ErrStoreContention),
			expected: Retryable,
		},
		{
			name:     "wrapped invalid input stays permanent",
			err:      fmt.Errorf("parsing roster: %w", conclaveerrors.ErrInvalidInput),
			expected: Permanent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.expected {
				t.Errorf("Classify() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestClassifyForRun(t *testing.T) {
	retryable := conclaveerrors.ErrStoreContention
	permanent := conclaveerrors.ErrInvalidInput

	t.Run("retryable without quorum stays retryable", func(t *testing.T) {
		if got := ClassifyForRun(retryable, false); got != Retryable {
			t.Errorf("ClassifyForRun() = %v, want Retryable", got)
		}
	})

	t.Run("retryable with quorum degrades", func(t *testing.T) {
		if got := ClassifyForRun(retryable, true); got != Degraded {
			t.Errorf("ClassifyForRun() = %v, want Degraded", got)
		}
	})

	t.Run("permanent is never degraded", func(t *testing.T) {
		if got := ClassifyForRun(permanent, true); got != Permanent {
			t.Errorf("ClassifyForRun() = %v, want Permanent", got)
		}
	})
}
