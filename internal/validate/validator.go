// Package validate rejects corrupted, partial, or echoed worker output
// before it can reach scoring.
//
// Three checks run in order: a size floor, template-echo detection, and a
// structural parse. Each failure carries a specific kind so callers can
// retry within budget or mark the worker failed for the run.
package validate

import (
	"bytes"
	"encoding/json"

	"github.com/conclavehq/conclave/internal/config"
	conclaveerrors "github.com/conclavehq/conclave/internal/errors"
)

// echoMarkers are literal type-placeholder fragments from the worker's own
// prompt schema. Output containing any of them echoed the question instead
// of answering it.
var echoMarkers = []string{
	`{ "path": string`,
	`"diff_proposals": [ {`,
	`: string (diff or summary)`,
	`${`,
}

// Validator applies the ordered output checks.
type Validator struct {
	minBytes int
}

// New creates a Validator from the validation config.
func New(cfg config.ValidationConfig) *Validator {
	return &Validator{minBytes: cfg.MinBytes}
}

// Validate runs the ordered checks against raw worker output and returns
// the extracted structured payload on success.
//
// Check order is fixed: size floor, then template-echo detection, then
// structural parse. The first failure wins.
func (v *Validator) Validate(raw []byte) ([]byte, error) {
	if len(raw) < v.minBytes {
		return nil, conclaveerrors.NewValidationError(conclaveerrors.KindTooSmall, "output below size floor").
			WithSize(len(raw))
	}

	for _, marker := range echoMarkers {
		if bytes.Contains(raw, []byte(marker)) {
			return nil, conclaveerrors.NewValidationError(conclaveerrors.KindSchemaEcho, "output echoes prompt schema placeholder").
				WithSize(len(raw))
		}
	}

	payload := extractPayload(raw)
	var parsed json.RawMessage
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, conclaveerrors.NewValidationError(conclaveerrors.KindUnparseable, "output is not well-formed structured data").
			WithSize(len(raw)).
			WithCause(err)
	}

	return payload, nil
}

// extractPayload strips surrounding whitespace and markdown code fences so
// an otherwise well-formed payload is not rejected for its wrapping.
func extractPayload(raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)

	if bytes.HasPrefix(trimmed, []byte("```")) {
		// Drop the opening fence line, including any language tag
		if idx := bytes.IndexByte(trimmed, '\n'); idx >= 0 {
			trimmed = trimmed[idx+1:]
		}
		if idx := bytes.LastIndex(trimmed, []byte("```")); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = bytes.TrimSpace(trimmed)
	}

	return trimmed
}
