package config

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "consensus.weights")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// weightSumTolerance bounds floating-point drift when checking that a
// technical/interaction weight pair sums to 1.0
const weightSumTolerance = 1e-6

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateWorker()...)
	errors = append(errors, c.validateValidation()...)
	errors = append(errors, c.validateRetry()...)
	errors = append(errors, c.validateConsensus()...)
	errors = append(errors, c.validateOrchestrator()...)
	errors = append(errors, c.validateAgents()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateWorker checks worker lifecycle settings
func (c *Config) validateWorker() []ValidationError {
	var errors []ValidationError

	if c.Worker.PollIntervalMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "worker.poll_interval_ms",
			Value:   c.Worker.PollIntervalMs,
			Message: "must be positive",
		})
	}

	if c.Worker.StabilityWindowSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "worker.stability_window_seconds",
			Value:   c.Worker.StabilityWindowSeconds,
			Message: "must be positive",
		})
	}

	if c.Worker.MinOutputBytes <= 0 {
		errors = append(errors, ValidationError{
			Field:   "worker.min_output_bytes",
			Value:   c.Worker.MinOutputBytes,
			Message: "must be positive",
		})
	}

	if c.Worker.TimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "worker.timeout_seconds",
			Value:   c.Worker.TimeoutSeconds,
			Message: "must be positive",
		})
	}

	if c.Worker.GraceSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "worker.grace_seconds",
			Value:   c.Worker.GraceSeconds,
			Message: "must be non-negative",
		})
	}

	if c.Worker.PlausibilityFloorSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "worker.plausibility_floor_seconds",
			Value:   c.Worker.PlausibilityFloorSeconds,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateValidation checks output validation settings
func (c *Config) validateValidation() []ValidationError {
	var errors []ValidationError

	if c.Validation.MinBytes <= 0 {
		errors = append(errors, ValidationError{
			Field:   "validation.min_bytes",
			Value:   c.Validation.MinBytes,
			Message: "must be positive",
		})
	}

	if c.Validation.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "validation.max_retries",
			Value:   c.Validation.MaxRetries,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateRetry checks the default retry policy and every per-class override
func (c *Config) validateRetry() []ValidationError {
	errors := validateRetryPolicy("retry.default", c.Retry.Default)
	for class, policy := range c.Retry.Classes {
		errors = append(errors, validateRetryPolicy("retry.classes."+class, policy)...)
	}
	return errors
}

func validateRetryPolicy(field string, p RetryPolicyConfig) []ValidationError {
	var errors []ValidationError

	if p.MaxAttempts <= 0 {
		errors = append(errors, ValidationError{
			Field:   field + ".max_attempts",
			Value:   p.MaxAttempts,
			Message: "must be positive",
		})
	}

	if p.InitialBackoffMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   field + ".initial_backoff_ms",
			Value:   p.InitialBackoffMs,
			Message: "must be positive",
		})
	}

	if p.Multiplier < 1.0 {
		errors = append(errors, ValidationError{
			Field:   field + ".multiplier",
			Value:   p.Multiplier,
			Message: "must be at least 1.0",
		})
	}

	if p.MaxBackoffMs < p.InitialBackoffMs {
		errors = append(errors, ValidationError{
			Field:   field + ".max_backoff_ms",
			Value:   p.MaxBackoffMs,
			Message: "must be at least initial_backoff_ms",
		})
	}

	if p.JitterFactor < 0 || p.JitterFactor > 1 {
		errors = append(errors, ValidationError{
			Field:   field + ".jitter_factor",
			Value:   p.JitterFactor,
			Message: "must be between 0.0 and 1.0",
		})
	}

	return errors
}

// validateConsensus checks the global weight pair, every per-stage override,
// and the quorum. A weight pair that does not sum to 1.0 is rejected here,
// before any run can start.
func (c *Config) validateConsensus() []ValidationError {
	errors := validateWeights("consensus.weights", c.Consensus.Weights)
	for stage, w := range c.Consensus.PerStage {
		errors = append(errors, validateWeights("consensus.per_stage."+stage, w)...)
	}

	if c.Consensus.Quorum <= 0 {
		errors = append(errors, ValidationError{
			Field:   "consensus.quorum",
			Value:   c.Consensus.Quorum,
			Message: "must be positive",
		})
	}

	return errors
}

func validateWeights(field string, w WeightsConfig) []ValidationError {
	var errors []ValidationError

	if w.Technical < 0 || w.Technical > 1 {
		errors = append(errors, ValidationError{
			Field:   field + ".technical",
			Value:   w.Technical,
			Message: "must be between 0.0 and 1.0",
		})
	}

	if w.Interaction < 0 || w.Interaction > 1 {
		errors = append(errors, ValidationError{
			Field:   field + ".interaction",
			Value:   w.Interaction,
			Message: "must be between 0.0 and 1.0",
		})
	}

	if sum := w.Technical + w.Interaction; math.Abs(sum-1.0) > weightSumTolerance {
		errors = append(errors, ValidationError{
			Field:   field,
			Value:   sum,
			Message: "technical and interaction weights must sum to 1.0",
		})
	}

	return errors
}

// validateOrchestrator checks scheduling bounds
func (c *Config) validateOrchestrator() []ValidationError {
	var errors []ValidationError

	if c.Orchestrator.MaxStageRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "orchestrator.max_stage_retries",
			Value:   c.Orchestrator.MaxStageRetries,
			Message: "must be non-negative",
		})
	}

	if c.Orchestrator.MaxConcurrentRuns <= 0 {
		errors = append(errors, ValidationError{
			Field:   "orchestrator.max_concurrent_runs",
			Value:   c.Orchestrator.MaxConcurrentRuns,
			Message: "must be positive",
		})
	}

	return errors
}

// validateAgents checks the agent roster for empty names, empty commands,
// and duplicate names
func (c *Config) validateAgents() []ValidationError {
	var errors []ValidationError

	seen := make(map[string]bool, len(c.Agents))
	for i, agent := range c.Agents {
		field := fmt.Sprintf("agents[%d]", i)

		if agent.Name == "" {
			errors = append(errors, ValidationError{
				Field:   field + ".name",
				Value:   agent.Name,
				Message: "must not be empty",
			})
			continue
		}

		if seen[agent.Name] {
			errors = append(errors, ValidationError{
				Field:   field + ".name",
				Value:   agent.Name,
				Message: "duplicate agent name",
			})
		}
		seen[agent.Name] = true

		if agent.Command == "" {
			errors = append(errors, ValidationError{
				Field:   field + ".command",
				Value:   agent.Command,
				Message: "must not be empty",
			})
		}
	}

	return errors
}

// validateLogging checks logging settings
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
