// Package errors provides centralized error definitions and error handling utilities
// for the Conclave codebase. It defines domain-specific errors, semantic error types,
// error constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// The package provides two categories of errors:
//
// Domain-specific errors represent errors from specific subsystems:
//   - RunError: errors related to stage-run lifecycle management
//   - WorkerError: errors related to worker process management
//   - ValidationError: errors from worker-output validation
//   - ConsensusError: errors from scoring and consensus selection
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - AlreadyExistsError: resource already exists
//   - TimeoutError: operation timed out
//
// # Usage
//
// Creating errors:
//
//	// Domain-specific error
//	err := errors.NewRunError("failed to dispatch stage", errors.ErrRunAlreadyActive)
//
//	// Semantic error
//	err := errors.NewNotFoundError("run", "abc123")
//
//	// With context wrapping
//	err := errors.NewWorkerError("spawn failed", baseErr).WithAgent("falcon")
//
// Checking errors:
//
//	// Check for specific sentinel errors
//	if errors.Is(err, errors.ErrWorkerTimeout) { ... }
//
//	// Check for error types
//	var runErr *errors.RunError
//	if errors.As(err, &runErr) { ... }
//
//	// Use classification helpers
//	if errors.IsRetryable(err) { ... }
//	if errors.IsUserFacing(err) { ... }
//
// # Error Classification
//
// Errors can be classified by severity and behavior:
//   - Retryable: transient errors that may succeed on retry
//   - UserFacing: errors safe to display to operators (vs internal errors)
//   - Severity: Debug, Info, Warning, Error, Critical
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Run-related sentinel errors
var (
	// ErrRunAlreadyActive indicates a non-terminal run already holds the
	// (work item, stage) slot. Callers treat this as a dedupe, not a failure.
	ErrRunAlreadyActive = New("run already active")
	// ErrRunNotFound indicates that a run could not be found.
	ErrRunNotFound = New("run not found")
	// ErrStaleRun indicates a callback whose run ID no longer matches the
	// active run and must be discarded.
	ErrStaleRun = New("stale run")
	// ErrStageRetriesExhausted indicates the stage retry cap was exceeded.
	ErrStageRetriesExhausted = New("stage retries exhausted")
)

// Worker-related sentinel errors
var (
	// ErrWorkerNotFound indicates that a worker could not be found.
	ErrWorkerNotFound = New("worker not found")
	// ErrWorkerTimeout indicates that a worker exceeded its deadline and
	// was force-terminated.
	ErrWorkerTimeout = New("worker timed out")
	// ErrWorkerSpawnFailed indicates that a worker process failed to start.
	ErrWorkerSpawnFailed = New("worker failed to start")
	// ErrAgentUnknown indicates an agent name absent from the registry.
	ErrAgentUnknown = New("agent not registered")
)

// Validation-related sentinel errors
var (
	// ErrOutputTooSmall indicates worker output below the size floor.
	ErrOutputTooSmall = New("output below size floor")
	// ErrSchemaEcho indicates the worker echoed its prompt schema instead
	// of answering it.
	ErrSchemaEcho = New("output echoes prompt schema")
	// ErrOutputUnparseable indicates output that failed the structural parse.
	ErrOutputUnparseable = New("output is not well-formed")
)

// Consensus-related sentinel errors
var (
	// ErrQuorumNotReached indicates too few successful workers to accept
	// even a degraded consensus.
	ErrQuorumNotReached = New("quorum not reached")
	// ErrConsensusConflict indicates material disagreement that must be
	// escalated, never silently resolved.
	ErrConsensusConflict = New("consensus conflict")
	// ErrNoScores indicates a selection attempted over an empty score set.
	ErrNoScores = New("no scores to select from")
	// ErrWeightsInvalid indicates consensus weights that do not sum to 1.0.
	ErrWeightsInvalid = New("consensus weights must sum to 1.0")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrStoreContention indicates transient persistent-store contention.
	ErrStoreContention = New("store contention")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// ConclaveError is the base interface for all Conclave errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type ConclaveError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	// This is used by errors.Is() for error comparison.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to operators.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show operators.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// RunError represents errors related to stage-run lifecycle management.
//
// Example:
//
//	err := errors.NewRunError("dispatch rejected", errors.ErrRunAlreadyActive)
//	err = err.WithRunID("run-7f3a").WithStage("plan")
type RunError struct {
	baseError
	RunID      string
	WorkItemID string
	Stage      string
	Attempt    int
}

// NewRunError creates a new RunError.
func NewRunError(message string, cause error) *RunError {
	return &RunError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
		Attempt: -1, // -1 indicates not set
	}
}

// WithRunID adds a run ID to the error context.
func (e *RunError) WithRunID(id string) *RunError {
	e.RunID = id
	return e
}

// WithWorkItem adds a work item ID to the error context.
func (e *RunError) WithWorkItem(id string) *RunError {
	e.WorkItemID = id
	return e
}

// WithStage adds a stage name to the error context.
func (e *RunError) WithStage(stage string) *RunError {
	e.Stage = stage
	return e
}

// WithAttempt adds an attempt counter to the error context.
func (e *RunError) WithAttempt(n int) *RunError {
	e.Attempt = n
	return e
}

// WithSeverity sets the error severity.
func (e *RunError) WithSeverity(s Severity) *RunError {
	e.severity = s
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *RunError) WithRetryable(r bool) *RunError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *RunError) Error() string {
	var parts []string
	if e.RunID != "" {
		parts = append(parts, fmt.Sprintf("run=%s", e.RunID))
	}
	if e.WorkItemID != "" {
		parts = append(parts, fmt.Sprintf("item=%s", e.WorkItemID))
	}
	if e.Stage != "" {
		parts = append(parts, fmt.Sprintf("stage=%s", e.Stage))
	}
	if e.Attempt >= 0 {
		parts = append(parts, fmt.Sprintf("attempt=%d", e.Attempt))
	}

	prefix := "run error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("run error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *RunError) Is(target error) bool {
	if _, ok := target.(*RunError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// WorkerError represents errors related to worker process management.
//
// Example:
//
//	err := errors.NewWorkerError("poll failed", errors.ErrWorkerTimeout)
//	err = err.WithWorkerID("w-1").WithAgent("falcon")
type WorkerError struct {
	baseError
	WorkerID string
	RunID    string
	Agent    string
}

// NewWorkerError creates a new WorkerError.
func NewWorkerError(message string, cause error) *WorkerError {
	return &WorkerError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithWorkerID adds a worker ID to the error context.
func (e *WorkerError) WithWorkerID(id string) *WorkerError {
	e.WorkerID = id
	return e
}

// WithRunID adds a run ID to the error context.
func (e *WorkerError) WithRunID(id string) *WorkerError {
	e.RunID = id
	return e
}

// WithAgent adds an agent name to the error context.
func (e *WorkerError) WithAgent(agent string) *WorkerError {
	e.Agent = agent
	return e
}

// WithSeverity sets the error severity.
func (e *WorkerError) WithSeverity(s Severity) *WorkerError {
	e.severity = s
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *WorkerError) WithRetryable(r bool) *WorkerError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *WorkerError) Error() string {
	var parts []string
	if e.WorkerID != "" {
		parts = append(parts, fmt.Sprintf("worker=%s", e.WorkerID))
	}
	if e.RunID != "" {
		parts = append(parts, fmt.Sprintf("run=%s", e.RunID))
	}
	if e.Agent != "" {
		parts = append(parts, fmt.Sprintf("agent=%s", e.Agent))
	}

	prefix := "worker error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("worker error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *WorkerError) Is(target error) bool {
	if _, ok := target.(*WorkerError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationKind identifies which ordered validation check rejected the
// output.
type ValidationKind string

const (
	// KindTooSmall means the output fell below the size floor.
	KindTooSmall ValidationKind = "too_small"
	// KindSchemaEcho means the output contained literal schema placeholders.
	KindSchemaEcho ValidationKind = "schema_echo"
	// KindUnparseable means the output failed the structural parse.
	KindUnparseable ValidationKind = "unparseable"
)

// ValidationError represents a rejected worker output. Validation
// failures are retryable within the caller's bounded budget.
//
// Example:
//
//	err := errors.NewValidationError(errors.KindSchemaEcho, "placeholder marker found")
//	err = err.WithWorkerID("w-1").WithSize(1161)
type ValidationError struct {
	baseError
	Kind     ValidationKind
	WorkerID string
	Size     int
}

// NewValidationError creates a new ValidationError.
func NewValidationError(kind ValidationKind, message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Kind: kind,
		Size: -1, // -1 indicates not set
	}
}

// WithWorkerID adds a worker ID to the error context.
func (e *ValidationError) WithWorkerID(id string) *ValidationError {
	e.WorkerID = id
	return e
}

// WithSize adds the observed output size to the error context.
func (e *ValidationError) WithSize(n int) *ValidationError {
	e.Size = n
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *ValidationError) WithRetryable(r bool) *ValidationError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	parts := []string{fmt.Sprintf("kind=%s", e.Kind)}
	if e.WorkerID != "" {
		parts = append(parts, fmt.Sprintf("worker=%s", e.WorkerID))
	}
	if e.Size >= 0 {
		parts = append(parts, fmt.Sprintf("size=%d", e.Size))
	}

	prefix := fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	switch e.Kind {
	case KindTooSmall:
		if errors.Is(target, ErrOutputTooSmall) {
			return true
		}
	case KindSchemaEcho:
		if errors.Is(target, ErrSchemaEcho) {
			return true
		}
	case KindUnparseable:
		if errors.Is(target, ErrOutputUnparseable) {
			return true
		}
	}
	return e.baseError.Is(target)
}

// ConsensusError represents errors from scoring and consensus selection.
//
// Example:
//
//	err := errors.NewConsensusError("selection failed", errors.ErrQuorumNotReached)
//	err = err.WithRunID("run-7f3a").WithSucceeded(1)
type ConsensusError struct {
	baseError
	RunID     string
	Stage     string
	Succeeded int
	Roster    int
}

// NewConsensusError creates a new ConsensusError.
func NewConsensusError(message string, cause error) *ConsensusError {
	return &ConsensusError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
		Succeeded: -1,
		Roster:    -1,
	}
}

// WithRunID adds a run ID to the error context.
func (e *ConsensusError) WithRunID(id string) *ConsensusError {
	e.RunID = id
	return e
}

// WithStage adds a stage name to the error context.
func (e *ConsensusError) WithStage(stage string) *ConsensusError {
	e.Stage = stage
	return e
}

// WithSucceeded adds the successful-worker count to the error context.
func (e *ConsensusError) WithSucceeded(n int) *ConsensusError {
	e.Succeeded = n
	return e
}

// WithRoster adds the full roster size to the error context.
func (e *ConsensusError) WithRoster(n int) *ConsensusError {
	e.Roster = n
	return e
}

// WithSeverity sets the error severity.
func (e *ConsensusError) WithSeverity(s Severity) *ConsensusError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *ConsensusError) Error() string {
	var parts []string
	if e.RunID != "" {
		parts = append(parts, fmt.Sprintf("run=%s", e.RunID))
	}
	if e.Stage != "" {
		parts = append(parts, fmt.Sprintf("stage=%s", e.Stage))
	}
	if e.Succeeded >= 0 && e.Roster >= 0 {
		parts = append(parts, fmt.Sprintf("succeeded=%d/%d", e.Succeeded, e.Roster))
	}

	prefix := "consensus error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("consensus error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ConsensusError) Is(target error) bool {
	if _, ok := target.(*ConsensusError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("run", "abc123")
//	fmt.Println(err) // "run 'abc123' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// AlreadyExistsError represents a resource that already exists.
//
// Example:
//
//	err := errors.NewAlreadyExistsError("agent", "falcon")
//	fmt.Println(err) // "agent 'falcon' already exists"
type AlreadyExistsError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(resourceType, resourceID string) *AlreadyExistsError {
	return &AlreadyExistsError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' already exists", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *AlreadyExistsError) WithCause(cause error) *AlreadyExistsError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *AlreadyExistsError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' already exists: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' already exists", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *AlreadyExistsError) Is(target error) bool {
	if _, ok := target.(*AlreadyExistsError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("waiting for worker output", 1200*time.Second)
//	fmt.Println(err) // "timeout error: waiting for worker output (timeout: 20m0s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true, // Timeouts are generally retryable
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// WithRetryable sets whether the error is retryable (default true for timeouts).
func (e *TimeoutError) WithRetryable(r bool) *TimeoutError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. This checks for:
//   - Errors implementing ConclaveError with IsRetryable() returning true
//   - TimeoutError instances
//   - Errors wrapping ErrTimeout or ErrStoreContention
//
// Example:
//
//	if errors.IsRetryable(err) {
//	    time.Sleep(backoff)
//	    return retry(operation)
//	}
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Check if error implements ConclaveError
	var conclaveErr ConclaveError
	if As(err, &conclaveErr) {
		return conclaveErr.IsRetryable()
	}

	// Check for known retryable sentinel errors
	if Is(err, ErrTimeout) || Is(err, ErrStoreContention) {
		return true
	}

	return false
}

// IsUserFacing returns true if the error message is safe to display to
// operators. This checks for:
//   - Errors implementing ConclaveError with IsUserFacing() returning true
//   - Semantic errors (NotFoundError, AlreadyExistsError, TimeoutError)
//
// Example:
//
//	if errors.IsUserFacing(err) {
//	    displayToUser(err.Error())
//	} else {
//	    displayToUser("An internal error occurred")
//	    log.Error("internal error", "err", err)
//	}
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	// Check if error implements ConclaveError
	var conclaveErr ConclaveError
	if As(err, &conclaveErr) {
		return conclaveErr.IsUserFacing()
	}

	// Semantic errors are always user-facing
	var notFound *NotFoundError
	var alreadyExists *AlreadyExistsError
	var timeout *TimeoutError

	if As(err, &notFound) || As(err, &alreadyExists) || As(err, &timeout) {
		return true
	}

	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement ConclaveError.
//
// Example:
//
//	switch errors.GetSeverity(err) {
//	case errors.SeverityCritical:
//	    alertOnCall(err)
//	case errors.SeverityError:
//	    log.Error("error occurred", "err", err)
//	case errors.SeverityWarning:
//	    log.Warn("warning", "err", err)
//	}
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	// Check if error implements ConclaveError
	var conclaveErr ConclaveError
	if As(err, &conclaveErr) {
		return conclaveErr.Severity()
	}

	// Default to Error severity for unknown errors
	return SeverityError
}

// IsDomainError returns true if the error is a domain-specific error
// (RunError, WorkerError, ValidationError, or ConsensusError).
func IsDomainError(err error) bool {
	if err == nil {
		return false
	}

	var runErr *RunError
	var workerErr *WorkerError
	var validationErr *ValidationError
	var consensusErr *ConsensusError

	return As(err, &runErr) || As(err, &workerErr) ||
		As(err, &validationErr) || As(err, &consensusErr)
}

// IsSemanticError returns true if the error is a semantic error
// (NotFoundError, AlreadyExistsError, or TimeoutError).
func IsSemanticError(err error) bool {
	if err == nil {
		return false
	}

	var notFound *NotFoundError
	var alreadyExists *AlreadyExistsError
	var timeout *TimeoutError

	return As(err, &notFound) || As(err, &alreadyExists) || As(err, &timeout)
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
// Unlike fmt.Errorf with %w, this preserves the ConclaveError interface.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to dispatch run")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
//
// Example:
//
//	err := errors.Wrapf(baseErr, "failed to collect output for run %s", runID)
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
