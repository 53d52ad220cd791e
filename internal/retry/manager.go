package retry

import (
	"sync"
)

// AttemptState tracks retry attempts for one keyed operation, typically a
// (work item, stage) pair or a worker within a run.
type AttemptState struct {
	Key        string   `json:"key"`
	RetryCount int      `json:"retry_count"`
	MaxRetries int      `json:"max_retries"`
	LastError  string   `json:"last_error,omitempty"`
	ErrorLog   []string `json:"error_log,omitempty"` // Error per failed attempt (for auditing)
	Succeeded  bool     `json:"succeeded,omitempty"` // True once the operation eventually succeeded
}

// Manager manages retry state across keyed operations.
// It is thread-safe and can be used concurrently.
type Manager struct {
	mu     sync.RWMutex
	states map[string]*AttemptState
}

// NewManager creates a new retry manager.
func NewManager() *Manager {
	return &Manager{
		states: make(map[string]*AttemptState),
	}
}

// GetOrCreateState returns or creates retry state for a key.
// If the state doesn't exist, it creates one with the given maxRetries.
func (m *Manager) GetOrCreateState(key string, maxRetries int) *AttemptState {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists := m.states[key]
	if !exists {
		state = &AttemptState{
			Key:        key,
			MaxRetries: maxRetries,
			ErrorLog:   make([]string, 0),
		}
		m.states[key] = state
	}
	return state
}

// GetState returns the retry state for a key, or nil if not found.
func (m *Manager) GetState(key string) *AttemptState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[key]
}

// ShouldRetry returns whether the keyed operation should be retried.
// An operation should be retried if it has state and hasn't exhausted its budget.
func (m *Manager) ShouldRetry(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, exists := m.states[key]
	if !exists {
		return false
	}
	return state.RetryCount < state.MaxRetries && !state.Succeeded
}

// RecordAttempt records an attempt for a key.
// If success is true, the operation is marked succeeded and no more retries
// will be allowed. If success is false, the retry count is incremented.
func (m *Manager) RecordAttempt(key string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists := m.states[key]
	if !exists {
		return
	}

	if success {
		state.Succeeded = true
	} else {
		state.RetryCount++
	}
}

// RecordError records the error message for the latest failed attempt.
func (m *Manager) RecordError(key string, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists := m.states[key]
	if !exists {
		return
	}
	state.LastError = errMsg
	state.ErrorLog = append(state.ErrorLog, errMsg)
}

// GetExhausted returns the keys of all operations that have exhausted their
// retry budget without succeeding.
func (m *Manager) GetExhausted() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var exhausted []string
	for key, state := range m.states {
		if !state.Succeeded && state.RetryCount >= state.MaxRetries {
			exhausted = append(exhausted, key)
		}
	}
	return exhausted
}

// GetRetrying returns the keys of all operations still eligible for retry.
func (m *Manager) GetRetrying() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var retrying []string
	for key, state := range m.states {
		if !state.Succeeded && state.RetryCount < state.MaxRetries {
			retrying = append(retrying, key)
		}
	}
	return retrying
}

// Reset clears the retry state for a key.
func (m *Manager) Reset(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, key)
}

// ResetAll clears all retry state.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states = make(map[string]*AttemptState)
}

// GetAllStates returns a copy of all attempt states.
// This is useful for serialization/persistence.
func (m *Manager) GetAllStates() map[string]*AttemptState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]*AttemptState, len(m.states))
	for k, v := range m.states {
		stateCopy := *v
		// Copy the slice to avoid sharing
		if v.ErrorLog != nil {
			stateCopy.ErrorLog = make([]string, len(v.ErrorLog))
			copy(stateCopy.ErrorLog, v.ErrorLog)
		}
		result[k] = &stateCopy
	}
	return result
}

// LoadStates loads attempt states from a map.
// This is useful for restoring from persistence.
func (m *Manager) LoadStates(states map[string]*AttemptState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states = make(map[string]*AttemptState, len(states))
	for k, v := range states {
		if v != nil {
			stateCopy := *v
			if v.ErrorLog != nil {
				stateCopy.ErrorLog = make([]string, len(v.ErrorLog))
				copy(stateCopy.ErrorLog, v.ErrorLog)
			}
			m.states[k] = &stateCopy
		}
	}
}
