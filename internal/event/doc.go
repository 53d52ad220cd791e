// Package event provides a pub-sub event bus for decoupled inter-component
// communication in Conclave.
//
// This package enables loose coupling between the orchestrator, the CLI
// surface, persistence, and telemetry. Components publish events without
// knowing who will receive them, and subscribe without knowing who will
// produce them.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// Run lifecycle:
//   - [RunStatusChangedEvent]: Emitted on every run state transition
//   - [RunDedupedEvent]: Emitted when a dispatch is absorbed by an active run
//   - [StageRetryEvent]: Emitted when a failed run is retried under a fresh run ID
//
// Worker lifecycle:
//   - [WorkerStartedEvent]: Emitted when a worker process is spawned
//   - [WorkerFinishedEvent]: Emitted when a worker reaches a terminal state
//
// Consensus:
//   - [ConsensusReachedEvent]: Emitted when a consensus round selects a winner
//   - [ConflictEscalatedEvent]: Emitted when disagreement or missed quorum escalates
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Multiple goroutines can publish
// and subscribe concurrently. Handlers are called synchronously and protected
// against panics - a panicking handler will not prevent other handlers from
// being called.
//
// # Basic Usage
//
//	bus := event.NewBus()
//
//	// Subscribe to specific event types
//	bus.Subscribe("run.deduped", func(e event.Event) {
//	    deduped := e.(event.RunDedupedEvent)
//	    log.Printf("dispatch absorbed by run %s", deduped.ActiveRunID)
//	})
//
//	// Subscribe to all events (useful for logging)
//	bus.SubscribeAll(func(e event.Event) {
//	    log.Printf("Event: %s at %v", e.EventType(), e.Timestamp())
//	})
//
//	// Publish events
//	bus.Publish(event.NewWorkerStartedEvent("w-1", "run-1", "falcon", pid))
//
//	// Unsubscribe when done
//	id := bus.Subscribe("consensus.reached", handler)
//	bus.Unsubscribe(id)
//
// # Event Type Naming Convention
//
// Event types follow the pattern "category.action":
//   - run.status_changed, run.deduped, run.retrying
//   - worker.started, worker.finished
//   - consensus.reached, consensus.conflict
package event
