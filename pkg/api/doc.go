// Package api contains the core types shared by the sconcur engine, its
// workers and its handlers.
//
// Most users interact with the higher-level sconcur package, which re-exports
// selected types and helpers from this package. The api package is intended
// for handler authors, custom observers, and bindings that talk to an Engine
// directly.
//
// # Concepts
//
// The api package centers around a small set of concepts:
//
//   - Flows: isolated namespaces of tasks, identified by a caller-chosen key
//   - Tasks: units of work pushed into a flow and identified by a task key
//   - Handlers: method-specific execution logic, selected by Method id
//   - Outcomes: the terminal status of a task plus its result or error
//   - Observability
//
// # Task Lifecycle
//
// A task moves through a small state machine:
//
//	Pending --dispatch--> Running --success--> Completed
//	Running --failure--> Failed
//	Pending --cancel--> Cancelled
//	Running --cancel ack / grace timeout--> Cancelled
//
// Completed, Failed and Cancelled are terminal; no transitions leave them.
//
// # Handlers
//
// A Handler receives the task's Request and a context that acts as the
// cooperative cancellation token: handlers are expected to return promptly
// once ctx.Done() is closed. Panics are recovered by the worker and reported
// as Failed outcomes wrapping ErrHandlerFault.
//
// # Observability
//
// Engines report lifecycle events to an Observer. LoggingObserver writes
// structured logs via log/slog, BasicMetrics keeps in-process counters, and
// CompositeObserver fans events out to several observers.
package api
