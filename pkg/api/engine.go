package api

import "context"

// Engine is the facade a binding talks to. All methods are safe for
// concurrent use by independent callers.
type Engine interface {
	// Ping is a liveness check. It never blocks and never touches flows.
	Ping(name string) string

	// Version returns the engine build identifier.
	Version() string

	// Push admits a task to the flow named by req.FlowKey, creating the flow
	// if needed. It never waits for the task to run.
	Push(ctx context.Context, req Request) (Ack, error)

	// Wait blocks until a terminal outcome of the flow is available, the
	// flow stops (ErrFlowStopped), the wait timeout elapses (ErrWaitTimeout),
	// ctx ends, or the engine is destroyed (ErrRegistryDestroyed).
	Wait(ctx context.Context, flowKey string) (Outcome, error)

	// Cancel cancels a Pending task or requests cancellation of a Running
	// one. Unknown and terminal tasks are ignored.
	Cancel(ctx context.Context, flowKey, taskKey string) error

	// Count returns the number of Pending and Running tasks across all flows.
	Count() int

	// StopFlow stops the flow: pending tasks are cancelled, running tasks
	// finish with their results discarded, and waiters are released.
	StopFlow(ctx context.Context, flowKey string) error

	// Destroy tears the engine down. It is idempotent and does not wait
	// for running handlers; Done is closed once the workers have exited.
	Destroy(ctx context.Context)

	// Done is closed when a destroyed engine has finished shutting down.
	Done() <-chan struct{}
}
