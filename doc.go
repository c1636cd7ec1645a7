// Package sconcur provides an embeddable, flow-scoped task dispatch engine
// for Go.
//
// Many independent callers push tasks into named flows, a bounded pool of
// workers executes them concurrently, and callers block in Wait until an
// outcome of their flow is ready. Flows are isolated from each other: each
// has its own queue, its own results and its own lifecycle.
//
// # Core Concepts
//
//  1. Engine
//  2. Flow
//  3. Handler
//  4. Observer and Journal
//
// # Engine
//
// New returns an Engine with its workers running. The Engine exposes
// Ping, Version, Push, Wait, Cancel, Count, StopFlow and Destroy. Every
// method is safe for concurrent use; only Wait blocks.
//
//	eng, err := sconcur.New(sconcur.WithWorkers(4))
//	if err != nil { ... }
//	defer eng.Destroy(ctx)
//
//	_, err = eng.Push(ctx, sconcur.Request{
//	    FlowKey: "order-42",
//	    TaskKey: "reserve",
//	    Method:  sconcur.MethodSleep,
//	    Payload: `{"ms": 50}`,
//	})
//	out, err := eng.Wait(ctx, "order-42")
//
// # Flow
//
// A flow is created by the first Push naming its key. Within a flow, tasks
// are dequeued in push order and task keys are unique among live tasks.
// Across flows, workers are shared round robin so a busy flow cannot
// starve the others.
//
// StopFlow cancels pending tasks, lets running ones finish with their
// results discarded, and releases blocked waiters with ErrFlowStopped.
// By default a later Push under the same key starts a fresh flow.
//
// # Handler
//
// Payloads are opaque to the engine and routed to a Handler by method id.
// Three handlers are built in. MethodSleep sleeps for {"ms": N}.
// MethodMongoDB runs a command against a MongoDB collection, and an
// aggregate with a batchSize leaves a cursor open that MethodMongoDBCursor
// reads one batch at a time. Custom handlers are registered with
// WithHandler.
//
// # Observer and Journal
//
// Observers receive lifecycle callbacks. LoggingObserver logs through
// log/slog, BasicMetrics keeps counters, and pkg/metrics exports
// Prometheus collectors. WithJournal records every terminal outcome in an
// in-memory, SQLite, Postgres, Redis or MongoDB Journal.
//
// For a string-returning boundary suitable for foreign callers, see
// pkg/wire. For examples, see the /examples directory.
package sconcur
