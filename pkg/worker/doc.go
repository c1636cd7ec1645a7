// Package worker provides the execution side of sconcur: the Worker that
// runs a single job with fault isolation and the Pool that keeps a bounded
// number of workers busy.
//
// Workers are decoupled from flows. They pull jobs from a Source, which in
// the engine is the round-robin scheduler over all ready flows, and report
// each handler's return values back through Job.Finish. The flow that owns
// the job decides the terminal status.
//
// # Fault isolation
//
// A handler that panics does not take its worker down. The panic is
// recovered, logged with its stack through log/slog, and recorded on the
// task as an error wrapping api.ErrHandlerFault, so the task ends Failed.
//
// # Shutdown
//
// A Pool stops when its Source returns ErrSourceClosed or when Stop is
// called. Stop waits for in-flight handlers up to a grace period and then
// returns ErrStopTimeout; handlers that ignore their context keep running
// in the background until they return.
package worker
