package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/petrijr/sconcur/pkg/api"
)

// ErrSourceClosed is returned by a Source once it will never yield another
// job. Workers treat it as a clean shutdown signal.
var ErrSourceClosed = errors.New("job source closed")

// Job is a Running task leased to a worker.
type Job interface {
	// Context is the task's cancellation token.
	Context() context.Context
	Request() api.Request
	// Finish records the handler's return values. It is called exactly once.
	Finish(result string, err error)
}

// Source hands out jobs, blocking until one is ready.
type Source interface {
	Next(ctx context.Context) (Job, error)
}

// Worker pulls jobs from a Source and executes them with the Handler
// registered for their method.
type Worker struct {
	source   Source
	handlers *api.Registry
	observer api.Observer
	logger   *slog.Logger
}

// New creates a new Worker. A nil observer or logger falls back to
// api.NoopObserver and slog.Default.
func New(source Source, handlers *api.Registry, observer api.Observer, logger *slog.Logger) *Worker {
	if observer == nil {
		observer = api.NoopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		source:   source,
		handlers: handlers,
		observer: observer,
		logger:   logger,
	}
}

// ProcessOne takes a single job from the source and executes it.
// Returns (processed, error):
//   - processed == false: no job was obtained; err is ErrSourceClosed or the
//     context error.
//   - processed == true: a job ran to completion; err is the handler error,
//     already recorded on the job.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	job, err := w.source.Next(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	req := job.Request()
	w.observer.OnTaskStarted(job.Context(), req)

	result, runErr := w.run(job.Context(), req)
	job.Finish(result, runErr)
	return true, runErr
}

func (w *Worker) run(ctx context.Context, req api.Request) (result string, err error) {
	h, err := w.handlers.Lookup(req.Method)
	if err != nil {
		return "", err
	}

	defer func() {
		if r := recover(); r != nil {
			w.logger.ErrorContext(ctx, "handler_panic",
				slog.String("flow", req.FlowKey),
				slog.String("task", req.TaskKey),
				slog.Int("method", int(req.Method)),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			result = ""
			err = fmt.Errorf("%w: panic in method %d handler: %v", api.ErrHandlerFault, req.Method, r)
		}
	}()

	return h.Handle(ctx, req)
}
