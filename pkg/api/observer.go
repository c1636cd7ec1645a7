package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// Implementations should be fast and non-blocking; callbacks run on worker
// goroutines and on caller goroutines, never while engine locks are held.
type Observer interface {
	// OnFlowCreated is called when a flow key is first resolved to a new flow.
	OnFlowCreated(ctx context.Context, flowKey string)

	// OnTaskPushed is called after a task was admitted in Pending status.
	OnTaskPushed(ctx context.Context, req Request)

	// OnTaskStarted is called by a worker right before the handler runs.
	OnTaskStarted(ctx context.Context, req Request)

	// OnTaskFinished is called once per task when it reaches a terminal
	// status, including tasks whose outcome is discarded by a stopped flow.
	OnTaskFinished(ctx context.Context, out Outcome)

	// OnFlowStopped is called when a flow reaches FlowStopped.
	OnFlowStopped(ctx context.Context, flowKey string)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnFlowCreated(ctx context.Context, flowKey string) {}
func (NoopObserver) OnTaskPushed(ctx context.Context, req Request)     {}
func (NoopObserver) OnTaskStarted(ctx context.Context, req Request)    {}
func (NoopObserver) OnTaskFinished(ctx context.Context, out Outcome)   {}
func (NoopObserver) OnFlowStopped(ctx context.Context, flowKey string) {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnFlowCreated(ctx context.Context, flowKey string) {
	for _, o := range c.observers {
		o.OnFlowCreated(ctx, flowKey)
	}
}

func (c *CompositeObserver) OnTaskPushed(ctx context.Context, req Request) {
	for _, o := range c.observers {
		o.OnTaskPushed(ctx, req)
	}
}

func (c *CompositeObserver) OnTaskStarted(ctx context.Context, req Request) {
	for _, o := range c.observers {
		o.OnTaskStarted(ctx, req)
	}
}

func (c *CompositeObserver) OnTaskFinished(ctx context.Context, out Outcome) {
	for _, o := range c.observers {
		o.OnTaskFinished(ctx, out)
	}
}

func (c *CompositeObserver) OnFlowStopped(ctx context.Context, flowKey string) {
	for _, o := range c.observers {
		o.OnFlowStopped(ctx, flowKey)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs flow / task lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnFlowCreated(ctx context.Context, flowKey string) {
	o.Logger.DebugContext(ctx, "flow_created",
		slog.String("flow", flowKey),
	)
}

func (o *LoggingObserver) OnTaskPushed(ctx context.Context, req Request) {
	o.Logger.DebugContext(ctx, "task_pushed",
		slog.String("flow", req.FlowKey),
		slog.String("task", req.TaskKey),
		slog.Int("method", int(req.Method)),
	)
}

func (o *LoggingObserver) OnTaskStarted(ctx context.Context, req Request) {
	o.Logger.DebugContext(ctx, "task_started",
		slog.String("flow", req.FlowKey),
		slog.String("task", req.TaskKey),
		slog.Int("method", int(req.Method)),
	)
}

func (o *LoggingObserver) OnTaskFinished(ctx context.Context, out Outcome) {
	level := slog.LevelInfo
	if out.Status == TaskFailed {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "task_finished",
		slog.String("flow", out.FlowKey),
		slog.String("task", out.TaskKey),
		slog.Int("method", int(out.Method)),
		slog.String("status", string(out.Status)),
		slog.Int64("execution_ms", out.ExecutionMs),
		slog.String("error", out.Error),
	)
}

func (o *LoggingObserver) OnFlowStopped(ctx context.Context, flowKey string) {
	o.Logger.InfoContext(ctx, "flow_stopped",
		slog.String("flow", flowKey),
	)
}

// BasicMetrics collects simple counters and aggregate execution durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	flowsCreated   atomic.Int64
	flowsStopped   atomic.Int64
	tasksPushed    atomic.Int64
	tasksStarted   atomic.Int64
	tasksCompleted atomic.Int64
	tasksFailed    atomic.Int64
	tasksCancelled atomic.Int64
	totalExecMs    atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	FlowsCreated int64
	FlowsStopped int64

	TasksPushed    int64
	TasksStarted   int64
	TasksCompleted int64
	TasksFailed    int64
	TasksCancelled int64
	LiveTasks      int64

	AvgExecution time.Duration
}

func (m *BasicMetrics) OnFlowCreated(ctx context.Context, flowKey string) {
	m.flowsCreated.Add(1)
}

func (m *BasicMetrics) OnTaskPushed(ctx context.Context, req Request) {
	m.tasksPushed.Add(1)
}

func (m *BasicMetrics) OnTaskStarted(ctx context.Context, req Request) {
	m.tasksStarted.Add(1)
}

func (m *BasicMetrics) OnTaskFinished(ctx context.Context, out Outcome) {
	switch out.Status {
	case TaskCompleted:
		m.tasksCompleted.Add(1)
		// Only successful executions count toward the average.
		m.totalExecMs.Add(out.ExecutionMs)
	case TaskFailed:
		m.tasksFailed.Add(1)
	case TaskCancelled:
		m.tasksCancelled.Add(1)
	}
}

func (m *BasicMetrics) OnFlowStopped(ctx context.Context, flowKey string) {
	m.flowsStopped.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	pushed := m.tasksPushed.Load()
	completed := m.tasksCompleted.Load()
	failed := m.tasksFailed.Load()
	cancelled := m.tasksCancelled.Load()
	totalMs := m.totalExecMs.Load()

	var avg time.Duration
	if completed > 0 {
		avg = time.Duration(totalMs/completed) * time.Millisecond
	}

	return BasicMetricsSnapshot{
		FlowsCreated:   m.flowsCreated.Load(),
		FlowsStopped:   m.flowsStopped.Load(),
		TasksPushed:    pushed,
		TasksStarted:   m.tasksStarted.Load(),
		TasksCompleted: completed,
		TasksFailed:    failed,
		TasksCancelled: cancelled,
		LiveTasks:      pushed - completed - failed - cancelled,
		AvgExecution:   avg,
	}
}
