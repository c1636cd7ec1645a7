package taskqueue

import (
	"context"
	"time"

	"github.com/petrijr/sconcur/pkg/api"
)

// Task is the engine's canonical record of one pushed request.
//
// A Task is owned by exactly one flow. Every field besides the immutable
// request is mutated only while the owning flow's lock is held.
type Task struct {
	FlowKey string
	Key     string
	Method  api.Method
	Payload string

	Status api.TaskStatus
	Result string
	Err    error

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time

	cancel          context.CancelFunc
	cancelRequested bool
}

// NewTask creates a Pending task for req.
func NewTask(req api.Request) *Task {
	return &Task{
		FlowKey:   req.FlowKey,
		Key:       req.TaskKey,
		Method:    req.Method,
		Payload:   req.Payload,
		Status:    api.TaskPending,
		CreatedAt: time.Now(),
	}
}

// Request returns the immutable part of the task.
func (t *Task) Request() api.Request {
	return api.Request{
		FlowKey: t.FlowKey,
		TaskKey: t.Key,
		Method:  t.Method,
		Payload: t.Payload,
	}
}

// Start moves the task to Running and returns the context handed to its
// handler. Cancelling that context is the task's cancellation token.
func (t *Task) Start(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	t.cancel = cancel
	t.Status = api.TaskRunning
	t.StartedAt = time.Now()
	return ctx
}

// RequestCancel fires the cancellation token of a Running task. It returns
// false when cancellation was already requested.
func (t *Task) RequestCancel() bool {
	if t.cancelRequested {
		return false
	}
	t.cancelRequested = true
	if t.cancel != nil {
		t.cancel()
	}
	return true
}

// CancelRequested reports whether RequestCancel was called.
func (t *Task) CancelRequested() bool {
	return t.cancelRequested
}

// Finish moves the task to a terminal status and releases its context.
func (t *Task) Finish(status api.TaskStatus, result string, err error) {
	t.Status = status
	t.Result = result
	t.Err = err
	t.FinishedAt = time.Now()
	if t.cancel != nil {
		t.cancel()
	}
}

// Outcome renders the task's current state as an api.Outcome.
func (t *Task) Outcome() api.Outcome {
	out := api.Outcome{
		FlowKey:    t.FlowKey,
		TaskKey:    t.Key,
		Method:     t.Method,
		Status:     t.Status,
		Result:     t.Result,
		FinishedAt: t.FinishedAt,
	}
	if t.Err != nil {
		out.Error = t.Err.Error()
	}
	if !t.StartedAt.IsZero() && !t.FinishedAt.IsZero() {
		out.ExecutionMs = t.FinishedAt.Sub(t.StartedAt).Milliseconds()
	}
	return out
}
