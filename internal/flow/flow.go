// Package flow implements a single flow: an isolated namespace of tasks with
// its own FIFO admission queue and its own store of undelivered outcomes.
package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petrijr/sconcur/internal/taskqueue"
	"github.com/petrijr/sconcur/pkg/api"
)

// Scheduler is told when a flow goes from having no pending tasks to
// having some. It later calls Flow.Next to take them one at a time.
type Scheduler interface {
	Ready(f *Flow)
}

// Config holds the per-flow policies.
type Config struct {
	DuplicatePolicy api.DuplicatePolicy

	// CancelGrace bounds how long a Running task may ignore a cancellation
	// request before it is forced to Cancelled. Zero disables forcing.
	CancelGrace time.Duration
}

// Options wires a Flow into its engine.
type Options struct {
	Config

	Scheduler Scheduler
	Observer  api.Observer

	// Live counts Pending and Running tasks; engines share one counter
	// across all of their flows.
	Live *atomic.Int64

	// OnDrained is called once, after the flow is Stopped and every stored
	// outcome has been delivered.
	OnDrained func(f *Flow)
}

// Flow owns the tasks pushed under one flow key.
type Flow struct {
	key  string
	opts Options

	// ctx is the parent of every running task's context.
	ctx       context.Context
	cancelAll context.CancelFunc

	results *ResultStore
	drained atomic.Bool

	mu        sync.Mutex
	state     api.FlowState
	queue     *taskqueue.Queue
	tasks     map[string]*taskqueue.Task
	running   map[*taskqueue.Task]struct{}
	scheduled bool
	stopTimer *time.Timer
}

// New creates an Active flow.
func New(key string, opts Options) *Flow {
	if opts.Observer == nil {
		opts.Observer = api.NoopObserver{}
	}
	if opts.Live == nil {
		opts.Live = new(atomic.Int64)
	}
	if opts.DuplicatePolicy == "" {
		opts.DuplicatePolicy = api.DuplicateReject
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Flow{
		key:       key,
		opts:      opts,
		ctx:       ctx,
		cancelAll: cancel,
		results:   NewResultStore(),
		state:     api.FlowActive,
		queue:     taskqueue.NewQueue(),
		tasks:     make(map[string]*taskqueue.Task),
		running:   make(map[*taskqueue.Task]struct{}),
	}
}

// Key returns the flow key.
func (f *Flow) Key() string {
	return f.key
}

// State returns the current lifecycle state.
func (f *Flow) State() api.FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Stats returns the number of pending, running and undelivered tasks.
func (f *Flow) Stats() (pending, running, undelivered int) {
	f.mu.Lock()
	pending, running = f.queue.Len(), len(f.running)
	f.mu.Unlock()
	return pending, running, f.results.Len()
}

// Push admits a Pending task. It never waits for execution.
func (f *Flow) Push(ctx context.Context, req api.Request) (api.Ack, error) {
	req.FlowKey = f.key

	var finished []api.Outcome

	f.mu.Lock()
	if f.state != api.FlowActive {
		state := f.state
		f.mu.Unlock()
		return api.Ack{}, fmt.Errorf("%w: flow %q is %s", api.ErrFlowNotActive, f.key, state)
	}

	if prev, ok := f.tasks[req.TaskKey]; ok {
		if f.opts.DuplicatePolicy != api.DuplicateReplace {
			f.mu.Unlock()
			return api.Ack{}, fmt.Errorf("%w: task %q in flow %q is %s",
				api.ErrDuplicateTask, req.TaskKey, f.key, prev.Status)
		}
		if out, ok := f.cancelLocked(prev); ok {
			finished = append(finished, out)
		}
		// A running predecessor keeps its slot in f.running until it ends.
		delete(f.tasks, req.TaskKey)
	}

	t := taskqueue.NewTask(req)
	f.queue.Enqueue(t)
	f.tasks[t.Key] = t
	f.opts.Live.Add(1)

	notify := !f.scheduled
	f.scheduled = true
	f.mu.Unlock()

	f.notifyFinished(ctx, finished)
	f.opts.Observer.OnTaskPushed(ctx, req)

	if notify && f.opts.Scheduler != nil {
		f.opts.Scheduler.Ready(f)
	}

	return api.Ack{FlowKey: f.key, TaskKey: t.Key, Status: api.TaskPending}, nil
}

// Wait blocks until an undelivered outcome exists and returns the oldest
// one. Once the flow is Stopped and nothing is left it returns
// api.ErrFlowStopped.
func (f *Flow) Wait(ctx context.Context) (api.Outcome, error) {
	out, err := f.results.Take(ctx)
	if err == nil || errors.Is(err, api.ErrFlowStopped) {
		f.checkDrained()
	}
	return out, err
}

// Cancel cancels a Pending task immediately or asks a Running task to stop.
// Unknown and terminal keys are ignored.
func (f *Flow) Cancel(ctx context.Context, taskKey string) {
	f.mu.Lock()
	t, ok := f.tasks[taskKey]
	if !ok {
		f.mu.Unlock()
		return
	}
	out, finished := f.cancelLocked(t)
	f.mu.Unlock()

	if finished {
		f.opts.Observer.OnTaskFinished(ctx, out)
	}
}

// Stop moves the flow to Stopping, cancels its pending tasks and lets the
// running ones finish with their results discarded. Waiters are released
// at once; outcomes stored before the stop can still be taken. Running
// tasks still busy after grace are abandoned and the flow becomes Stopped
// once nothing is running. Stop is idempotent.
func (f *Flow) Stop(ctx context.Context, grace time.Duration) {
	f.mu.Lock()
	if f.state != api.FlowActive {
		f.mu.Unlock()
		return
	}
	f.state = api.FlowStopping
	f.results.Close()

	var finished []api.Outcome
	for _, t := range f.queue.Drain() {
		t.Finish(api.TaskCancelled, "", fmt.Errorf("%w: flow stopped", api.ErrTaskCancelled))
		f.forgetLocked(t)
		finished = append(finished, t.Outcome())
	}

	stopped := f.completeStopLocked()
	if !stopped {
		if grace > 0 {
			f.stopTimer = time.AfterFunc(grace, f.abandon)
		} else {
			finished = append(finished, f.abandonLocked()...)
			stopped = f.completeStopLocked()
		}
	}
	f.mu.Unlock()

	f.notifyFinished(ctx, finished)
	if stopped {
		f.afterStop()
	}
}

// ForceStop stops the flow and abandons its running tasks at once. It also
// cuts short a Stop that is still within its grace period.
func (f *Flow) ForceStop(ctx context.Context) {
	f.Stop(ctx, 0)
	f.abandon()
}

// Adopt moves the outcomes prev stored but never delivered into f. It is
// called before f is visible to anyone else.
func (f *Flow) Adopt(prev *Flow) {
	for _, out := range prev.results.drain() {
		f.results.Put(out)
	}
}

// Next hands the oldest pending task to a worker as a Lease. more reports
// whether the flow still has pending tasks afterwards. A nil lease means
// there was nothing to run.
func (f *Flow) Next() (lease *Lease, more bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != api.FlowActive {
		f.scheduled = false
		return nil, false
	}

	t := f.queue.Dequeue()
	if t == nil {
		f.scheduled = false
		return nil, false
	}

	ctx := t.Start(f.ctx)
	f.running[t] = struct{}{}

	more = f.queue.Len() > 0
	if !more {
		f.scheduled = false
	}
	return &Lease{flow: f, task: t, ctx: ctx, req: t.Request()}, more
}

func (f *Flow) finish(t *taskqueue.Task, result string, err error) {
	f.mu.Lock()
	if t.Status != api.TaskRunning {
		// Forced to Cancelled or abandoned while the handler was busy.
		f.mu.Unlock()
		return
	}

	status := api.TaskCompleted
	switch {
	case t.CancelRequested():
		status = api.TaskCancelled
		result = ""
		err = fmt.Errorf("%w: acknowledged by handler", api.ErrTaskCancelled)
	case err != nil:
		status = api.TaskFailed
	}

	t.Finish(status, result, err)
	f.forgetLocked(t)
	out := t.Outcome()
	if f.state == api.FlowActive {
		f.results.Put(out)
	}
	stopped := f.completeStopLocked()
	f.mu.Unlock()

	f.opts.Observer.OnTaskFinished(context.Background(), out)
	if stopped {
		f.afterStop()
	}
}

func (f *Flow) forceCancel(t *taskqueue.Task) {
	f.mu.Lock()
	if t.Status != api.TaskRunning {
		f.mu.Unlock()
		return
	}

	t.Finish(api.TaskCancelled, "", fmt.Errorf("%w: handler did not acknowledge within %s",
		api.ErrTaskCancelled, f.opts.CancelGrace))
	f.forgetLocked(t)
	out := t.Outcome()
	if f.state == api.FlowActive {
		f.results.Put(out)
	}
	stopped := f.completeStopLocked()
	f.mu.Unlock()

	f.opts.Observer.OnTaskFinished(context.Background(), out)
	if stopped {
		f.afterStop()
	}
}

func (f *Flow) abandon() {
	f.mu.Lock()
	if f.state != api.FlowStopping {
		f.mu.Unlock()
		return
	}
	finished := f.abandonLocked()
	stopped := f.completeStopLocked()
	f.mu.Unlock()

	f.notifyFinished(context.Background(), finished)
	if stopped {
		f.afterStop()
	}
}

// cancelLocked returns the outcome when t reached Cancelled right away.
func (f *Flow) cancelLocked(t *taskqueue.Task) (api.Outcome, bool) {
	switch t.Status {
	case api.TaskPending:
		f.queue.Remove(t.Key)
		t.Finish(api.TaskCancelled, "", api.ErrTaskCancelled)
		f.forgetLocked(t)
		out := t.Outcome()
		if f.state == api.FlowActive {
			f.results.Put(out)
		}
		return out, true

	case api.TaskRunning:
		if t.RequestCancel() && f.opts.CancelGrace > 0 {
			time.AfterFunc(f.opts.CancelGrace, func() { f.forceCancel(t) })
		}
	}
	return api.Outcome{}, false
}

func (f *Flow) abandonLocked() []api.Outcome {
	out := make([]api.Outcome, 0, len(f.running))
	for t := range f.running {
		t.RequestCancel()
		t.Finish(api.TaskCancelled, "", fmt.Errorf("%w: abandoned by flow stop", api.ErrTaskCancelled))
		f.forgetLocked(t)
		out = append(out, t.Outcome())
	}
	return out
}

// forgetLocked drops a task that just reached a terminal status.
func (f *Flow) forgetLocked(t *taskqueue.Task) {
	if f.tasks[t.Key] == t {
		delete(f.tasks, t.Key)
	}
	delete(f.running, t)
	f.opts.Live.Add(-1)
}

func (f *Flow) completeStopLocked() bool {
	if f.state != api.FlowStopping || len(f.running) > 0 {
		return false
	}
	f.state = api.FlowStopped
	if f.stopTimer != nil {
		f.stopTimer.Stop()
		f.stopTimer = nil
	}
	return true
}

func (f *Flow) afterStop() {
	f.cancelAll()
	f.opts.Observer.OnFlowStopped(context.Background(), f.key)
	f.checkDrained()
}

func (f *Flow) checkDrained() {
	if f.State() != api.FlowStopped || f.results.Len() > 0 {
		return
	}
	if f.drained.CompareAndSwap(false, true) && f.opts.OnDrained != nil {
		f.opts.OnDrained(f)
	}
}

func (f *Flow) notifyFinished(ctx context.Context, outs []api.Outcome) {
	for _, out := range outs {
		f.opts.Observer.OnTaskFinished(ctx, out)
	}
}

// Lease is a Running task handed to a worker.
type Lease struct {
	flow *Flow
	task *taskqueue.Task
	ctx  context.Context
	req  api.Request
}

// Context is cancelled when the task is cancelled or abandoned.
func (l *Lease) Context() context.Context {
	return l.ctx
}

// Request returns the task's request.
func (l *Lease) Request() api.Request {
	return l.req
}

// Finish records the handler's return values on the task.
func (l *Lease) Finish(result string, err error) {
	l.flow.finish(l.task, result, err)
}
