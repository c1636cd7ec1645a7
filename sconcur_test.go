package sconcur

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func upper() Handler {
	return HandlerFunc(func(ctx context.Context, req Request) (string, error) {
		return strings.ToUpper(req.Payload), nil
	})
}

func destroyAndWait(t *testing.T, eng Engine) {
	t.Helper()
	eng.Destroy(context.Background())
	select {
	case <-eng.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not shut down")
	}
}

func TestNew_CustomHandler(t *testing.T) {
	ctx := context.Background()
	eng, err := New(WithWorkers(2), WithHandler(100, upper()))
	require.NoError(t, err)
	defer destroyAndWait(t, eng)

	ack, err := eng.Push(ctx, Request{FlowKey: "f1", TaskKey: "t1", Method: 100, Payload: "hello"})
	require.NoError(t, err)
	require.Equal(t, TaskPending, ack.Status)

	out, err := eng.Wait(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, TaskCompleted, out.Status)
	require.Equal(t, "HELLO", out.Result)
}

func TestNew_BuiltinSleepHandler(t *testing.T) {
	ctx := context.Background()
	eng := MustNew()
	defer destroyAndWait(t, eng)

	_, err := eng.Push(ctx, Request{FlowKey: "f1", TaskKey: "nap", Method: MethodSleep, Payload: `{"ms":5}`})
	require.NoError(t, err)

	out, err := eng.Wait(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, TaskCompleted, out.Status)
	require.JSONEq(t, `{"sleptMs":5}`, out.Result)
	require.GreaterOrEqual(t, out.ExecutionMs, int64(5))
}

func TestNew_WithHandlerOverridesBuiltin(t *testing.T) {
	ctx := context.Background()
	eng, err := New(WithHandler(MethodSleep, upper()))
	require.NoError(t, err)
	defer destroyAndWait(t, eng)

	_, err = eng.Push(ctx, Request{FlowKey: "f1", TaskKey: "t1", Method: MethodSleep, Payload: "x"})
	require.NoError(t, err)

	out, err := eng.Wait(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, "X", out.Result)
}

func TestNew_RejectsInvalidSettings(t *testing.T) {
	_, err := New(WithHandler(100, upper()), WithHandler(100, upper()))
	require.Error(t, err)

	_, err = New(WithWorkers(-1))
	require.ErrorContains(t, err, "workers")

	_, err = New(WithWaitTimeout(-time.Second), WithDuplicatePolicy("sometimes"))
	require.ErrorContains(t, err, "wait timeout")
	require.ErrorContains(t, err, "duplicate policy")

	require.Panics(t, func() { MustNew(WithStoppedFlowPolicy("never")) })
}

func TestNew_EnginesAreIndependent(t *testing.T) {
	ctx := context.Background()
	a := MustNew(WithHandler(100, upper()))
	b := MustNew(WithHandler(100, upper()))
	defer destroyAndWait(t, b)

	_, err := a.Push(ctx, Request{FlowKey: "f1", TaskKey: "t1", Method: 100})
	require.NoError(t, err)
	destroyAndWait(t, a)

	_, err = b.Push(ctx, Request{FlowKey: "f1", TaskKey: "t1", Method: 100})
	require.NoError(t, err)
	_, err = b.Wait(ctx, "f1")
	require.NoError(t, err)
	require.NotEqual(t, a.Ping("x"), b.Ping("x"))
}

func TestNew_ObserversAndLogger(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	metrics := &BasicMetrics{}

	eng, err := New(
		WithLogger(logger),
		WithObserver(metrics),
		WithHandler(100, upper()),
		WithHandler(101, HandlerFunc(func(ctx context.Context, req Request) (string, error) {
			return "", errors.New("nope")
		})),
	)
	require.NoError(t, err)

	_, err = eng.Push(ctx, Request{FlowKey: "f1", TaskKey: "ok", Method: 100})
	require.NoError(t, err)
	_, err = eng.Push(ctx, Request{FlowKey: "f1", TaskKey: "bad", Method: 101})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = eng.Wait(ctx, "f1")
		require.NoError(t, err)
	}
	require.NoError(t, eng.StopFlow(ctx, "f1"))
	destroyAndWait(t, eng)

	snap := metrics.Snapshot()
	require.EqualValues(t, 1, snap.FlowsCreated)
	require.EqualValues(t, 2, snap.TasksPushed)
	require.EqualValues(t, 1, snap.TasksCompleted)
	require.EqualValues(t, 1, snap.TasksFailed)
	require.EqualValues(t, 0, snap.LiveTasks)

	logs := buf.String()
	require.Contains(t, logs, "task_pushed")
	require.Contains(t, logs, "task_finished")
	require.Contains(t, logs, "flow_stopped")
}

func TestNew_WithJournal(t *testing.T) {
	ctx := context.Background()
	j := NewInMemoryJournal()

	eng, err := New(WithJournal(j), WithHandler(100, upper()))
	require.NoError(t, err)

	for _, key := range []string{"a", "b", "c"} {
		_, err := eng.Push(ctx, Request{FlowKey: "f1", TaskKey: key, Method: 100, Payload: key})
		require.NoError(t, err)
	}
	_, err = eng.Push(ctx, Request{FlowKey: "f2", TaskKey: "z", Method: 100, Payload: "z"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := eng.Wait(ctx, "f1")
		require.NoError(t, err)
	}
	_, err = eng.Wait(ctx, "f2")
	require.NoError(t, err)

	// Destroy flushes the journal before Done closes.
	destroyAndWait(t, eng)

	got, err := j.ListOutcomes(ctx, JournalFilter{FlowKey: "f1"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, out := range got {
		require.Equal(t, TaskCompleted, out.Status)
		require.Equal(t, strings.ToUpper(out.TaskKey), out.Result)
	}

	all, err := j.ListOutcomes(ctx, JournalFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
}

func TestErrorCodeReexport(t *testing.T) {
	require.Equal(t, "FlowStopped", ErrorCode(ErrFlowStopped))
	require.Equal(t, "", ErrorCode(nil))
}

// TestConcurrentCallers runs many uncoordinated callers, each owning one
// flow, against a single engine.
func TestConcurrentCallers(t *testing.T) {
	const (
		callers = 16
		tasks   = 50
	)
	eng := MustNew(WithWorkers(4), WithHandler(100, upper()))
	defer destroyAndWait(t, eng)

	g, ctx := errgroup.WithContext(context.Background())
	for c := 0; c < callers; c++ {
		flowKey := fmt.Sprintf("caller-%02d", c)
		g.Go(func() error {
			for i := 0; i < tasks; i++ {
				if _, err := eng.Push(ctx, Request{FlowKey: flowKey, TaskKey: fmt.Sprintf("t%d", i), Method: 100, Payload: flowKey}); err != nil {
					return err
				}
			}
			for i := 0; i < tasks; i++ {
				out, err := eng.Wait(ctx, flowKey)
				if err != nil {
					return err
				}
				if out.FlowKey != flowKey || out.Result != strings.ToUpper(flowKey) {
					return fmt.Errorf("flow %s received foreign outcome %+v", flowKey, out)
				}
			}
			return eng.StopFlow(ctx, flowKey)
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, 0, eng.Count())
}

type stalledJournal struct {
	gate chan struct{}
}

func (j stalledJournal) SaveOutcome(ctx context.Context, out Outcome) error {
	<-j.gate
	return nil
}

func (j stalledJournal) ListOutcomes(ctx context.Context, filter JournalFilter) ([]Outcome, error) {
	return nil, nil
}

func TestNew_StalledJournalDoesNotBlockStopFlow(t *testing.T) {
	ctx := context.Background()
	journal := stalledJournal{gate: make(chan struct{})}
	release := make(chan struct{})

	eng, err := New(
		WithWorkers(1),
		WithJournal(journal),
		WithHandler(100, HandlerFunc(func(ctx context.Context, req Request) (string, error) {
			<-release
			return "", nil
		})),
	)
	require.NoError(t, err)
	defer func() {
		close(journal.gate)
		destroyAndWait(t, eng)
	}()
	defer close(release)

	for i := 0; i < 600; i++ {
		_, err := eng.Push(ctx, Request{FlowKey: "f1", TaskKey: fmt.Sprintf("t%d", i), Method: 100})
		require.NoError(t, err)
	}
	for i := 0; i < 300; i++ {
		require.NoError(t, eng.Cancel(ctx, "f1", fmt.Sprintf("t%d", 599-i)))
	}

	stopped := make(chan error, 1)
	go func() { stopped <- eng.StopFlow(ctx, "f1") }()

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stopFlow blocked on the journal")
	}
}
