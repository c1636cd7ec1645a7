package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/sconcur/pkg/api"
)

const (
	methodEcho   api.Method = 1
	methodBlock  api.Method = 10
	methodIgnore api.Method = 11
	methodPanic  api.Method = 12
	methodRecord api.Method = 13
)

type testHandlers struct {
	mu       sync.Mutex
	order    []string
	invoked  map[string]int
	started  chan string
	release  chan struct{}
	ignoring chan struct{}
}

func newTestHandlers() *testHandlers {
	return &testHandlers{
		invoked:  make(map[string]int),
		started:  make(chan string, 64),
		release:  make(chan struct{}),
		ignoring: make(chan struct{}),
	}
}

func (h *testHandlers) registry(t *testing.T) *api.Registry {
	t.Helper()
	reg := api.NewRegistry()

	require.NoError(t, reg.Register(methodEcho, api.HandlerFunc(func(ctx context.Context, req api.Request) (string, error) {
		h.note(req)
		return "echo:" + req.Payload, nil
	})))

	// Blocks until released or cancelled.
	require.NoError(t, reg.Register(methodBlock, api.HandlerFunc(func(ctx context.Context, req api.Request) (string, error) {
		h.note(req)
		h.started <- req.TaskKey
		select {
		case <-h.release:
			return "released", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})))

	// Ignores its context entirely.
	require.NoError(t, reg.Register(methodIgnore, api.HandlerFunc(func(ctx context.Context, req api.Request) (string, error) {
		h.note(req)
		h.started <- req.TaskKey
		<-h.ignoring
		return "late", nil
	})))

	require.NoError(t, reg.Register(methodPanic, api.HandlerFunc(func(ctx context.Context, req api.Request) (string, error) {
		panic("handler exploded")
	})))

	require.NoError(t, reg.Register(methodRecord, api.HandlerFunc(func(ctx context.Context, req api.Request) (string, error) {
		h.note(req)
		return req.TaskKey, nil
	})))

	return reg
}

func (h *testHandlers) note(req api.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.order = append(h.order, req.TaskKey)
	h.invoked[req.FlowKey+"/"+req.TaskKey]++
}

func (h *testHandlers) invocations(flowKey, taskKey string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.invoked[flowKey+"/"+taskKey]
}

func (h *testHandlers) recorded() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.order...)
}

func newTestEngine(t *testing.T, mutate func(*Config)) (api.Engine, *testHandlers) {
	t.Helper()
	h := newTestHandlers()
	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.WaitTimeout = 5 * time.Second
	cfg.Handlers = h.registry(t)
	if mutate != nil {
		mutate(&cfg)
	}
	eng := NewEngine(cfg)
	t.Cleanup(func() {
		close(h.ignoring)
		eng.Destroy(context.Background())
	})
	return eng, h
}

func waitStarted(t *testing.T, h *testHandlers, key string) {
	t.Helper()
	select {
	case got := <-h.started:
		require.Equal(t, key, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("task %q never started", key)
	}
}

func TestEngine_PushThenWaitCompletes(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, nil)

	ack, err := eng.Push(ctx, api.Request{FlowKey: "f1", TaskKey: "t1", Method: methodEcho, Payload: `{"x":1}`})
	require.NoError(t, err)
	require.Equal(t, api.Ack{FlowKey: "f1", TaskKey: "t1", Status: api.TaskPending}, ack)

	out, err := eng.Wait(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, "t1", out.TaskKey)
	require.Equal(t, api.TaskCompleted, out.Status)
	require.Equal(t, `echo:{"x":1}`, out.Result)
	require.Equal(t, methodEcho, out.Method)
}

func TestEngine_EveryPushedTaskReachesWait(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, nil)

	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, k := range keys {
		_, err := eng.Push(ctx, api.Request{FlowKey: "many", TaskKey: k, Method: methodRecord})
		require.NoError(t, err)
	}

	seen := make(map[string]bool)
	for range keys {
		out, err := eng.Wait(ctx, "many")
		require.NoError(t, err)
		require.True(t, out.Status.Terminal())
		seen[out.TaskKey] = true
	}
	require.Len(t, seen, len(keys))
}

func TestEngine_CancelPendingNeverInvokesHandler(t *testing.T) {
	ctx := context.Background()
	eng, h := newTestEngine(t, func(c *Config) { c.Workers = 1 })

	// Occupy the only worker.
	_, err := eng.Push(ctx, api.Request{FlowKey: "busy", TaskKey: "blocker", Method: methodBlock})
	require.NoError(t, err)
	waitStarted(t, h, "blocker")

	_, err = eng.Push(ctx, api.Request{FlowKey: "f1", TaskKey: "t1", Method: methodEcho, Payload: "{}"})
	require.NoError(t, err)
	require.NoError(t, eng.Cancel(ctx, "f1", "t1"))

	out, err := eng.Wait(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, "t1", out.TaskKey)
	require.Equal(t, api.TaskCancelled, out.Status)

	close(h.release)
	_, err = eng.Wait(ctx, "busy")
	require.NoError(t, err)
	require.Equal(t, 0, h.invocations("f1", "t1"))
}

func TestEngine_PushThenCancelImmediately(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, nil)

	_, err := eng.Push(ctx, api.Request{FlowKey: "f1", TaskKey: "t1", Method: api.MethodSleep, Payload: `{"ms":5000}`})
	require.NoError(t, err)
	require.NoError(t, eng.Cancel(ctx, "f1", "t1"))

	out, err := eng.Wait(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, "t1", out.TaskKey)
	require.Equal(t, api.TaskCancelled, out.Status)
}

func TestEngine_CancelRunningForcedAfterGrace(t *testing.T) {
	ctx := context.Background()
	eng, h := newTestEngine(t, func(c *Config) { c.CancelGrace = 30 * time.Millisecond })

	_, err := eng.Push(ctx, api.Request{FlowKey: "f1", TaskKey: "stubborn", Method: methodIgnore})
	require.NoError(t, err)
	waitStarted(t, h, "stubborn")

	start := time.Now()
	require.NoError(t, eng.Cancel(ctx, "f1", "stubborn"))

	out, err := eng.Wait(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, api.TaskCancelled, out.Status)
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	require.Equal(t, 0, eng.Count())
}

func TestEngine_CountDropsToZero(t *testing.T) {
	ctx := context.Background()
	eng, h := newTestEngine(t, func(c *Config) { c.Workers = 2 })

	for _, flowKey := range []string{"f1", "f2", "f3"} {
		_, err := eng.Push(ctx, api.Request{FlowKey: flowKey, TaskKey: "t", Method: methodBlock})
		require.NoError(t, err)
	}
	require.Equal(t, 3, eng.Count())

	close(h.release)
	for _, flowKey := range []string{"f1", "f2", "f3"} {
		_, err := eng.Wait(ctx, flowKey)
		require.NoError(t, err)
	}
	require.Equal(t, 0, eng.Count())
}

func TestEngine_CountThenDestroy(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, func(c *Config) { c.Workers = 1 })

	for _, k := range []string{"t1", "t2", "t3"} {
		_, err := eng.Push(ctx, api.Request{FlowKey: "f1", TaskKey: k, Method: methodBlock})
		require.NoError(t, err)
	}
	require.Equal(t, 3, eng.Count())

	eng.Destroy(ctx)
	require.Equal(t, 0, eng.Count())

	_, err := eng.Push(ctx, api.Request{FlowKey: "f1", TaskKey: "t4", Method: methodEcho})
	require.ErrorIs(t, err, api.ErrRegistryDestroyed)
}

func TestEngine_StopFlowReleasesWaiters(t *testing.T) {
	ctx := context.Background()
	eng, h := newTestEngine(t, func(c *Config) { c.StopGrace = time.Second })

	_, err := eng.Push(ctx, api.Request{FlowKey: "f1", TaskKey: "run", Method: methodBlock})
	require.NoError(t, err)
	waitStarted(t, h, "run")

	errCh := make(chan error, 1)
	go func() {
		_, err := eng.Wait(ctx, "f1")
		errCh <- err
	}()

	require.NoError(t, eng.StopFlow(ctx, "f1"))
	require.NoError(t, eng.StopFlow(ctx, "f1"))

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, api.ErrFlowStopped)
	case <-time.After(3 * time.Second):
		t.Fatalf("wait blocked after stopFlow")
	}

	_, err = eng.Wait(ctx, "f1")
	require.ErrorIs(t, err, api.ErrFlowStopped)

	// The running task still counts until its handler returns.
	require.Equal(t, 1, eng.Count())
	close(h.release)
	require.Eventually(t, func() bool { return eng.Count() == 0 }, 2*time.Second, 5*time.Millisecond)

	_, err = eng.Wait(ctx, "f1")
	require.ErrorIs(t, err, api.ErrFlowStopped)
}

func TestEngine_StopFlowDeliversEarlierOutcomesFirst(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, nil)

	_, err := eng.Push(ctx, api.Request{FlowKey: "f1", TaskKey: "done", Method: methodEcho})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return eng.Count() == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, eng.StopFlow(ctx, "f1"))

	out, err := eng.Wait(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, "done", out.TaskKey)

	_, err = eng.Wait(ctx, "f1")
	require.ErrorIs(t, err, api.ErrFlowStopped)
}

func TestEngine_DestroyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, nil)

	_, err := eng.Push(ctx, api.Request{FlowKey: "f1", TaskKey: "t1", Method: methodEcho})
	require.NoError(t, err)

	eng.Destroy(ctx)
	eng.Destroy(ctx)

	select {
	case <-eng.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("engine did not finish shutting down")
	}

	_, err = eng.Push(ctx, api.Request{FlowKey: "f1", TaskKey: "t2", Method: methodEcho})
	require.ErrorIs(t, err, api.ErrRegistryDestroyed)
	_, err = eng.Wait(ctx, "f1")
	require.ErrorIs(t, err, api.ErrRegistryDestroyed)
	require.ErrorIs(t, eng.Cancel(ctx, "f1", "t1"), api.ErrRegistryDestroyed)
	require.ErrorIs(t, eng.StopFlow(ctx, "f1"), api.ErrRegistryDestroyed)
}

func TestEngine_DestroyReleasesBlockedWaiters(t *testing.T) {
	ctx := context.Background()
	eng, h := newTestEngine(t, func(c *Config) { c.ShutdownGrace = 50 * time.Millisecond })

	_, err := eng.Push(ctx, api.Request{FlowKey: "f1", TaskKey: "stuck", Method: methodIgnore})
	require.NoError(t, err)
	waitStarted(t, h, "stuck")

	errCh := make(chan error, 1)
	go func() {
		_, err := eng.Wait(ctx, "f1")
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	eng.Destroy(ctx)
	require.Less(t, time.Since(start), time.Second, "destroy must not wait on workers")

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, api.ErrRegistryDestroyed)
	case <-time.After(3 * time.Second):
		t.Fatalf("waiter not released by destroy")
	}

	select {
	case <-eng.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("Done not closed after shutdown grace")
	}
}

func TestEngine_ConcurrentDuplicatePush(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, nil)

	const callers = 16
	var ok, dup atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := eng.Push(ctx, api.Request{FlowKey: "f1", TaskKey: "same", Method: methodBlock})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, api.ErrDuplicateTask):
				dup.Add(1)
			default:
				t.Errorf("unexpected push error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.EqualValues(t, 1, ok.Load())
	require.EqualValues(t, callers-1, dup.Load())
	require.Equal(t, 1, eng.Count())
}

func TestEngine_UnknownMethodRejectedAtPush(t *testing.T) {
	eng, _ := newTestEngine(t, nil)

	_, err := eng.Push(context.Background(), api.Request{FlowKey: "f1", TaskKey: "t1", Method: 999})
	require.ErrorIs(t, err, api.ErrUnknownMethod)
	require.Equal(t, 0, eng.Count())
}

func TestEngine_PanicBecomesFailedOutcome(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, nil)

	_, err := eng.Push(ctx, api.Request{FlowKey: "f1", TaskKey: "bad", Method: methodPanic})
	require.NoError(t, err)
	_, err = eng.Push(ctx, api.Request{FlowKey: "f1", TaskKey: "good", Method: methodEcho})
	require.NoError(t, err)

	byKey := make(map[string]api.Outcome)
	for i := 0; i < 2; i++ {
		out, err := eng.Wait(ctx, "f1")
		require.NoError(t, err)
		byKey[out.TaskKey] = out
	}

	require.Equal(t, api.TaskFailed, byKey["bad"].Status)
	require.Contains(t, byKey["bad"].Error, api.ErrHandlerFault.Error())
	require.Equal(t, api.TaskCompleted, byKey["good"].Status)
}

func TestEngine_RoundRobinAcrossFlows(t *testing.T) {
	ctx := context.Background()
	eng, h := newTestEngine(t, func(c *Config) { c.Workers = 1 })

	_, err := eng.Push(ctx, api.Request{FlowKey: "z", TaskKey: "blocker", Method: methodBlock})
	require.NoError(t, err)
	waitStarted(t, h, "blocker")

	for _, k := range []string{"a1", "a2", "a3"} {
		_, err := eng.Push(ctx, api.Request{FlowKey: "A", TaskKey: k, Method: methodRecord})
		require.NoError(t, err)
	}
	for _, k := range []string{"b1", "b2", "b3"} {
		_, err := eng.Push(ctx, api.Request{FlowKey: "B", TaskKey: k, Method: methodRecord})
		require.NoError(t, err)
	}

	close(h.release)
	require.Eventually(t, func() bool { return eng.Count() == 0 }, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, []string{"blocker", "a1", "b1", "a2", "b2", "a3", "b3"}, h.recorded())
}

func TestEngine_WaitTimeout(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, func(c *Config) { c.WaitTimeout = 30 * time.Millisecond })

	_, err := eng.Push(ctx, api.Request{FlowKey: "f1", TaskKey: "slow", Method: methodBlock})
	require.NoError(t, err)

	_, err = eng.Wait(ctx, "f1")
	require.ErrorIs(t, err, api.ErrWaitTimeout)
}

func TestEngine_WaitHonoursCallerContext(t *testing.T) {
	eng, _ := newTestEngine(t, nil)

	_, err := eng.Push(context.Background(), api.Request{FlowKey: "f1", TaskKey: "slow", Method: methodBlock})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = eng.Wait(ctx, "f1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEngine_UnknownFlow(t *testing.T) {
	ctx := context.Background()

	lenient, _ := newTestEngine(t, nil)
	_, err := lenient.Wait(ctx, "nope")
	require.ErrorIs(t, err, api.ErrFlowStopped)
	require.NoError(t, lenient.Cancel(ctx, "nope", "t"))
	require.NoError(t, lenient.StopFlow(ctx, "nope"))

	strict, _ := newTestEngine(t, func(c *Config) { c.StrictFlows = true })
	_, err = strict.Wait(ctx, "nope")
	require.ErrorIs(t, err, api.ErrUnknownFlow)
	require.ErrorIs(t, strict.Cancel(ctx, "nope", "t"), api.ErrUnknownFlow)
	require.ErrorIs(t, strict.StopFlow(ctx, "nope"), api.ErrUnknownFlow)
}

func TestEngine_PushAfterStopRecreatesFlow(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, nil)

	_, err := eng.Push(ctx, api.Request{FlowKey: "f1", TaskKey: "t1", Method: methodEcho})
	require.NoError(t, err)
	_, err = eng.Wait(ctx, "f1")
	require.NoError(t, err)
	require.NoError(t, eng.StopFlow(ctx, "f1"))

	_, err = eng.Push(ctx, api.Request{FlowKey: "f1", TaskKey: "t1", Method: methodEcho})
	require.NoError(t, err)
	out, err := eng.Wait(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, api.TaskCompleted, out.Status)
}

func TestEngine_PushAfterStopRejected(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, func(c *Config) { c.StoppedFlowPolicy = api.StoppedFlowReject })

	_, err := eng.Push(ctx, api.Request{FlowKey: "f1", TaskKey: "t1", Method: methodEcho})
	require.NoError(t, err)
	require.NoError(t, eng.StopFlow(ctx, "f1"))

	_, err = eng.Push(ctx, api.Request{FlowKey: "f1", TaskKey: "t2", Method: methodEcho})
	require.ErrorIs(t, err, api.ErrFlowNotActive)
}

func TestEngine_StoppedFlowsAreReleased(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, nil)
	impl := eng.(*engineImpl)

	_, err := eng.Push(ctx, api.Request{FlowKey: "f1", TaskKey: "t1", Method: methodEcho})
	require.NoError(t, err)
	_, err = eng.Wait(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, 1, impl.registry.size())

	require.NoError(t, eng.StopFlow(ctx, "f1"))
	require.Equal(t, 0, impl.registry.size())
}

func TestEngine_PingAndVersion(t *testing.T) {
	eng, _ := newTestEngine(t, nil)

	require.Equal(t, api.Version, eng.Version())
	pong := eng.Ping("php")
	require.True(t, strings.HasPrefix(pong, "pong: php (sconcur "+api.Version+", engine "), pong)

	other, _ := newTestEngine(t, nil)
	require.NotEqual(t, pong, other.Ping("php"), "engines must have distinct ids")
}

func TestEngine_ObserverSeesLifecycle(t *testing.T) {
	ctx := context.Background()
	metrics := &api.BasicMetrics{}
	eng, _ := newTestEngine(t, func(c *Config) { c.Observer = metrics })

	_, err := eng.Push(ctx, api.Request{FlowKey: "f1", TaskKey: "t1", Method: methodEcho})
	require.NoError(t, err)
	_, err = eng.Wait(ctx, "f1")
	require.NoError(t, err)
	require.NoError(t, eng.StopFlow(ctx, "f1"))

	snap := metrics.Snapshot()
	require.EqualValues(t, 1, snap.FlowsCreated)
	require.EqualValues(t, 1, snap.TasksPushed)
	require.EqualValues(t, 1, snap.TasksStarted)
	require.EqualValues(t, 1, snap.TasksCompleted)
	require.EqualValues(t, 1, snap.FlowsStopped)
	require.EqualValues(t, 0, snap.LiveTasks)
}

func TestEngine_StrictStopFlowAfterRelease(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, func(c *Config) { c.StrictFlows = true })
	impl := eng.(*engineImpl)

	_, err := eng.Push(ctx, api.Request{FlowKey: "f1", TaskKey: "t1", Method: methodEcho})
	require.NoError(t, err)
	out, err := eng.Wait(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, api.TaskCompleted, out.Status)

	require.NoError(t, eng.StopFlow(ctx, "f1"))
	require.Equal(t, 0, impl.registry.size())

	require.NoError(t, eng.StopFlow(ctx, "f1"))
	require.NoError(t, eng.Cancel(ctx, "f1", "t1"))
	_, err = eng.Wait(ctx, "f1")
	require.ErrorIs(t, err, api.ErrFlowStopped)

	_, err = eng.Wait(ctx, "never-pushed")
	require.ErrorIs(t, err, api.ErrUnknownFlow)
}

func TestEngine_PushAfterStopKeepsUndeliveredOutcomes(t *testing.T) {
	ctx := context.Background()
	eng, h := newTestEngine(t, nil)

	_, err := eng.Push(ctx, api.Request{FlowKey: "f1", TaskKey: "t1", Method: methodEcho, Payload: "first"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return eng.Count() == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, eng.StopFlow(ctx, "f1"))

	_, err = eng.Push(ctx, api.Request{FlowKey: "f1", TaskKey: "t2", Method: methodBlock})
	require.NoError(t, err)

	out, err := eng.Wait(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, "t1", out.TaskKey)
	require.Equal(t, "echo:first", out.Result)

	close(h.release)
	out, err = eng.Wait(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, "t2", out.TaskKey)
	require.Equal(t, api.TaskCompleted, out.Status)
}

func TestEngine_DestroyAbandonsStoppingFlow(t *testing.T) {
	ctx := context.Background()
	metrics := &api.BasicMetrics{}
	eng, h := newTestEngine(t, func(c *Config) {
		c.StopGrace = time.Hour
		c.Observer = metrics
	})

	_, err := eng.Push(ctx, api.Request{FlowKey: "f1", TaskKey: "stuck", Method: methodIgnore})
	require.NoError(t, err)
	waitStarted(t, h, "stuck")

	require.NoError(t, eng.StopFlow(ctx, "f1"))
	require.EqualValues(t, 0, metrics.Snapshot().FlowsStopped)

	eng.Destroy(ctx)

	snap := metrics.Snapshot()
	require.EqualValues(t, 1, snap.FlowsStopped)
	require.EqualValues(t, 1, snap.TasksCancelled)
	require.EqualValues(t, 0, snap.LiveTasks)
}
