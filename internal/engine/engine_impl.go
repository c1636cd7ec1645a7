package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/sconcur/internal/flow"
	"github.com/petrijr/sconcur/pkg/api"
	"github.com/petrijr/sconcur/pkg/handlers/mongodb"
	"github.com/petrijr/sconcur/pkg/handlers/sleep"
	"github.com/petrijr/sconcur/pkg/worker"
)

// Config describes how to construct an engine.
type Config struct {
	// Workers is the size of the pool shared by all flows.
	Workers int

	// WaitTimeout bounds a single Wait call. Zero disables it.
	WaitTimeout time.Duration

	// CancelGrace is how long a Running task may ignore cancellation before
	// it is forced to Cancelled. Zero disables forcing.
	CancelGrace time.Duration

	// StopGrace is how long StopFlow lets running tasks finish before they
	// are abandoned.
	StopGrace time.Duration

	// ShutdownGrace bounds how long the background shutdown started by
	// Destroy waits for workers and closers. Running tasks are abandoned
	// by Destroy itself.
	ShutdownGrace time.Duration

	DuplicatePolicy   api.DuplicatePolicy
	StoppedFlowPolicy api.StoppedFlowPolicy

	// StrictFlows makes Wait, Cancel and StopFlow on unknown flow keys fail
	// with api.ErrUnknownFlow.
	StrictFlows bool

	// Handlers may be nil. The built-in sleep and MongoDB handlers are added
	// for any method id left free.
	Handlers *api.Registry
	Observer api.Observer
	Logger   *slog.Logger

	// Closers are closed once the workers have stopped, before the
	// handlers. Observers that buffer work, such as an outcome journal,
	// belong here.
	Closers []api.Closer
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Workers:           8,
		WaitTimeout:       60 * time.Second,
		CancelGrace:       5 * time.Second,
		StopGrace:         30 * time.Second,
		ShutdownGrace:     5 * time.Second,
		DuplicatePolicy:   api.DuplicateReject,
		StoppedFlowPolicy: api.StoppedFlowRecreate,
	}
}

// engineImpl dispatches tasks of many independent flows onto one bounded
// worker pool.
type engineImpl struct {
	id       string
	cfg      Config
	handlers *api.Registry
	observer api.Observer
	logger   *slog.Logger

	live     atomic.Int64
	registry *flowRegistry
	sched    *scheduler
	pool     *worker.Pool

	// ctx is cancelled by Destroy and releases every blocked Wait.
	ctx    context.Context
	cancel context.CancelFunc

	destroyOnce sync.Once
	done        chan struct{}
}

var _ api.Engine = (*engineImpl)(nil)

// NewEngine creates an engine and starts its workers.
func NewEngine(cfg Config) api.Engine {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.DuplicatePolicy == "" {
		cfg.DuplicatePolicy = def.DuplicatePolicy
	}
	if cfg.StoppedFlowPolicy == "" {
		cfg.StoppedFlowPolicy = def.StoppedFlowPolicy
	}
	if cfg.Handlers == nil {
		cfg.Handlers = api.NewRegistry()
	}
	if cfg.Observer == nil {
		cfg.Observer = api.NoopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	registerBuiltins(cfg.Handlers)

	ctx, cancel := context.WithCancel(context.Background())
	e := &engineImpl{
		id:       uuid.NewString(),
		cfg:      cfg,
		handlers: cfg.Handlers,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		sched:    newScheduler(),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	e.registry = newFlowRegistry(cfg.StoppedFlowPolicy, cfg.StrictFlows, e.newFlow)

	w := worker.New(e.sched, e.handlers, e.observer, e.logger)
	e.pool = worker.NewPool(w, cfg.Workers)
	// Start only fails on a pool that is already running.
	_ = e.pool.Start(context.Background())

	return e
}

func registerBuiltins(reg *api.Registry) {
	mongo := mongodb.New()
	builtins := map[api.Method]api.Handler{
		api.MethodSleep:         sleep.New(),
		api.MethodMongoDB:       mongo,
		api.MethodMongoDBCursor: mongo.CursorHandler(),
	}
	for m, h := range builtins {
		if _, err := reg.Lookup(m); err == nil {
			continue
		}
		_ = reg.Register(m, h)
	}
}

func (e *engineImpl) newFlow(key string) *flow.Flow {
	opts := flow.Options{
		Config: flow.Config{
			DuplicatePolicy: e.cfg.DuplicatePolicy,
			CancelGrace:     e.cfg.CancelGrace,
		},
		Scheduler: e.sched,
		Observer:  e.observer,
		Live:      &e.live,
	}
	if e.cfg.StoppedFlowPolicy == api.StoppedFlowRecreate {
		opts.OnDrained = e.registry.release
	}
	return flow.New(key, opts)
}

func (e *engineImpl) Ping(name string) string {
	return fmt.Sprintf("pong: %s (sconcur %s, engine %s)", name, api.Version, e.id)
}

func (e *engineImpl) Version() string {
	return api.Version
}

func (e *engineImpl) Push(ctx context.Context, req api.Request) (api.Ack, error) {
	if e.registry.isDestroyed() {
		return api.Ack{}, fmt.Errorf("push %s/%s: %w", req.FlowKey, req.TaskKey, api.ErrRegistryDestroyed)
	}
	if _, err := e.handlers.Lookup(req.Method); err != nil {
		return api.Ack{}, fmt.Errorf("push %s/%s: %w", req.FlowKey, req.TaskKey, err)
	}

	// A flow stopped between resolve and push is recreated once.
	for attempt := 0; ; attempt++ {
		f, created, err := e.registry.resolveOrCreate(req.FlowKey)
		if err != nil {
			return api.Ack{}, err
		}
		if created {
			e.observer.OnFlowCreated(ctx, req.FlowKey)
		}

		ack, err := f.Push(ctx, req)
		if err == nil || !errors.Is(err, api.ErrFlowNotActive) {
			return ack, err
		}
		if e.registry.isDestroyed() {
			return api.Ack{}, fmt.Errorf("push %s/%s: %w", req.FlowKey, req.TaskKey, api.ErrRegistryDestroyed)
		}
		if e.cfg.StoppedFlowPolicy != api.StoppedFlowRecreate || attempt > 0 {
			return ack, err
		}
	}
}

func (e *engineImpl) Wait(ctx context.Context, flowKey string) (api.Outcome, error) {
	f, err := e.resolveExisting(flowKey, "wait")
	if err != nil {
		return api.Outcome{}, err
	}
	if f == nil {
		return api.Outcome{}, fmt.Errorf("wait %q: %w", flowKey, api.ErrFlowStopped)
	}

	wctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(e.ctx, func() { cancel(api.ErrRegistryDestroyed) })
	defer stop()

	if e.cfg.WaitTimeout > 0 {
		var cancelTimeout context.CancelFunc
		wctx, cancelTimeout = context.WithTimeoutCause(wctx, e.cfg.WaitTimeout, api.ErrWaitTimeout)
		defer cancelTimeout()
	}

	out, err := f.Wait(wctx)
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, api.ErrFlowStopped):
		if e.registry.isDestroyed() {
			return api.Outcome{}, fmt.Errorf("wait %q: %w", flowKey, api.ErrRegistryDestroyed)
		}
		return api.Outcome{}, fmt.Errorf("wait %q: %w", flowKey, err)
	default:
		return api.Outcome{}, fmt.Errorf("wait %q: %w", flowKey, context.Cause(wctx))
	}
}

func (e *engineImpl) Cancel(ctx context.Context, flowKey, taskKey string) error {
	f, err := e.resolveExisting(flowKey, "cancel")
	if err != nil || f == nil {
		return err
	}
	f.Cancel(ctx, taskKey)
	return nil
}

func (e *engineImpl) Count() int {
	if e.registry.isDestroyed() {
		return 0
	}
	return int(e.live.Load())
}

func (e *engineImpl) StopFlow(ctx context.Context, flowKey string) error {
	f, err := e.resolveExisting(flowKey, "stop flow")
	if err != nil || f == nil {
		return err
	}
	f.Stop(ctx, e.cfg.StopGrace)
	return nil
}

// resolveExisting returns nil, nil for a released flow, and for an unknown
// flow outside strict mode.
func (e *engineImpl) resolveExisting(flowKey, op string) (*flow.Flow, error) {
	f, known, err := e.registry.lookup(flowKey)
	if err != nil {
		return nil, err
	}
	if !known && e.cfg.StrictFlows {
		return nil, fmt.Errorf("%s %q: %w", op, flowKey, api.ErrUnknownFlow)
	}
	return f, nil
}

func (e *engineImpl) Destroy(ctx context.Context) {
	e.destroyOnce.Do(func() {
		flows := e.registry.destroy()
		e.cancel()

		for _, f := range flows {
			f.ForceStop(ctx)
		}
		e.sched.Close()

		e.logger.InfoContext(ctx, "engine_destroyed",
			slog.String("engine", e.id),
			slog.Int("flows", len(flows)),
		)

		go e.shutdown()
	})
}

func (e *engineImpl) shutdown() {
	defer close(e.done)

	if err := e.pool.Stop(e.cfg.ShutdownGrace); err != nil {
		e.logger.Warn("worker_pool_stop",
			slog.String("engine", e.id),
			slog.String("error", err.Error()),
		)
	}

	grace := e.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	for _, c := range e.cfg.Closers {
		if err := c.Close(ctx); err != nil {
			e.logger.Warn("closer_close",
				slog.String("engine", e.id),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := e.handlers.Close(ctx); err != nil {
		e.logger.Warn("handler_close",
			slog.String("engine", e.id),
			slog.String("error", err.Error()),
		)
	}
}

func (e *engineImpl) Done() <-chan struct{} {
	return e.done
}
