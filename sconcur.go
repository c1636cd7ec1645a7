package sconcur

import (
	"errors"
	"fmt"

	"github.com/petrijr/sconcur/internal/engine"
	"github.com/petrijr/sconcur/internal/persistence"
	"github.com/petrijr/sconcur/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	Request              = api.Request
	Ack                  = api.Ack
	Outcome              = api.Outcome
	Method               = api.Method
	TaskStatus           = api.TaskStatus
	FlowState            = api.FlowState
	DuplicatePolicy      = api.DuplicatePolicy
	StoppedFlowPolicy    = api.StoppedFlowPolicy
	Handler              = api.Handler
	HandlerFunc          = api.HandlerFunc
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	ErrorCode            = api.ErrorCode
)

// Re-export method ids, statuses and policies for convenience.

const (
	MethodSleep         = api.MethodSleep
	MethodMongoDB       = api.MethodMongoDB
	MethodMongoDBCursor = api.MethodMongoDBCursor

	TaskPending   = api.TaskPending
	TaskRunning   = api.TaskRunning
	TaskCompleted = api.TaskCompleted
	TaskFailed    = api.TaskFailed
	TaskCancelled = api.TaskCancelled

	DuplicateReject     = api.DuplicateReject
	DuplicateReplace    = api.DuplicateReplace
	StoppedFlowRecreate = api.StoppedFlowRecreate
	StoppedFlowReject   = api.StoppedFlowReject
)

// Re-export sentinel errors so callers can match with errors.Is.

var (
	ErrUnknownFlow       = api.ErrUnknownFlow
	ErrFlowNotActive     = api.ErrFlowNotActive
	ErrDuplicateTask     = api.ErrDuplicateTask
	ErrUnknownMethod     = api.ErrUnknownMethod
	ErrRegistryDestroyed = api.ErrRegistryDestroyed
	ErrHandlerFault      = api.ErrHandlerFault
	ErrFlowStopped       = api.ErrFlowStopped
	ErrWaitTimeout       = api.ErrWaitTimeout
	ErrTaskCancelled     = api.ErrTaskCancelled
)

// New creates an independent Engine and starts its workers. Engines share
// no state; Destroy must be called to release workers and handler
// resources.
func New(opts ...Option) (Engine, error) {
	s := newSettings(opts)
	cfg := s.cfg

	if err := validate(cfg); err != nil {
		return nil, err
	}

	reg := api.NewRegistry()
	for _, b := range s.handlers {
		if err := reg.Register(b.method, b.handler); err != nil {
			return nil, fmt.Errorf("sconcur: %w", err)
		}
	}
	cfg.Handlers = reg

	observers := append([]Observer(nil), s.observers...)
	if s.logger != nil {
		cfg.Logger = s.logger
		observers = append(observers, api.NewLoggingObserver(s.logger))
	}
	if s.journal != nil {
		j := persistence.NewJournalObserver(s.journal, s.logger)
		observers = append(observers, j)
		cfg.Closers = append(cfg.Closers, j)
	}
	cfg.Observer = api.NewCompositeObserver(observers...)

	return engine.NewEngine(cfg), nil
}

// MustNew is like New but panics on error.
func MustNew(opts ...Option) Engine {
	eng, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return eng
}

func validate(cfg engine.Config) error {
	var errs []error
	if cfg.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", cfg.Workers))
	}
	durations := []struct {
		name string
		val  int64
	}{
		{"wait timeout", int64(cfg.WaitTimeout)},
		{"cancel grace", int64(cfg.CancelGrace)},
		{"stop grace", int64(cfg.StopGrace)},
		{"shutdown grace", int64(cfg.ShutdownGrace)},
	}
	for _, d := range durations {
		if d.val < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", d.name))
		}
	}
	switch cfg.DuplicatePolicy {
	case api.DuplicateReject, api.DuplicateReplace:
	default:
		errs = append(errs, fmt.Errorf("unknown duplicate policy %q", cfg.DuplicatePolicy))
	}
	switch cfg.StoppedFlowPolicy {
	case api.StoppedFlowRecreate, api.StoppedFlowReject:
	default:
		errs = append(errs, fmt.Errorf("unknown stopped flow policy %q", cfg.StoppedFlowPolicy))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("sconcur: invalid config: %w", err)
	}
	return nil
}
