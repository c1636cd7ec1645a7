package sconcur

import (
	"log/slog"
	"time"

	"github.com/petrijr/sconcur/internal/engine"
)

// Option configures an Engine created by New.
type Option func(*settings)

type handlerBinding struct {
	method  Method
	handler Handler
}

type settings struct {
	cfg       engine.Config
	handlers  []handlerBinding
	observers []Observer
	logger    *slog.Logger
	journal   Journal
}

func newSettings(opts []Option) *settings {
	s := &settings{cfg: engine.DefaultConfig()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// WithWorkers sets the number of workers shared by all flows.
func WithWorkers(n int) Option {
	return func(s *settings) { s.cfg.Workers = n }
}

// WithWaitTimeout bounds each Wait call. Zero disables the bound.
func WithWaitTimeout(d time.Duration) Option {
	return func(s *settings) { s.cfg.WaitTimeout = d }
}

// WithCancelGrace sets how long a running task may ignore cancellation
// before it is reported Cancelled anyway. Zero disables forcing.
func WithCancelGrace(d time.Duration) Option {
	return func(s *settings) { s.cfg.CancelGrace = d }
}

// WithStopGrace sets how long StopFlow lets running tasks finish.
func WithStopGrace(d time.Duration) Option {
	return func(s *settings) { s.cfg.StopGrace = d }
}

// WithShutdownGrace sets how long Destroy lets running tasks and workers
// finish.
func WithShutdownGrace(d time.Duration) Option {
	return func(s *settings) { s.cfg.ShutdownGrace = d }
}

func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return func(s *settings) { s.cfg.DuplicatePolicy = p }
}

func WithStoppedFlowPolicy(p StoppedFlowPolicy) Option {
	return func(s *settings) { s.cfg.StoppedFlowPolicy = p }
}

// WithStrictFlows makes Wait, Cancel and StopFlow fail with ErrUnknownFlow
// for flow keys that were never pushed to.
func WithStrictFlows(strict bool) Option {
	return func(s *settings) { s.cfg.StrictFlows = strict }
}

// WithHandler registers h for method m. It overrides the built-in handler
// of the same method id.
func WithHandler(m Method, h Handler) Option {
	return func(s *settings) {
		s.handlers = append(s.handlers, handlerBinding{method: m, handler: h})
	}
}

// WithObserver adds obs to the observer pipeline. It may be repeated.
func WithObserver(obs Observer) Option {
	return func(s *settings) { s.observers = append(s.observers, obs) }
}

// WithLogger sets the logger used for worker faults and enables lifecycle
// logging through a LoggingObserver.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithJournal records every terminal outcome in j. Writes are asynchronous
// and flushed when the engine is destroyed.
func WithJournal(j Journal) Option {
	return func(s *settings) { s.journal = j }
}

// WithConfig applies a loaded Config. Options given after it override
// individual fields.
func WithConfig(c Config) Option {
	return func(s *settings) {
		for _, opt := range c.options() {
			opt(s)
		}
	}
}
