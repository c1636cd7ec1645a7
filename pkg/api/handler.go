package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Handler executes tasks for one Method.
//
// ctx is cancelled when the task is cancelled or its flow is torn down;
// handlers should observe it and return. The returned string becomes the
// outcome's result; a non-nil error marks the task Failed.
type Handler interface {
	Handle(ctx context.Context, req Request) (string, error)
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(ctx context.Context, req Request) (string, error)

func (f HandlerFunc) Handle(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Closer is implemented by handlers that hold resources (connections,
// clients) which must be released when the engine is destroyed.
type Closer interface {
	Close(ctx context.Context) error
}

// Registry maps Method ids to Handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	byMethod map[Method]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byMethod: make(map[Method]Handler),
	}
}

// Register binds h to m. Registering a method twice is an error.
func (r *Registry) Register(m Method, h Handler) error {
	if h == nil {
		return errors.New("handler is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byMethod[m]; exists {
		return fmt.Errorf("method %d already registered", m)
	}

	r.byMethod[m] = h
	return nil
}

// Lookup returns the handler registered for m.
func (r *Registry) Lookup(m Method) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.byMethod[m]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMethod, m)
	}
	return h, nil
}

// Methods returns the registered method ids in no particular order.
func (r *Registry) Methods() []Method {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Method, 0, len(r.byMethod))
	for m := range r.byMethod {
		out = append(out, m)
	}
	return out
}

// Close calls Close on every registered handler implementing Closer and
// returns the joined errors.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for m, h := range r.byMethod {
		c, ok := h.(Closer)
		if !ok {
			continue
		}
		if err := c.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close method %d: %w", m, err))
		}
	}
	return errors.Join(errs...)
}
