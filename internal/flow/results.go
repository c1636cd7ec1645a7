package flow

import (
	"context"
	"sync"

	"github.com/petrijr/sconcur/pkg/api"
)

// ResultStore holds the terminal outcomes of a flow that have not been
// delivered to a waiter yet, in completion order.
//
// Each blocked Take owns a wake-up channel; Put signals exactly one of them
// and Close releases all of them.
type ResultStore struct {
	mu      sync.Mutex
	pending []api.Outcome
	waiters []chan struct{}
	closed  bool
}

// NewResultStore creates an empty, open store.
func NewResultStore() *ResultStore {
	return &ResultStore{}
}

// Put appends an outcome and wakes one waiter. It returns false when the
// store is closed and the outcome was discarded.
func (s *ResultStore) Put(out api.Outcome) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.pending = append(s.pending, out)
	s.signalLocked()
	return true
}

// Close stops accepting outcomes and wakes every waiter. Outcomes already
// stored remain available to Take.
func (s *ResultStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for _, ch := range s.waiters {
		close(ch)
	}
	s.waiters = nil
}

// Take removes and returns the oldest outcome, blocking until one is
// available. It returns api.ErrFlowStopped once the store is closed and
// empty, or ctx.Err() when ctx ends first.
func (s *ResultStore) Take(ctx context.Context) (api.Outcome, error) {
	for {
		s.mu.Lock()
		if len(s.pending) > 0 {
			out := s.pending[0]
			s.pending[0] = api.Outcome{}
			s.pending = s.pending[1:]
			s.mu.Unlock()
			return out, nil
		}
		if s.closed {
			s.mu.Unlock()
			return api.Outcome{}, api.ErrFlowStopped
		}
		ch := make(chan struct{})
		s.waiters = append(s.waiters, ch)
		s.mu.Unlock()

		select {
		case <-ch:
			// Woken: loop and try again. Another caller may have taken the
			// outcome first, in which case we register a new waiter.
		case <-ctx.Done():
			s.abandon(ch)
			return api.Outcome{}, ctx.Err()
		}
	}
}

// Len returns the number of undelivered outcomes.
func (s *ResultStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// drain removes and returns every undelivered outcome.
func (s *ResultStore) drain() []api.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.pending
	s.pending = nil
	return out
}

// Closed reports whether Close has been called.
func (s *ResultStore) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// abandon unregisters ch. If ch was already signalled, the wake-up is
// passed on so the outcome it announced is not left without a waiter.
func (s *ResultStore) abandon(ch chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, w := range s.waiters {
		if w == ch {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
	if !s.closed && len(s.pending) > 0 {
		s.signalLocked()
	}
}

func (s *ResultStore) signalLocked() {
	if len(s.waiters) == 0 {
		return
	}
	ch := s.waiters[0]
	s.waiters[0] = nil
	s.waiters = s.waiters[1:]
	close(ch)
}
