package engine

import (
	"context"
	"sync"

	"github.com/petrijr/sconcur/internal/flow"
	"github.com/petrijr/sconcur/pkg/worker"
)

// scheduler is a ready ring of flows. A flow enters the ring when it goes
// from no pending tasks to some; a worker pops the head, takes one task
// and puts the flow back at the tail if it still has pending work.
type scheduler struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ready  []*flow.Flow
	closed bool
}

func newScheduler() *scheduler {
	s := &scheduler{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *scheduler) Ready(f *flow.Flow) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.ready = append(s.ready, f)
	s.cond.Signal()
}

// Next blocks until a task can be leased or the scheduler is closed.
// Flows are called without holding s.mu.
func (s *scheduler) Next(ctx context.Context) (worker.Job, error) {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	for {
		s.mu.Lock()
		for len(s.ready) == 0 && !s.closed && ctx.Err() == nil {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return nil, worker.ErrSourceClosed
		}
		if err := ctx.Err(); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		f := s.ready[0]
		s.ready[0] = nil
		s.ready = s.ready[1:]
		s.mu.Unlock()

		lease, more := f.Next()
		if more {
			s.Ready(f)
		}
		if lease != nil {
			return lease, nil
		}
	}
}

// Close wakes every blocked worker; Next returns worker.ErrSourceClosed
// from then on.
func (s *scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.ready = nil
	s.cond.Broadcast()
}

func (s *scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ready)
}
