package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrPoolAlreadyStarted is returned by Start on a running pool.
	ErrPoolAlreadyStarted = errors.New("worker pool already started")

	// ErrStopTimeout is returned by Stop when workers are still busy after
	// the grace period. They keep running in the background until their
	// handlers return.
	ErrStopTimeout = errors.New("worker pool stop timed out")
)

// Pool runs a fixed number of goroutines that call Worker.ProcessOne until
// the source is closed or the pool is stopped.
type Pool struct {
	worker *Worker
	size   int
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
	running bool
}

// NewPool creates a pool of size workers sharing w. A size below one is
// raised to one.
func NewPool(w *Worker, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		worker: w,
		size:   size,
		logger: w.logger,
		done:   make(chan struct{}),
	}
}

// Size returns the number of worker goroutines.
func (p *Pool) Size() int {
	return p.size
}

// Start launches the worker goroutines. They exit when ctx is cancelled,
// Stop is called or the source reports ErrSourceClosed.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrPoolAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(p.size)
	for i := 0; i < p.size; i++ {
		go p.loop(ctx, i)
	}

	go func() {
		p.wg.Wait()
		close(p.done)
	}()

	return nil
}

func (p *Pool) loop(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		processed, err := p.worker.ProcessOne(ctx)
		if processed {
			// Handler errors are already recorded on the task.
			continue
		}
		if err == nil {
			continue
		}
		if errors.Is(err, ErrSourceClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			p.logger.Debug("worker_exit", slog.Int("worker", id))
			return
		}
		p.logger.Error("worker_error", slog.Int("worker", id), slog.String("error", err.Error()))
	}
}

// Stop cancels the pool and waits up to grace for in-flight jobs to end.
// A non-positive grace waits indefinitely.
func (p *Pool) Stop(grace time.Duration) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()

	if grace <= 0 {
		<-p.done
		return nil
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Done is closed once every worker goroutine has exited.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}
