package persistence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/petrijr/sconcur/pkg/api"
)

const journalSaveTimeout = 5 * time.Second

// JournalObserver is an api.Observer that records every terminal outcome
// in an OutcomeStore. Writes happen on a background goroutine; the backlog
// is unbounded so cancel, stopFlow and push never wait on the store.
type JournalObserver struct {
	api.NoopObserver

	store  OutcomeStore
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	backlog []api.Outcome

	wake chan struct{}
	done chan struct{}
}

var (
	_ api.Observer = (*JournalObserver)(nil)
	_ api.Closer   = (*JournalObserver)(nil)
)

// NewJournalObserver starts the writer goroutine. Close must be called to
// flush pending writes. A nil logger falls back to slog.Default.
func NewJournalObserver(store OutcomeStore, logger *slog.Logger) *JournalObserver {
	if logger == nil {
		logger = slog.Default()
	}
	j := &JournalObserver{
		store:  store,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go j.run()
	return j
}

// Store returns the underlying OutcomeStore.
func (j *JournalObserver) Store() OutcomeStore {
	return j.store
}

func (j *JournalObserver) OnTaskFinished(ctx context.Context, out api.Outcome) {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		// Late outcomes after shutdown are written inline.
		j.save(out)
		return
	}
	j.backlog = append(j.backlog, out)
	j.mu.Unlock()

	j.signal()
}

// Backlog returns the number of outcomes not yet handed to the store.
func (j *JournalObserver) Backlog() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.backlog)
}

func (j *JournalObserver) signal() {
	select {
	case j.wake <- struct{}{}:
	default:
	}
}

func (j *JournalObserver) run() {
	defer close(j.done)
	for range j.wake {
		for {
			j.mu.Lock()
			batch := j.backlog
			j.backlog = nil
			closed := j.closed
			j.mu.Unlock()

			if len(batch) == 0 {
				if closed {
					return
				}
				break
			}
			for _, out := range batch {
				j.save(out)
			}
		}
	}
}

func (j *JournalObserver) save(out api.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), journalSaveTimeout)
	defer cancel()

	if err := j.store.SaveOutcome(ctx, out); err != nil {
		j.logger.Error("journal_save_failed",
			slog.String("flow", out.FlowKey),
			slog.String("task", out.TaskKey),
			slog.String("error", err.Error()),
		)
	}
}

// Close stops accepting queued writes and waits until everything queued
// so far is stored or ctx ends. It is idempotent.
func (j *JournalObserver) Close(ctx context.Context) error {
	j.mu.Lock()
	j.closed = true
	j.mu.Unlock()
	j.signal()

	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
