package persistence

import (
	"context"
	"sync"

	"github.com/petrijr/sconcur/pkg/api"
)

// InMemoryOutcomeStore is a goroutine-safe OutcomeStore backed by a slice.
type InMemoryOutcomeStore struct {
	mu       sync.RWMutex
	outcomes []api.Outcome
}

var _ OutcomeStore = (*InMemoryOutcomeStore)(nil)

// NewInMemoryOutcomeStore creates an empty store.
func NewInMemoryOutcomeStore() *InMemoryOutcomeStore {
	return &InMemoryOutcomeStore{}
}

func (s *InMemoryOutcomeStore) SaveOutcome(ctx context.Context, out api.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outcomes = append(s.outcomes, out)
	return nil
}

func (s *InMemoryOutcomeStore) ListOutcomes(ctx context.Context, filter OutcomeFilter) ([]api.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []api.Outcome
	for _, o := range s.outcomes {
		if filter.match(o) {
			out = append(out, o)
		}
	}
	return out, nil
}
