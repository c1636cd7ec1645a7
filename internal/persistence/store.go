package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/petrijr/sconcur/pkg/api"
)

// OutcomeFilter selects journaled outcomes. Empty fields mean "no filter".
type OutcomeFilter struct {
	FlowKey string
	Status  api.TaskStatus
}

func (f OutcomeFilter) match(out api.Outcome) bool {
	if f.FlowKey != "" && out.FlowKey != f.FlowKey {
		return false
	}
	if f.Status != "" && out.Status != f.Status {
		return false
	}
	return true
}

// OutcomeStore is an append-only journal of terminal task outcomes.
// ListOutcomes returns outcomes in the order they were saved.
type OutcomeStore interface {
	SaveOutcome(ctx context.Context, out api.Outcome) error
	ListOutcomes(ctx context.Context, filter OutcomeFilter) ([]api.Outcome, error)
}

// NoopOutcomeStore discards all outcomes.
type NoopOutcomeStore struct{}

func (NoopOutcomeStore) SaveOutcome(ctx context.Context, out api.Outcome) error { return nil }
func (NoopOutcomeStore) ListOutcomes(ctx context.Context, filter OutcomeFilter) ([]api.Outcome, error) {
	return nil, nil
}

// sqlWhere renders filter as a WHERE clause. placeholder returns the bind
// marker for the n-th argument (1-based).
func sqlWhere(filter OutcomeFilter, placeholder func(n int) string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.FlowKey != "" {
		args = append(args, filter.FlowKey)
		conds = append(conds, fmt.Sprintf("flow_key = %s", placeholder(len(args))))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = %s", placeholder(len(args))))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
