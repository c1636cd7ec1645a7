package persistence

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/sconcur/pkg/api"
)

// RedisOutcomeStore is an OutcomeStore backed by Redis lists.
// It uses a simple key structure:
//
//	<prefix>outcomes           => LIST of every gob-encoded outcome
//	<prefix>flow:<flowKey>     => LIST of the outcomes of one flow
//
// Both lists are appended in one MULTI/EXEC transaction.
type RedisOutcomeStore struct {
	client *redis.Client
	prefix string
}

var _ OutcomeStore = (*RedisOutcomeStore)(nil)

// NewRedisOutcomeStore creates a RedisOutcomeStore.
// prefix is optional but recommended (e.g. "sconcur:").
func NewRedisOutcomeStore(client *redis.Client, prefix string) *RedisOutcomeStore {
	if prefix == "" {
		prefix = "sconcur:"
	}
	return &RedisOutcomeStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisOutcomeStore) keyAll() string {
	return s.prefix + "outcomes"
}

func (s *RedisOutcomeStore) keyFlow(flowKey string) string {
	return s.prefix + "flow:" + flowKey
}

func (s *RedisOutcomeStore) SaveOutcome(ctx context.Context, out api.Outcome) error {
	data, err := encodeOutcome(out)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.keyAll(), data)
		pipe.RPush(ctx, s.keyFlow(out.FlowKey), data)
		return nil
	})
	return err
}

func (s *RedisOutcomeStore) ListOutcomes(ctx context.Context, filter OutcomeFilter) ([]api.Outcome, error) {
	key := s.keyAll()
	if filter.FlowKey != "" {
		key = s.keyFlow(filter.FlowKey)
	}

	raw, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	var out []api.Outcome
	for _, item := range raw {
		o, err := decodeOutcome([]byte(item))
		if err != nil {
			return nil, err
		}
		if filter.match(o) {
			out = append(out, o)
		}
	}
	return out, nil
}
