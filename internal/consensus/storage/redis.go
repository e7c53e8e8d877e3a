package storage

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	decisionKeyPrefix = "consensus:decision:"
	decisionIndexKey  = "consensus:decisions"
)

// RedisRegistry is a Redis-backed decision registry for deployments
// where several engine instances share one decision store.
type RedisRegistry struct {
	client *redis.Client
}

func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

// RegisterDecision stores the record under its decision id. SetNX makes
// the registration idempotent: a second write for the same decision is
// a no-op.
func (r *RedisRegistry) RegisterDecision(ctx context.Context, record *DecisionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "failed to marshal decision")
	}

	key := decisionKeyPrefix + record.DecisionID
	created, err := r.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return errors.Wrap(err, "failed to register decision")
	}
	if !created {
		return nil
	}

	if err := r.client.SAdd(ctx, decisionIndexKey, record.DecisionID).Err(); err != nil {
		return errors.Wrap(err, "failed to index decision")
	}

	return nil
}

func (r *RedisRegistry) GetDecision(ctx context.Context, decisionID string) (*DecisionRecord, error) {
	key := decisionKeyPrefix + decisionID
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, errors.Wrapf(ErrDecisionNotFound, "decision %s", decisionID)
		}
		return nil, errors.Wrap(err, "failed to get decision")
	}

	var record DecisionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal decision")
	}

	return &record, nil
}

func (r *RedisRegistry) ListDecisions(ctx context.Context) ([]*DecisionRecord, error) {
	ids, err := r.client.SMembers(ctx, decisionIndexKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list decision ids")
	}

	res := make([]*DecisionRecord, 0, len(ids))
	for _, id := range ids {
		record, err := r.GetDecision(ctx, id)
		if err != nil {
			if errors.Is(err, ErrDecisionNotFound) {
				continue
			}
			return nil, err
		}
		res = append(res, record)
	}

	return res, nil
}
