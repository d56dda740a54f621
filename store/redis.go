package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sentinelops/orchestrator/core"
)

// Redis implements Store using Redis strings keyed by incident id, with
// WATCH-based optimistic concurrency on Save so concurrent workflow
// instances never clobber each other's writes.
type Redis struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	logger    core.Logger
}

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	Namespace string
	TTL       time.Duration
	Logger    core.Logger
}

// NewRedis creates a Redis-backed Store. The client should already be
// connected.
func NewRedis(client *redis.Client, cfg RedisConfig) *Redis {
	if cfg.Namespace == "" {
		cfg.Namespace = "sentinelops"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	logger := cfg.Logger
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("store/redis")
	}
	return &Redis{client: client, namespace: cfg.Namespace, ttl: cfg.TTL, logger: logger}
}

func (s *Redis) key(incidentID string) string {
	return fmt.Sprintf("%s:incident:%s", s.namespace, incidentID)
}

func (s *Redis) indexKey(state core.WorkflowState) string {
	return fmt.Sprintf("%s:incidents:by-state:%s", s.namespace, state)
}

func (s *Redis) Get(ctx context.Context, incidentID string) (*core.Incident, error) {
	data, err := s.client.Get(ctx, s.key(incidentID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("getting incident: %w", err)
	}

	var incident core.Incident
	if err := json.Unmarshal(data, &incident); err != nil {
		return nil, fmt.Errorf("unmarshaling incident: %w", err)
	}
	return &incident, nil
}

// Save writes the incident under a WATCH transaction so a concurrent
// writer that already advanced the stored version causes this write to
// fail with core.ErrPreconditionFailed rather than silently overwrite it.
func (s *Redis) Save(ctx context.Context, incident *core.Incident, expectedVersion int64) error {
	key := s.key(incident.ID)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("reading current incident: %w", err)
		}

		if err != redis.Nil {
			var stored core.Incident
			if err := json.Unmarshal(current, &stored); err != nil {
				return fmt.Errorf("unmarshaling stored incident: %w", err)
			}
			if stored.Version != expectedVersion {
				return core.ErrPreconditionFailed
			}
		} else if expectedVersion != 0 {
			return core.ErrPreconditionFailed
		}

		incident.Version = expectedVersion + 1
		data, err := json.Marshal(incident)
		if err != nil {
			return fmt.Errorf("marshaling incident: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			pipe.SAdd(ctx, s.indexKey(incident.State), incident.ID)
			return nil
		})
		return err
	}, key)

	if err != nil {
		if err == core.ErrPreconditionFailed {
			s.logger.WarnWithContext(ctx, "optimistic concurrency conflict", map[string]interface{}{
				"incident_id": incident.ID, "expected_version": expectedVersion,
			})
			return err
		}
		return fmt.Errorf("saving incident: %w", err)
	}
	return nil
}

func (s *Redis) List(ctx context.Context, state core.WorkflowState) ([]*core.Incident, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey(state)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing incident index: %w", err)
	}

	incidents := make([]*core.Incident, 0, len(ids))
	for _, id := range ids {
		incident, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		if incident.State == state {
			incidents = append(incidents, incident)
		}
	}
	return incidents, nil
}

func (s *Redis) Delete(ctx context.Context, incidentID string) error {
	if err := s.client.Del(ctx, s.key(incidentID)).Err(); err != nil {
		return fmt.Errorf("deleting incident: %w", err)
	}
	return nil
}
