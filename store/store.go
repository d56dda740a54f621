// Package store adapts incident state to durable storage. It mirrors the
// split the rest of this module draws between a Redis-backed production
// implementation and an in-memory fake: the orchestration engine depends
// only on the Store interface, never on Redis directly.
package store

import (
	"context"

	"github.com/sentinelops/orchestrator/core"
)

// Store persists incident aggregates with optimistic concurrency:
// Save fails with core.ErrPreconditionFailed if the incident's Version in
// the store has advanced past the caller's expected version.
type Store interface {
	Get(ctx context.Context, incidentID string) (*core.Incident, error)
	Save(ctx context.Context, incident *core.Incident, expectedVersion int64) error
	List(ctx context.Context, state core.WorkflowState) ([]*core.Incident, error)
	Delete(ctx context.Context, incidentID string) error
}
