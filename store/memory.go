package store

import (
	"context"
	"sync"

	"github.com/sentinelops/orchestrator/core"
)

// InMemory implements Store for tests and local development.
type InMemory struct {
	mu        sync.Mutex
	incidents map[string]*core.Incident
}

// NewInMemory creates an empty InMemory store.
func NewInMemory() *InMemory {
	return &InMemory{incidents: make(map[string]*core.Incident)}
}

func (s *InMemory) Get(ctx context.Context, incidentID string) (*core.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	incident, ok := s.incidents[incidentID]
	if !ok {
		return nil, core.ErrNotFound
	}
	clone := *incident
	return &clone, nil
}

func (s *InMemory) Save(ctx context.Context, incident *core.Incident, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.incidents[incident.ID]
	if ok && existing.Version != expectedVersion {
		return core.ErrPreconditionFailed
	}
	if !ok && expectedVersion != 0 {
		return core.ErrPreconditionFailed
	}

	clone := *incident
	clone.Version = expectedVersion + 1
	s.incidents[incident.ID] = &clone
	incident.Version = clone.Version
	return nil
}

func (s *InMemory) List(ctx context.Context, state core.WorkflowState) ([]*core.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*core.Incident
	for _, incident := range s.incidents {
		if incident.State == state {
			clone := *incident
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *InMemory) Delete(ctx context.Context, incidentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.incidents, incidentID)
	return nil
}
