package inmemory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/flowmill/flowmill/pkg/flow/core/domain/model"
	"github.com/flowmill/flowmill/pkg/flow/core/domain/repository"
)

// SaveFlow persists a new Flow.
// It returns an error if a Flow with the same ID or name already exists.
func (r *InMemoryRepository) SaveFlow(ctx context.Context, flow *model.Flow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.flows[flow.ID]; exists {
		return fmt.Errorf("Flow with ID %s already exists", flow.ID)
	}
	for _, existing := range r.flows {
		if existing.Name == flow.Name {
			return fmt.Errorf("Flow with name %s already exists", flow.Name)
		}
	}
	// Deep copy to prevent external modification of internal state.
	cloned := *flow
	r.flows[flow.ID] = &cloned
	return nil
}

// UpdateFlow updates an existing Flow using optimistic locking.
func (r *InMemoryRepository) UpdateFlow(ctx context.Context, flow *model.Flow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.flows[flow.ID]
	if !exists {
		return repository.ErrFlowNotFound
	}
	if stored.Version != flow.Version {
		return repository.ErrOptimisticLock
	}
	cloned := *flow
	cloned.Version = flow.Version + 1
	cloned.LastUpdated = time.Now()
	r.flows[flow.ID] = &cloned
	flow.Version = cloned.Version
	return nil
}

// FindFlowByID finds a Flow by its ID.
func (r *InMemoryRepository) FindFlowByID(ctx context.Context, id string) (*model.Flow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	flow, ok := r.flows[id]
	if !ok {
		return nil, repository.ErrFlowNotFound
	}
	// Deep copy to prevent external modification of internal state.
	cloned := *flow
	return &cloned, nil
}

// FindFlowByName finds a Flow by its unique name.
func (r *InMemoryRepository) FindFlowByName(ctx context.Context, name string) (*model.Flow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, flow := range r.flows {
		if flow.Name == name {
			cloned := *flow
			return &cloned, nil
		}
	}
	return nil, repository.ErrFlowNotFound
}

// FindSchedulableFlows returns all flows that are enabled and active, sorted by name.
func (r *InMemoryRepository) FindSchedulableFlows(ctx context.Context) ([]*model.Flow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.Flow
	for _, flow := range r.flows {
		if flow.IsSchedulable() {
			cloned := *flow
			result = append(result, &cloned)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}
