// Package inmemory provides an in-memory implementation of the Repository interface.
// It stores all flow-related data in maps within memory, suitable for testing and
// scenarios where persistence is not required.
package inmemory

import (
	"sync"

	"github.com/flowmill/flowmill/pkg/flow/core/domain/model"
	"github.com/flowmill/flowmill/pkg/flow/core/domain/repository"
)

// InMemoryRepository is an in-memory implementation of the Repository interface.
// It holds all flow-related data in in-memory maps. A single mutex guards every
// operation, which makes the count-and-claim sequence of ClaimRun indivisible.
type InMemoryRepository struct {
	flows        map[string]*model.Flow
	runs         map[string]*model.Run
	errorRecords map[string]*model.ErrorRecord
	mu           sync.RWMutex // Mutex to protect concurrent access to maps.
}

// NewInMemoryRepository creates and initializes a new instance of InMemoryRepository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		flows:        make(map[string]*model.Flow),
		runs:         make(map[string]*model.Run),
		errorRecords: make(map[string]*model.ErrorRecord),
	}
}

// Close releases resources used by the repository.
// As an in-memory repository, it holds no external resources, so this method always returns nil.
func (r *InMemoryRepository) Close() error {
	return nil
}

// Verify interfaces
var _ repository.Repository = (*InMemoryRepository)(nil)
