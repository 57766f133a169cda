package claim

import (
	"fmt"
	"sync"

	cn "github.com/LerianStudio/claims-telemetry/commons/constants"
)

// Store keeps processed claims in memory.
type Store struct {
	mu     sync.RWMutex
	claims map[string]Claim
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{claims: make(map[string]Claim)}
}

// Save inserts or replaces claim.
func (s *Store) Save(claim Claim) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.claims[claim.ID] = claim
}

// Find returns the claim with id.
func (s *Store) Find(id string) (Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	claim, ok := s.claims[id]
	if !ok {
		return Claim{}, fmt.Errorf("claim %s: %w", id, cn.ErrClaimNotFound)
	}

	return claim, nil
}
