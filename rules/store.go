package rules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrRuleSetNotFound = errors.New("rule set not found")
	ErrRuleSetExists   = errors.New("rule set already exists")
	ErrRuleSetInactive = errors.New("rule set is not active")
	ErrInvalidRuleSet  = errors.New("invalid rule set")
)

// RuleSetStore manages rule set persistence and retrieval
type RuleSetStore interface {
	// Add a new rule set
	Add(ctx context.Context, rs *RuleSet) error

	// Get a rule set by ID
	Get(ctx context.Context, id string) (*RuleSet, error)

	// List all rule sets, oldest first
	List(ctx context.Context) ([]*RuleSet, error)

	// List active rule sets, oldest first
	ListActive(ctx context.Context) ([]*RuleSet, error)

	// Update an existing rule set
	Update(ctx context.Context, rs *RuleSet) error

	// Delete a rule set
	Delete(ctx context.Context, id string) error
}

// InMemoryRuleSetStore implements RuleSetStore using an in-memory map.
// Safe for concurrent use.
type InMemoryRuleSetStore struct {
	ruleSets map[string]*RuleSet
	mu       sync.RWMutex
}

// NewInMemoryRuleSetStore creates a new in-memory rule set store
func NewInMemoryRuleSetStore() *InMemoryRuleSetStore {
	return &InMemoryRuleSetStore{
		ruleSets: make(map[string]*RuleSet),
	}
}

// Add stores rs and stamps CreatedAt and UpdatedAt
func (s *InMemoryRuleSetStore) Add(_ context.Context, rs *RuleSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ruleSets[rs.ID]; exists {
		return fmt.Errorf("rule set %s: %w", rs.ID, ErrRuleSetExists)
	}

	now := time.Now()
	rs.CreatedAt = now
	rs.UpdatedAt = now
	s.ruleSets[rs.ID] = rs.clone()
	return nil
}

// Get retrieves a rule set by ID
func (s *InMemoryRuleSetStore) Get(_ context.Context, id string) (*RuleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rs, exists := s.ruleSets[id]
	if !exists {
		return nil, fmt.Errorf("rule set %s: %w", id, ErrRuleSetNotFound)
	}
	return rs.clone(), nil
}

// List returns every rule set
func (s *InMemoryRuleSetStore) List(_ context.Context) ([]*RuleSet, error) {
	return s.list(false), nil
}

// ListActive returns the active rule sets
func (s *InMemoryRuleSetStore) ListActive(_ context.Context) ([]*RuleSet, error) {
	return s.list(true), nil
}

func (s *InMemoryRuleSetStore) list(activeOnly bool) []*RuleSet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*RuleSet, 0, len(s.ruleSets))
	for _, rs := range s.ruleSets {
		if activeOnly && !rs.Active {
			continue
		}
		result = append(result, rs.clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// Update replaces an existing rule set, preserving CreatedAt
func (s *InMemoryRuleSetStore) Update(_ context.Context, rs *RuleSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.ruleSets[rs.ID]
	if !exists {
		return fmt.Errorf("rule set %s: %w", rs.ID, ErrRuleSetNotFound)
	}

	rs.CreatedAt = existing.CreatedAt
	rs.UpdatedAt = time.Now()
	s.ruleSets[rs.ID] = rs.clone()
	return nil
}

// Delete removes a rule set from the store
func (s *InMemoryRuleSetStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ruleSets[id]; !exists {
		return fmt.Errorf("rule set %s: %w", id, ErrRuleSetNotFound)
	}

	delete(s.ruleSets, id)
	return nil
}
