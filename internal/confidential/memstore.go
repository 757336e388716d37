package confidential

import (
	"context"
	"sync"

	"rasd.org/internal/workflow"
)

// InMemoryStore keeps markings and grants in process memory.
type InMemoryStore struct {
	mu       sync.RWMutex
	markings map[string]Marking // item key -> active marking
	grants   map[string][]Grant // item key -> grants in creation order
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		markings: make(map[string]Marking),
		grants:   make(map[string][]Grant),
	}
}

func itemKey(itemType workflow.ItemType, itemID string) string {
	return string(itemType) + "|" + itemID
}

// ReplaceMarking installs the marking as the item's single active one.
func (s *InMemoryStore) ReplaceMarking(ctx context.Context, m Marking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markings[itemKey(m.ItemType, m.ItemID)] = m
	return nil
}

func (s *InMemoryStore) ActiveMarking(ctx context.Context, itemType workflow.ItemType, itemID string) (Marking, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markings[itemKey(itemType, itemID)]
	return m, ok, nil
}

// UpsertGrant inserts the grant, or refreshes the reason and timestamp of an
// existing grant for the same user. The second return reports whether a new
// row was created.
func (s *InMemoryStore) UpsertGrant(ctx context.Context, g Grant) (Grant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := itemKey(g.ItemType, g.ItemID)
	list := s.grants[key]
	for i := range list {
		if list[i].GrantedTo != g.GrantedTo {
			continue
		}
		list[i].Reason = g.Reason
		list[i].GrantedBy = g.GrantedBy
		list[i].UpdatedAt = g.UpdatedAt
		return list[i], false, nil
	}
	s.grants[key] = append(list, g)
	return g, true, nil
}

func (s *InMemoryStore) HasGrant(ctx context.Context, itemType workflow.ItemType, itemID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.grants[itemKey(itemType, itemID)] {
		if g.GrantedTo == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) ListGrants(ctx context.Context, itemType workflow.ItemType, itemID string) ([]Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.grants[itemKey(itemType, itemID)]
	out := make([]Grant, len(list))
	copy(out, list)
	return out, nil
}

var _ Store = (*InMemoryStore)(nil)
