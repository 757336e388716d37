package org

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"rasd.org/internal/ids"
)

// Directory answers the organizational questions the workflow engine and
// confidentiality gate ask. Implementations must treat a committee as a
// descendant of itself.
type Directory interface {
	Committee(ctx context.Context, id string) (Committee, error)
	ActiveMembers(ctx context.Context, committeeID string) ([]Membership, error)
	IsHead(ctx context.Context, committeeID, userID string) (bool, error)
	IsDescendant(ctx context.Context, childID, ancestorID string) (bool, error)
	ChairmanOfficeRank(ctx context.Context, userID string) (int, bool, error)
}

// InMemory implements Directory with in-process concurrency safety.
type InMemory struct {
	mu          sync.RWMutex
	committees  map[string]*Committee
	memberships map[string][]Membership // committee id -> memberships
	ranks       map[string]int          // user id -> chairman office rank
	now         func() time.Time
}

// NewInMemory creates an empty directory.
func NewInMemory() *InMemory {
	return &InMemory{
		committees:  make(map[string]*Committee),
		memberships: make(map[string][]Membership),
		ranks:       make(map[string]int),
		now:         time.Now,
	}
}

// SetClock overrides the time source. Only intended for test use.
func (d *InMemory) SetClock(fn func() time.Time) {
	if fn != nil {
		d.now = fn
	}
}

// AddCommittee registers a committee, validating that its level sits exactly
// one step below the parent's level. The root committee carries no parent and
// must be at the top level.
func (d *InMemory) AddCommittee(ctx context.Context, c Committee) (Committee, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return Committee{}, fmt.Errorf("%w: committee name is required", ErrInvalidInput)
	}
	depth, ok := c.Level.Depth()
	if !ok {
		return Committee{}, fmt.Errorf("%w: unknown level %q", ErrInvalidInput, c.Level)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if c.ParentID == "" {
		if depth != 0 {
			return Committee{}, fmt.Errorf("%w: root committee must be top level", ErrInvalidHierarchy)
		}
	} else {
		parent, ok := d.committees[c.ParentID]
		if !ok {
			return Committee{}, fmt.Errorf("%w: parent committee %s", ErrNotFound, c.ParentID)
		}
		parentDepth, _ := parent.Level.Depth()
		if depth != parentDepth+1 {
			return Committee{}, fmt.Errorf("%w: level %s is not one step below %s", ErrInvalidHierarchy, c.Level, parent.Level)
		}
	}

	if c.ID == "" {
		c.ID = ids.New()
	}
	if _, exists := d.committees[c.ID]; exists {
		return Committee{}, fmt.Errorf("%w: committee %s already exists", ErrInvalidInput, c.ID)
	}
	c.CreatedAt = d.now().UTC()
	stored := c
	d.committees[c.ID] = &stored
	return c, nil
}

// AddMembership opens a membership window for a user.
func (d *InMemory) AddMembership(ctx context.Context, m Membership) error {
	if m.CommitteeID == "" || m.UserID == "" {
		return fmt.Errorf("%w: committee_id and user_id are required", ErrInvalidInput)
	}
	if m.Role != RoleHead && m.Role != RoleMember {
		return fmt.Errorf("%w: unsupported role %q", ErrInvalidInput, m.Role)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.committees[m.CommitteeID]; !ok {
		return fmt.Errorf("%w: committee %s", ErrNotFound, m.CommitteeID)
	}
	if m.EffectiveFrom.IsZero() {
		m.EffectiveFrom = d.now().UTC()
	}
	d.memberships[m.CommitteeID] = append(d.memberships[m.CommitteeID], m)
	return nil
}

// EndMembership closes every open membership the user holds in the committee.
func (d *InMemory) EndMembership(ctx context.Context, committeeID, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now().UTC()
	found := false
	list := d.memberships[committeeID]
	for i := range list {
		if list[i].UserID != userID || list[i].EffectiveUntil != nil {
			continue
		}
		until := now
		list[i].EffectiveUntil = &until
		found = true
	}
	if !found {
		return fmt.Errorf("%w: no open membership for user %s", ErrNotFound, userID)
	}
	return nil
}

// SetChairmanOfficeRank records the user's chairman-office rank. Lower
// numbers mean higher authority.
func (d *InMemory) SetChairmanOfficeRank(ctx context.Context, userID string, rank int) error {
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if rank < 1 {
		return fmt.Errorf("%w: rank must be >= 1", ErrInvalidInput)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ranks[userID] = rank
	return nil
}

func (d *InMemory) Committee(ctx context.Context, id string) (Committee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.committees[id]
	if !ok {
		return Committee{}, ErrNotFound
	}
	return *c, nil
}

func (d *InMemory) ActiveMembers(ctx context.Context, committeeID string) ([]Membership, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.committees[committeeID]; !ok {
		return nil, ErrNotFound
	}
	now := d.now().UTC()
	var out []Membership
	seen := make(map[string]struct{})
	for _, m := range d.memberships[committeeID] {
		if !m.ActiveAt(now) {
			continue
		}
		// One row per user; a head row wins over a member row.
		if _, dup := seen[m.UserID]; dup {
			if m.Role == RoleHead {
				for i := range out {
					if out[i].UserID == m.UserID {
						out[i].Role = RoleHead
					}
				}
			}
			continue
		}
		seen[m.UserID] = struct{}{}
		out = append(out, m)
	}
	return out, nil
}

func (d *InMemory) IsHead(ctx context.Context, committeeID, userID string) (bool, error) {
	members, err := d.ActiveMembers(ctx, committeeID)
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if m.UserID == userID && m.Role == RoleHead {
			return true, nil
		}
	}
	return false, nil
}

func (d *InMemory) IsDescendant(ctx context.Context, childID, ancestorID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.committees[ancestorID]; !ok {
		return false, ErrNotFound
	}
	cur, ok := d.committees[childID]
	if !ok {
		return false, ErrNotFound
	}
	for {
		if cur.ID == ancestorID {
			return true, nil
		}
		if cur.ParentID == "" {
			return false, nil
		}
		parent, ok := d.committees[cur.ParentID]
		if !ok {
			return false, nil
		}
		cur = parent
	}
}

func (d *InMemory) ChairmanOfficeRank(ctx context.Context, userID string) (int, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rank, ok := d.ranks[userID]
	return rank, ok, nil
}
