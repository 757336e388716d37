package confidential

import (
	"context"
	"errors"
	"time"

	"rasd.org/internal/org"
	"rasd.org/internal/workflow"
)

// Marking is the single active access restriction on a document. A later
// marking supersedes an earlier one; markings never stack.
type Marking struct {
	ID                    string            `json:"id"`
	ItemType              workflow.ItemType `json:"item_type"`
	ItemID                string            `json:"item_id"`
	MarkedBy              string            `json:"marked_by"`
	MarkerCommitteeID     string            `json:"marker_committee_id"`
	MarkerCommitteeLevel  org.Level         `json:"marker_committee_level"`
	MinChairmanOfficeRank *int              `json:"min_chairman_office_rank,omitempty"`
	Reason                string            `json:"reason"`
	CreatedAt             time.Time         `json:"created_at"`
}

// Grant is an explicit per-user exception to a marking, independent of
// committee membership or rank.
type Grant struct {
	ID        string            `json:"id"`
	ItemType  workflow.ItemType `json:"item_type"`
	ItemID    string            `json:"item_id"`
	GrantedTo string            `json:"granted_to"`
	GrantedBy string            `json:"granted_by"`
	Reason    string            `json:"reason,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Store persists markings and grants. Implementations enforce the one
// active marking per item and one grant per (item, user) invariants.
type Store interface {
	ReplaceMarking(ctx context.Context, m Marking) error
	ActiveMarking(ctx context.Context, itemType workflow.ItemType, itemID string) (Marking, bool, error)
	UpsertGrant(ctx context.Context, g Grant) (Grant, bool, error)
	HasGrant(ctx context.Context, itemType workflow.ItemType, itemID, userID string) (bool, error)
	ListGrants(ctx context.Context, itemType workflow.ItemType, itemID string) ([]Grant, error)
}

var (
	ErrNotFound     = errors.New("confidential: not found")
	ErrInvalidInput = errors.New("confidential: invalid input")
	// ErrAccessDenied carries no marking details so unauthorized callers
	// learn nothing beyond the denial itself.
	ErrAccessDenied = errors.New("confidential: access denied")
)
