package org

import (
	"errors"
	"time"
)

// Level is the position of a committee in the four-step hierarchy.
type Level string

const (
	LevelTopLevel  Level = "top_level"
	LevelDirectors Level = "directors"
	LevelFunctions Level = "functions"
	LevelProcesses Level = "processes"
)

// Depth returns the numeric depth of the level, top level being 0.
// The second result is false for unknown levels.
func (l Level) Depth() (int, bool) {
	switch l {
	case LevelTopLevel:
		return 0, true
	case LevelDirectors:
		return 1, true
	case LevelFunctions:
		return 2, true
	case LevelProcesses:
		return 3, true
	default:
		return 0, false
	}
}

// Role distinguishes committee heads from ordinary members. Heads are
// members too; the role only adds authority.
type Role string

const (
	RoleHead   Role = "head"
	RoleMember Role = "member"
)

// Committee is a node in the organizational hierarchy. ParentID is empty
// for the root, which must sit at the top level.
type Committee struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Sector    string    `json:"sector"`
	Level     Level     `json:"level"`
	ParentID  string    `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership binds a user to a committee for a time window. A nil
// EffectiveUntil means the membership is still open.
type Membership struct {
	CommitteeID    string     `json:"committee_id"`
	UserID         string     `json:"user_id"`
	Role           Role       `json:"role"`
	EffectiveFrom  time.Time  `json:"effective_from"`
	EffectiveUntil *time.Time `json:"effective_until,omitempty"`
}

// ActiveAt reports whether the membership window covers the given instant.
func (m Membership) ActiveAt(at time.Time) bool {
	if at.Before(m.EffectiveFrom) {
		return false
	}
	if m.EffectiveUntil != nil && !at.Before(*m.EffectiveUntil) {
		return false
	}
	return true
}

var (
	ErrNotFound         = errors.New("org: not found")
	ErrInvalidInput     = errors.New("org: invalid input")
	ErrInvalidHierarchy = errors.New("org: invalid hierarchy")
)
