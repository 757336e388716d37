package workflow

import (
	"context"
	"time"
)

// EventKind names the engine events external collaborators may consume.
type EventKind string

const (
	EventTransitionCompleted   EventKind = "transition_completed"
	EventConfidentialityMarked EventKind = "confidentiality_marked"
	EventAccessGranted         EventKind = "access_granted"
)

// Event is emitted after a mutation commits. From/To are only set for
// transition events.
type Event struct {
	Kind     EventKind `json:"kind"`
	ItemType ItemType  `json:"item_type"`
	ItemID   string    `json:"item_id"`
	From     string    `json:"from,omitempty"`
	To       string    `json:"to,omitempty"`
	Actor    string    `json:"actor"`
	At       time.Time `json:"at"`
}

// Dispatcher receives events fire-and-forget. The engine never inspects a
// return value; delivery failures must not surface into transitions.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event)
}

// Auditor receives exactly one structured record per committed mutation.
type Auditor interface {
	Record(ctx context.Context, event string, fields map[string]any)
}
