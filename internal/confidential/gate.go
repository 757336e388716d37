package confidential

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rasd.org/internal/ids"
	"rasd.org/internal/obs"
	"rasd.org/internal/org"
	"rasd.org/internal/workflow"
)

// OwnerResolver reports who authored a report or issued a directive.
// *workflow.InMemory satisfies this through ItemOwner.
type OwnerResolver interface {
	ItemOwner(ctx context.Context, itemType workflow.ItemType, id string) (string, error)
}

// Gate decides whether a user may see a marked document. Visibility follows
// a fixed rule order: unmarked items pass, then explicit grants, then the
// document owner, then the chairman-office rank threshold, then the head of
// the marking committee. Everyone else is denied.
type Gate struct {
	store      Store
	dir        org.Directory
	owners     OwnerResolver
	dispatcher workflow.Dispatcher
	auditor    workflow.Auditor
	strictRank bool
	now        func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

func WithClock(fn func() time.Time) Option {
	return func(g *Gate) {
		if fn != nil {
			g.now = fn
		}
	}
}

func WithDispatcher(d workflow.Dispatcher) Option {
	return func(g *Gate) { g.dispatcher = d }
}

func WithAuditor(a workflow.Auditor) Option {
	return func(g *Gate) { g.auditor = a }
}

// WithStrictRank makes the rank threshold exclusive: a viewer must outrank
// the minimum instead of merely matching it.
func WithStrictRank(strict bool) Option {
	return func(g *Gate) { g.strictRank = strict }
}

func NewGate(store Store, dir org.Directory, owners OwnerResolver, opts ...Option) *Gate {
	g := &Gate{store: store, dir: dir, owners: owners, now: time.Now}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Mark restricts a document. A new marking supersedes any earlier one for the
// same item; the previous marking stops applying immediately.
func (g *Gate) Mark(ctx context.Context, itemType workflow.ItemType, itemID, markerID, committeeID, reason string, minRank *int) (Marking, error) {
	if itemType != workflow.ItemReport && itemType != workflow.ItemDirective {
		return Marking{}, fmt.Errorf("%w: unknown item type %q", ErrInvalidInput, itemType)
	}
	if itemID == "" || markerID == "" {
		return Marking{}, fmt.Errorf("%w: item id and marker are required", ErrInvalidInput)
	}
	if strings.TrimSpace(reason) == "" {
		return Marking{}, fmt.Errorf("%w: a marking reason is required", ErrInvalidInput)
	}
	if minRank != nil && *minRank < 1 {
		return Marking{}, fmt.Errorf("%w: minimum rank must be >= 1", ErrInvalidInput)
	}
	committee, err := g.dir.Committee(ctx, committeeID)
	if err != nil {
		return Marking{}, fmt.Errorf("%w: marker committee %s", ErrNotFound, committeeID)
	}
	if _, err := g.owners.ItemOwner(ctx, itemType, itemID); err != nil {
		return Marking{}, fmt.Errorf("%w: %s %s", ErrNotFound, itemType, itemID)
	}

	m := Marking{
		ID:                   ids.New(),
		ItemType:             itemType,
		ItemID:               itemID,
		MarkedBy:             markerID,
		MarkerCommitteeID:    committee.ID,
		MarkerCommitteeLevel: committee.Level,
		Reason:               strings.TrimSpace(reason),
		CreatedAt:            g.now().UTC(),
	}
	if minRank != nil {
		r := *minRank
		m.MinChairmanOfficeRank = &r
	}
	if err := g.store.ReplaceMarking(ctx, m); err != nil {
		return Marking{}, err
	}
	g.audit(ctx, "confidential.marked", map[string]any{
		"item_type":    string(itemType),
		"item_id":      itemID,
		"marked_by":    markerID,
		"committee_id": committee.ID,
	})
	g.dispatch(ctx, workflow.Event{
		Kind:     workflow.EventConfidentialityMarked,
		ItemType: itemType,
		ItemID:   itemID,
		Actor:    markerID,
		At:       m.CreatedAt,
	})
	return m, nil
}

// Grant gives a user explicit access to a marked document. Granting to the
// same user again refreshes the reason and timestamp rather than duplicating
// the grant.
func (g *Gate) Grant(ctx context.Context, itemType workflow.ItemType, itemID, granteeID, grantorID, reason string) (Grant, error) {
	if itemID == "" || granteeID == "" || grantorID == "" {
		return Grant{}, fmt.Errorf("%w: item id, grantee and grantor are required", ErrInvalidInput)
	}
	if _, ok, err := g.store.ActiveMarking(ctx, itemType, itemID); err != nil {
		return Grant{}, err
	} else if !ok {
		return Grant{}, fmt.Errorf("%w: no active marking on %s %s", ErrNotFound, itemType, itemID)
	}

	now := g.now().UTC()
	grant := Grant{
		ID:        ids.New(),
		ItemType:  itemType,
		ItemID:    itemID,
		GrantedTo: granteeID,
		GrantedBy: grantorID,
		Reason:    strings.TrimSpace(reason),
		CreatedAt: now,
		UpdatedAt: now,
	}
	stored, created, err := g.store.UpsertGrant(ctx, grant)
	if err != nil {
		return Grant{}, err
	}
	if created {
		g.audit(ctx, "confidential.access_granted", map[string]any{
			"item_type":  string(itemType),
			"item_id":    itemID,
			"granted_to": granteeID,
			"granted_by": grantorID,
		})
		g.dispatch(ctx, workflow.Event{
			Kind:     workflow.EventAccessGranted,
			ItemType: itemType,
			ItemID:   itemID,
			Actor:    grantorID,
			At:       now,
		})
	}
	return stored, nil
}

// CanView reports whether the viewer may see the document.
func (g *Gate) CanView(ctx context.Context, itemType workflow.ItemType, itemID, viewerID string) (bool, error) {
	allowed, err := g.evaluate(ctx, itemType, itemID, viewerID)
	if err != nil {
		return false, err
	}
	obs.ObserveConfidentialityDecision(allowed)
	return allowed, nil
}

// Authorize is CanView with a denial error. The error never includes the
// marking reason or threshold.
func (g *Gate) Authorize(ctx context.Context, itemType workflow.ItemType, itemID, viewerID string) error {
	allowed, err := g.CanView(ctx, itemType, itemID, viewerID)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrAccessDenied
	}
	return nil
}

func (g *Gate) evaluate(ctx context.Context, itemType workflow.ItemType, itemID, viewerID string) (bool, error) {
	marking, ok, err := g.store.ActiveMarking(ctx, itemType, itemID)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}

	if has, err := g.store.HasGrant(ctx, itemType, itemID, viewerID); err != nil {
		return false, err
	} else if has {
		return true, nil
	}

	owner, err := g.owners.ItemOwner(ctx, itemType, itemID)
	if err == nil && owner == viewerID {
		return true, nil
	}

	if marking.MinChairmanOfficeRank != nil {
		rank, hasRank, err := g.dir.ChairmanOfficeRank(ctx, viewerID)
		if err != nil {
			return false, err
		}
		if hasRank {
			if g.strictRank {
				if rank < *marking.MinChairmanOfficeRank {
					return true, nil
				}
			} else if rank <= *marking.MinChairmanOfficeRank {
				return true, nil
			}
		}
	}

	head, err := g.dir.IsHead(ctx, marking.MarkerCommitteeID, viewerID)
	if err != nil {
		return false, err
	}
	return head, nil
}

// ActiveMarking exposes the current marking, if any, for callers that already
// passed the gate.
func (g *Gate) ActiveMarking(ctx context.Context, itemType workflow.ItemType, itemID string) (Marking, bool, error) {
	return g.store.ActiveMarking(ctx, itemType, itemID)
}

// Grants lists the explicit grants on an item.
func (g *Gate) Grants(ctx context.Context, itemType workflow.ItemType, itemID string) ([]Grant, error) {
	return g.store.ListGrants(ctx, itemType, itemID)
}

func (g *Gate) dispatch(ctx context.Context, ev workflow.Event) {
	if g.dispatcher != nil {
		g.dispatcher.Dispatch(ctx, ev)
	}
}

func (g *Gate) audit(ctx context.Context, event string, fields map[string]any) {
	if g.auditor != nil {
		g.auditor.Record(ctx, event, fields)
	}
}
