package workflow

import (
	"context"
	"fmt"
	"strings"

	"rasd.org/internal/ids"
	"rasd.org/internal/obs"
)

// ValidateDirectiveDraft normalises and checks a draft in place, applying the
// normal-priority and instruction-type defaults.
func ValidateDirectiveDraft(draft *DirectiveDraft) error {
	draft.Title = strings.TrimSpace(draft.Title)
	if draft.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if draft.IssuerID == "" || draft.TargetCommitteeID == "" {
		return fmt.Errorf("%w: issuer_id and target_committee_id are required", ErrInvalidInput)
	}
	if draft.Priority == "" {
		draft.Priority = PriorityNormal
	}
	switch draft.Priority {
	case PriorityNormal, PriorityHigh, PriorityUrgent:
	default:
		return fmt.Errorf("%w: unsupported priority %q", ErrInvalidInput, draft.Priority)
	}
	if draft.Type == "" {
		draft.Type = TypeInstruction
	}
	switch draft.Type {
	case TypeInstruction, TypeCorrectiveAction, TypeApproval, TypeFeedback, TypeInformationNotice:
	default:
		return fmt.Errorf("%w: unsupported directive type %q", ErrInvalidInput, draft.Type)
	}
	return nil
}

func (s *InMemory) IssueDirective(ctx context.Context, draft DirectiveDraft) (Directive, error) {
	if err := ValidateDirectiveDraft(&draft); err != nil {
		return Directive{}, err
	}
	if _, err := s.dir.Committee(ctx, draft.TargetCommitteeID); err != nil {
		return Directive{}, fmt.Errorf("%w: committee %s", ErrNotFound, draft.TargetCommitteeID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.newDirectiveLocked(draft, "")
	s.audit(ctx, "directive.issued", map[string]any{
		"directive_id":        d.ID,
		"issuer_id":           d.IssuerID,
		"target_committee_id": d.TargetCommitteeID,
	})
	return *d, nil
}

// ForwardDirective re-issues a directive down the hierarchy. The child's
// target committee must be the parent's target committee or one of its
// descendants; parents only gate upward closure, they never push status
// down to children.
func (s *InMemory) ForwardDirective(ctx context.Context, parentID string, draft DirectiveDraft) (Directive, error) {
	if err := ValidateDirectiveDraft(&draft); err != nil {
		return Directive{}, err
	}

	s.mu.Lock()
	parent, ok := s.directives[parentID]
	if !ok {
		s.mu.Unlock()
		return Directive{}, ErrNotFound
	}
	parentTarget := parent.TargetCommitteeID
	s.mu.Unlock()

	ok, err := s.dir.IsDescendant(ctx, draft.TargetCommitteeID, parentTarget)
	if err != nil {
		return Directive{}, err
	}
	if !ok {
		return Directive{}, fmt.Errorf("%w: %s is not under %s", ErrInvalidForwardingTarget, draft.TargetCommitteeID, parentTarget)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.directives[parentID]; !ok {
		return Directive{}, ErrNotFound
	}
	d := s.newDirectiveLocked(draft, parentID)
	s.children[parentID] = append(s.children[parentID], d.ID)
	s.audit(ctx, "directive.forwarded", map[string]any{
		"directive_id":        d.ID,
		"parent_directive_id": parentID,
		"target_committee_id": d.TargetCommitteeID,
	})
	return *d, nil
}

func (s *InMemory) newDirectiveLocked(draft DirectiveDraft, parentID string) *Directive {
	d := &Directive{
		ID:                ids.New(),
		Title:             draft.Title,
		IssuerID:          draft.IssuerID,
		TargetCommitteeID: draft.TargetCommitteeID,
		TargetUserID:      draft.TargetUserID,
		Priority:          draft.Priority,
		Type:              draft.Type,
		Status:            DirectiveIssued,
		Deadline:          draft.Deadline,
		ParentID:          parentID,
		IsConfidential:    draft.Confidential,
		CreatedAt:         s.now().UTC(),
	}
	s.directives[d.ID] = d
	return d
}

func (s *InMemory) GetDirective(ctx context.Context, id string) (Directive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.directives[id]
	if !ok {
		return Directive{}, ErrNotFound
	}
	return *d, nil
}

// RequestDirectiveTransition advances a directive along the monotonic chain.
// Single-stage steps are open to any actor; skipping stages requires issuer
// authority. Closure is blocked while any child directive remains open.
func (s *InMemory) RequestDirectiveTransition(ctx context.Context, id string, from, to DirectiveStatus, actor, comment string) (Directive, error) {
	if actor == "" {
		return Directive{}, fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.directives[id]
	if !ok {
		return Directive{}, ErrNotFound
	}
	if d.Status != from {
		return Directive{}, fmt.Errorf("%w: directive is %s, not %s", ErrStaleState, d.Status, from)
	}
	step, ok := DirectiveStep(from, to)
	if !ok {
		return Directive{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	if step > 1 && actor != d.IssuerID {
		return Directive{}, fmt.Errorf("%w: skipping stages requires issuer authority", ErrIllegalTransition)
	}
	if to == DirectiveClosed {
		for _, childID := range s.children[id] {
			child := s.directives[childID]
			if child != nil && child.Status != DirectiveClosed {
				return Directive{}, fmt.Errorf("%w: %s is %s", ErrChildrenNotClosed, childID, child.Status)
			}
		}
	}

	d.Status = to
	at := s.now().UTC()
	s.directiveHistory[id] = append(s.directiveHistory[id], StatusEntry{
		ID:      ids.New(),
		From:    string(from),
		To:      string(to),
		Actor:   actor,
		Comment: comment,
		At:      at,
	})
	obs.ObserveTransition(string(ItemDirective), string(from), string(to))
	s.dispatch(ctx, Event{
		Kind:     EventTransitionCompleted,
		ItemType: ItemDirective,
		ItemID:   id,
		From:     string(from),
		To:       string(to),
		Actor:    actor,
		At:       at,
	})
	s.audit(ctx, "directive.transition", map[string]any{
		"directive_id": id,
		"from":         string(from),
		"to":           string(to),
		"actor":        actor,
	})
	return *d, nil
}

func (s *InMemory) DirectiveHistory(ctx context.Context, id string) ([]StatusEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.directives[id]; !ok {
		return nil, ErrNotFound
	}
	out := make([]StatusEntry, len(s.directiveHistory[id]))
	copy(out, s.directiveHistory[id])
	return out, nil
}

func (s *InMemory) ChildDirectives(ctx context.Context, id string) ([]Directive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.directives[id]; !ok {
		return nil, ErrNotFound
	}
	var out []Directive
	for _, childID := range s.children[id] {
		if child, ok := s.directives[childID]; ok {
			out = append(out, *child)
		}
	}
	return out, nil
}
