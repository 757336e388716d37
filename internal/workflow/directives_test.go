package workflow

import (
	"context"
	"errors"
	"testing"

	"rasd.org/internal/org"
)

func TestDirectiveChainProgress(t *testing.T) {
	env := newTestEnv(t)
	s := NewInMemory(env.dir)
	ctx := context.Background()

	d, err := s.IssueDirective(ctx, DirectiveDraft{
		Title:             "Submit maintenance backlog",
		IssuerID:          "chair",
		TargetCommitteeID: env.committee.ID,
		Priority:          PriorityHigh,
		Type:              TypeCorrectiveAction,
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != DirectiveIssued {
		t.Fatalf("status=%s", d.Status)
	}

	steps := []DirectiveStatus{
		DirectiveDelivered, DirectiveAcknowledged, DirectiveInProgress,
		DirectiveImplemented, DirectiveVerified, DirectiveClosed,
	}
	from := DirectiveIssued
	for _, to := range steps {
		d, err = s.RequestDirectiveTransition(ctx, d.ID, from, to, "m1", "")
		if err != nil {
			t.Fatalf("%s -> %s: %v", from, to, err)
		}
		from = to
	}

	history, _ := s.DirectiveHistory(ctx, d.ID)
	if len(history) != len(steps) {
		t.Fatalf("expected %d history entries, got %d", len(steps), len(history))
	}
}

func TestDirectiveRegressionRejected(t *testing.T) {
	env := newTestEnv(t)
	s := NewInMemory(env.dir)
	ctx := context.Background()

	d, _ := s.IssueDirective(ctx, DirectiveDraft{Title: "Notice", IssuerID: "chair", TargetCommitteeID: env.committee.ID})
	d, _ = s.RequestDirectiveTransition(ctx, d.ID, DirectiveIssued, DirectiveDelivered, "m1", "")
	if _, err := s.RequestDirectiveTransition(ctx, d.ID, DirectiveDelivered, DirectiveIssued, "chair", ""); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestDirectiveStageJumpRequiresIssuer(t *testing.T) {
	env := newTestEnv(t)
	s := NewInMemory(env.dir)
	ctx := context.Background()

	d, _ := s.IssueDirective(ctx, DirectiveDraft{Title: "Notice", IssuerID: "chair", TargetCommitteeID: env.committee.ID})

	// A non-issuer cannot jump stages.
	if _, err := s.RequestDirectiveTransition(ctx, d.ID, DirectiveIssued, DirectiveClosed, "m1", ""); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}

	// The issuer can close directly.
	d, err := s.RequestDirectiveTransition(ctx, d.ID, DirectiveIssued, DirectiveClosed, "chair", "resolved offline")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != DirectiveClosed {
		t.Fatalf("status=%s", d.Status)
	}
}

func TestDirectiveStaleState(t *testing.T) {
	env := newTestEnv(t)
	s := NewInMemory(env.dir)
	ctx := context.Background()

	d, _ := s.IssueDirective(ctx, DirectiveDraft{Title: "Notice", IssuerID: "chair", TargetCommitteeID: env.committee.ID})
	if _, err := s.RequestDirectiveTransition(ctx, d.ID, DirectiveDelivered, DirectiveAcknowledged, "m1", ""); !errors.Is(err, ErrStaleState) {
		t.Fatalf("expected ErrStaleState, got %v", err)
	}
}

func TestForwardingTargetValidation(t *testing.T) {
	env := newTestEnv(t)
	s := NewInMemory(env.dir)
	ctx := context.Background()

	fn, err := env.dir.AddCommittee(ctx, org.Committee{Name: "Maintenance", Sector: "operations", Level: org.LevelFunctions, ParentID: env.committee.ID})
	if err != nil {
		t.Fatal(err)
	}
	other, err := env.dir.AddCommittee(ctx, org.Committee{Name: "Finance", Sector: "finance", Level: org.LevelDirectors, ParentID: env.root.ID})
	if err != nil {
		t.Fatal(err)
	}

	parent, _ := s.IssueDirective(ctx, DirectiveDraft{Title: "Audit readiness", IssuerID: "chair", TargetCommitteeID: env.committee.ID})

	// Forwarding to a descendant committee works; self is also allowed.
	child, err := s.ForwardDirective(ctx, parent.ID, DirectiveDraft{Title: "Audit readiness", IssuerID: "m1", TargetCommitteeID: fn.ID})
	if err != nil {
		t.Fatal(err)
	}
	if child.ParentID != parent.ID {
		t.Fatalf("parent not recorded: %+v", child)
	}
	if child.CreatedAt.Before(parent.CreatedAt) {
		t.Fatal("child created before parent")
	}

	// Forwarding to a sibling branch is rejected.
	if _, err := s.ForwardDirective(ctx, parent.ID, DirectiveDraft{Title: "Audit readiness", IssuerID: "m1", TargetCommitteeID: other.ID}); !errors.Is(err, ErrInvalidForwardingTarget) {
		t.Fatalf("expected ErrInvalidForwardingTarget, got %v", err)
	}
}

func TestCascadingClosure(t *testing.T) {
	env := newTestEnv(t)
	s := NewInMemory(env.dir)
	ctx := context.Background()

	fn, err := env.dir.AddCommittee(ctx, org.Committee{Name: "Maintenance", Sector: "operations", Level: org.LevelFunctions, ParentID: env.committee.ID})
	if err != nil {
		t.Fatal(err)
	}
	proc, err := env.dir.AddCommittee(ctx, org.Committee{Name: "Pump Station", Sector: "operations", Level: org.LevelProcesses, ParentID: fn.ID})
	if err != nil {
		t.Fatal(err)
	}

	d1, _ := s.IssueDirective(ctx, DirectiveDraft{Title: "Reduce downtime", IssuerID: "chair", TargetCommitteeID: env.committee.ID})
	d2, _ := s.ForwardDirective(ctx, d1.ID, DirectiveDraft{Title: "Reduce downtime", IssuerID: "m1", TargetCommitteeID: fn.ID})
	d3, _ := s.ForwardDirective(ctx, d2.ID, DirectiveDraft{Title: "Reduce downtime", IssuerID: "m1", TargetCommitteeID: proc.ID})

	// Parents cannot close while children are open.
	if _, err := s.RequestDirectiveTransition(ctx, d1.ID, DirectiveIssued, DirectiveClosed, "chair", ""); !errors.Is(err, ErrChildrenNotClosed) {
		t.Fatalf("d1: expected ErrChildrenNotClosed, got %v", err)
	}

	// Close bottom-up: d3, then d2, then d1.
	if _, err := s.RequestDirectiveTransition(ctx, d3.ID, DirectiveIssued, DirectiveClosed, "m1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RequestDirectiveTransition(ctx, d2.ID, DirectiveIssued, DirectiveClosed, "m1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RequestDirectiveTransition(ctx, d1.ID, DirectiveIssued, DirectiveClosed, "chair", ""); err != nil {
		t.Fatal(err)
	}

	children, _ := s.ChildDirectives(ctx, d1.ID)
	if len(children) != 1 || children[0].ID != d2.ID {
		t.Fatalf("unexpected children: %+v", children)
	}
}
