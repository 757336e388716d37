package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rasd.org/internal/org"
)

// testEnv bundles a directory with one directors-level committee and its
// three active members (m1 is head).
type testEnv struct {
	dir       *org.InMemory
	root      org.Committee
	committee org.Committee
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	dir := org.NewInMemory()
	root, err := dir.AddCommittee(ctx, org.Committee{Name: "Top Level", Sector: "corporate", Level: org.LevelTopLevel})
	if err != nil {
		t.Fatal(err)
	}
	committee, err := dir.AddCommittee(ctx, org.Committee{Name: "Operations", Sector: "operations", Level: org.LevelDirectors, ParentID: root.ID})
	if err != nil {
		t.Fatal(err)
	}
	from := time.Now().Add(-time.Hour)
	for _, m := range []org.Membership{
		{CommitteeID: committee.ID, UserID: "m1", Role: org.RoleHead, EffectiveFrom: from},
		{CommitteeID: committee.ID, UserID: "m2", Role: org.RoleMember, EffectiveFrom: from},
		{CommitteeID: committee.ID, UserID: "m3", Role: org.RoleMember, EffectiveFrom: from},
	} {
		if err := dir.AddMembership(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	return &testEnv{dir: dir, root: root, committee: committee}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Dispatch(ctx context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func TestReportLifecycle(t *testing.T) {
	env := newTestEnv(t)
	rec := &eventRecorder{}
	s := NewInMemory(env.dir, WithDispatcher(rec))
	ctx := context.Background()

	r, err := s.CreateReport(ctx, draftFor(env))
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != ReportStatusDraft || r.Version != 1 {
		t.Fatalf("unexpected new report: %+v", r)
	}

	r, err = s.RequestReportTransition(ctx, r.ID, ReportStatusDraft, ReportSubmitted, "m2", "quarterly report")
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != ReportSubmitted {
		t.Fatalf("status=%s", r.Status)
	}

	history, err := s.ReportHistory(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].From != "draft" || history[0].To != "submitted" {
		t.Fatalf("unexpected history: %+v", history)
	}

	events := rec.all()
	if len(events) != 1 || events[0].Kind != EventTransitionCompleted || events[0].ItemType != ItemReport {
		t.Fatalf("unexpected events: %+v", events)
	}
}

// draftFor builds the standard draft for the shared test committee.
func draftFor(env *testEnv) ReportDraft {
	return ReportDraft{Title: "Quarterly Accountability Report", AuthorID: "m2", CommitteeID: env.committee.ID}
}

func TestTransitionStalePrecondition(t *testing.T) {
	env := newTestEnv(t)
	s := NewInMemory(env.dir)
	ctx := context.Background()

	r, _ := s.CreateReport(ctx, draftFor(env))
	if _, err := s.RequestReportTransition(ctx, r.ID, ReportSubmitted, ReportApproved, "m2", ""); !errors.Is(err, ErrStaleState) {
		t.Fatalf("expected ErrStaleState, got %v", err)
	}
	// Failed call must leave the document untouched.
	got, _ := s.GetReport(ctx, r.ID)
	if got.Status != ReportStatusDraft {
		t.Fatalf("status mutated to %s", got.Status)
	}
	history, _ := s.ReportHistory(ctx, r.ID)
	if len(history) != 0 {
		t.Fatalf("history written on failed transition: %+v", history)
	}
}

func TestTransitionIllegalEdge(t *testing.T) {
	env := newTestEnv(t)
	s := NewInMemory(env.dir)
	ctx := context.Background()

	r, _ := s.CreateReport(ctx, draftFor(env))
	if _, err := s.RequestReportTransition(ctx, r.ID, ReportStatusDraft, ReportSummarized, "m2", ""); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestApprovedGatedOnQuorum(t *testing.T) {
	env := newTestEnv(t)
	s := NewInMemory(env.dir)
	ctx := context.Background()

	r, _ := s.CreateReport(ctx, draftFor(env))
	r, _ = s.RequestReportTransition(ctx, r.ID, ReportStatusDraft, ReportSubmitted, "m2", "")

	if _, err := s.RequestReportTransition(ctx, r.ID, ReportSubmitted, ReportApproved, "m1", ""); !errors.Is(err, ErrApprovalsPending) {
		t.Fatalf("expected ErrApprovalsPending, got %v", err)
	}
}

func TestSkipApprovalsShortcut(t *testing.T) {
	env := newTestEnv(t)
	s := NewInMemory(env.dir)
	ctx := context.Background()

	draft := draftFor(env)
	draft.SkipApprovals = true
	r, _ := s.CreateReport(ctx, draft)

	r, err := s.RequestReportTransition(ctx, r.ID, ReportStatusDraft, ReportApproved, "m1", "approved immediately")
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != ReportApproved {
		t.Fatalf("status=%s", r.Status)
	}
	history, _ := s.ReportHistory(ctx, r.ID)
	if len(history) != 1 {
		t.Fatalf("expected a single synthetic history entry, got %d", len(history))
	}
	approvals, _ := s.ListApprovals(ctx, r.ID)
	if len(approvals) != 0 {
		t.Fatalf("skip-approvals report accumulated approvals: %+v", approvals)
	}
}

func TestReviseReport(t *testing.T) {
	env := newTestEnv(t)
	s := NewInMemory(env.dir)
	ctx := context.Background()

	r, _ := s.CreateReport(ctx, draftFor(env))
	r, _ = s.RequestReportTransition(ctx, r.ID, ReportStatusDraft, ReportSubmitted, "m2", "")
	r, err := s.RequestReportTransition(ctx, r.ID, ReportSubmitted, ReportFeedbackRequested, "m1", "needs detail")
	if err != nil {
		t.Fatal(err)
	}

	rev, err := s.ReviseReport(ctx, r.ID, "m2", "addressed feedback")
	if err != nil {
		t.Fatal(err)
	}
	if rev.Version != 2 || rev.OriginalReportID != r.ID || rev.Status != ReportSubmitted {
		t.Fatalf("unexpected revision: %+v", rev)
	}

	// The original keeps its status; revising again forks another version.
	orig, _ := s.GetReport(ctx, r.ID)
	if orig.Status != ReportFeedbackRequested {
		t.Fatalf("original mutated: %s", orig.Status)
	}

	// A submitted report cannot be revised.
	if _, err := s.ReviseReport(ctx, rev.ID, "m2", ""); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestHistoryFormsValidWalk(t *testing.T) {
	env := newTestEnv(t)
	s := NewInMemory(env.dir)
	ctx := context.Background()

	r, _ := s.CreateReport(ctx, draftFor(env))
	r, _ = s.RequestReportTransition(ctx, r.ID, ReportStatusDraft, ReportSubmitted, "m2", "")
	for _, u := range []string{"m1", "m2", "m3"} {
		if _, err := s.RecordApproval(ctx, r.ID, u, ""); err != nil {
			t.Fatal(err)
		}
	}
	r, _ = s.GetReport(ctx, r.ID)
	if _, err := s.RequestReportTransition(ctx, r.ID, ReportApproved, ReportSummarized, "m1", "rolled up"); err != nil {
		t.Fatal(err)
	}

	history, _ := s.ReportHistory(ctx, r.ID)
	if len(history) == 0 {
		t.Fatal("expected history for a non-draft report")
	}
	prev := ReportStatusDraft
	for i, entry := range history {
		if ReportStatus(entry.From) != prev {
			t.Fatalf("entry %d does not chain: %+v", i, entry)
		}
		if !ReportTransitionAllowed(ReportStatus(entry.From), ReportStatus(entry.To)) {
			t.Fatalf("entry %d is not a legal edge: %+v", i, entry)
		}
		if i > 0 && entry.At.Before(history[i-1].At) {
			t.Fatalf("history not time-ordered at %d", i)
		}
		prev = ReportStatus(entry.To)
	}
	if prev != ReportSummarized {
		t.Fatalf("walk ended at %s", prev)
	}
}

func TestItemOwner(t *testing.T) {
	env := newTestEnv(t)
	s := NewInMemory(env.dir)
	ctx := context.Background()

	r, _ := s.CreateReport(ctx, draftFor(env))
	owner, err := s.ItemOwner(ctx, ItemReport, r.ID)
	if err != nil || owner != "m2" {
		t.Fatalf("owner=%q err=%v", owner, err)
	}
	d, _ := s.IssueDirective(ctx, DirectiveDraft{Title: "Inspect", IssuerID: "m1", TargetCommitteeID: env.committee.ID})
	owner, err = s.ItemOwner(ctx, ItemDirective, d.ID)
	if err != nil || owner != "m1" {
		t.Fatalf("owner=%q err=%v", owner, err)
	}
	if _, err := s.ItemOwner(ctx, ItemReport, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
