package confidential

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rasd.org/internal/org"
	"rasd.org/internal/workflow"
)

type gateEnv struct {
	dir  *org.InMemory
	wf   *workflow.InMemory
	gate *Gate
	rec  *eventRecorder
	root org.Committee
	cmte org.Committee
	rpt  workflow.Report
}

type eventRecorder struct {
	mu     sync.Mutex
	events []workflow.Event
}

func (r *eventRecorder) Dispatch(ctx context.Context, ev workflow.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) kinds() []workflow.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]workflow.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func newGateEnv(t *testing.T, opts ...Option) *gateEnv {
	t.Helper()
	ctx := context.Background()
	dir := org.NewInMemory()
	root, err := dir.AddCommittee(ctx, org.Committee{Name: "Top Level", Sector: "corporate", Level: org.LevelTopLevel})
	if err != nil {
		t.Fatal(err)
	}
	cmte, err := dir.AddCommittee(ctx, org.Committee{Name: "Operations", Sector: "operations", Level: org.LevelDirectors, ParentID: root.ID})
	if err != nil {
		t.Fatal(err)
	}
	from := time.Now().Add(-time.Hour)
	for _, m := range []org.Membership{
		{CommitteeID: cmte.ID, UserID: "head1", Role: org.RoleHead, EffectiveFrom: from},
		{CommitteeID: cmte.ID, UserID: "author", Role: org.RoleMember, EffectiveFrom: from},
	} {
		if err := dir.AddMembership(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	wf := workflow.NewInMemory(dir)
	rpt, err := wf.CreateReport(ctx, workflow.ReportDraft{Title: "Incident review", AuthorID: "author", CommitteeID: cmte.ID})
	if err != nil {
		t.Fatal(err)
	}

	rec := &eventRecorder{}
	gate := NewGate(NewInMemoryStore(), dir, wf, append([]Option{WithDispatcher(rec)}, opts...)...)
	return &gateEnv{dir: dir, wf: wf, gate: gate, rec: rec, root: root, cmte: cmte, rpt: rpt}
}

func TestUnmarkedItemIsVisible(t *testing.T) {
	env := newGateEnv(t)
	ok, err := env.gate.CanView(context.Background(), workflow.ItemReport, env.rpt.ID, "stranger")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestMarkingHidesFromStrangers(t *testing.T) {
	env := newGateEnv(t)
	ctx := context.Background()

	if _, err := env.gate.Mark(ctx, workflow.ItemReport, env.rpt.ID, "head1", env.cmte.ID, "personnel details", nil); err != nil {
		t.Fatal(err)
	}

	err := env.gate.Authorize(ctx, workflow.ItemReport, env.rpt.ID, "stranger")
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	// The denial must not leak the marking reason.
	if err != nil && err.Error() != "confidential: access denied" {
		t.Fatalf("denial leaks detail: %q", err.Error())
	}
}

func TestAuthorAlwaysSeesOwnDocument(t *testing.T) {
	env := newGateEnv(t)
	ctx := context.Background()
	if _, err := env.gate.Mark(ctx, workflow.ItemReport, env.rpt.ID, "head1", env.cmte.ID, "sensitive", nil); err != nil {
		t.Fatal(err)
	}
	if err := env.gate.Authorize(ctx, workflow.ItemReport, env.rpt.ID, "author"); err != nil {
		t.Fatal(err)
	}
}

func TestMarkerCommitteeHeadSees(t *testing.T) {
	env := newGateEnv(t)
	ctx := context.Background()
	if _, err := env.gate.Mark(ctx, workflow.ItemReport, env.rpt.ID, "author", env.cmte.ID, "sensitive", nil); err != nil {
		t.Fatal(err)
	}
	if err := env.gate.Authorize(ctx, workflow.ItemReport, env.rpt.ID, "head1"); err != nil {
		t.Fatal(err)
	}
}

func TestGrantOverridesMarking(t *testing.T) {
	env := newGateEnv(t)
	ctx := context.Background()
	if _, err := env.gate.Mark(ctx, workflow.ItemReport, env.rpt.ID, "head1", env.cmte.ID, "sensitive", nil); err != nil {
		t.Fatal(err)
	}
	if err := env.gate.Authorize(ctx, workflow.ItemReport, env.rpt.ID, "auditor"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}

	if _, err := env.gate.Grant(ctx, workflow.ItemReport, env.rpt.ID, "auditor", "head1", "external audit"); err != nil {
		t.Fatal(err)
	}
	if err := env.gate.Authorize(ctx, workflow.ItemReport, env.rpt.ID, "auditor"); err != nil {
		t.Fatal(err)
	}

	kinds := env.rec.kinds()
	if len(kinds) != 2 || kinds[0] != workflow.EventConfidentialityMarked || kinds[1] != workflow.EventAccessGranted {
		t.Fatalf("unexpected events: %v", kinds)
	}
}

func TestRegrantRefreshesInsteadOfDuplicating(t *testing.T) {
	env := newGateEnv(t)
	ctx := context.Background()
	if _, err := env.gate.Mark(ctx, workflow.ItemReport, env.rpt.ID, "head1", env.cmte.ID, "sensitive", nil); err != nil {
		t.Fatal(err)
	}

	first, err := env.gate.Grant(ctx, workflow.ItemReport, env.rpt.ID, "auditor", "head1", "initial")
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.gate.Grant(ctx, workflow.ItemReport, env.rpt.ID, "auditor", "head1", "renewed")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Fatalf("re-grant created a new row: %s != %s", first.ID, second.ID)
	}
	if second.Reason != "renewed" {
		t.Fatalf("reason not refreshed: %q", second.Reason)
	}
	grants, _ := env.gate.Grants(ctx, workflow.ItemReport, env.rpt.ID)
	if len(grants) != 1 {
		t.Fatalf("expected 1 grant, got %d", len(grants))
	}
	// Only the first grant emits an event.
	if kinds := env.rec.kinds(); len(kinds) != 2 {
		t.Fatalf("unexpected events: %v", kinds)
	}
}

func TestRankThresholdInclusive(t *testing.T) {
	env := newGateEnv(t)
	ctx := context.Background()
	if err := env.dir.SetChairmanOfficeRank(ctx, "deputy", 3); err != nil {
		t.Fatal(err)
	}
	if err := env.dir.SetChairmanOfficeRank(ctx, "aide", 5); err != nil {
		t.Fatal(err)
	}

	minRank := 3
	if _, err := env.gate.Mark(ctx, workflow.ItemReport, env.rpt.ID, "head1", env.cmte.ID, "board eyes only", &minRank); err != nil {
		t.Fatal(err)
	}

	// Rank 3 matches the threshold and passes; rank 5 is below and does not.
	if err := env.gate.Authorize(ctx, workflow.ItemReport, env.rpt.ID, "deputy"); err != nil {
		t.Fatal(err)
	}
	if err := env.gate.Authorize(ctx, workflow.ItemReport, env.rpt.ID, "aide"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
}

func TestRankThresholdStrict(t *testing.T) {
	env := newGateEnv(t, WithStrictRank(true))
	ctx := context.Background()
	if err := env.dir.SetChairmanOfficeRank(ctx, "deputy", 3); err != nil {
		t.Fatal(err)
	}
	if err := env.dir.SetChairmanOfficeRank(ctx, "chief", 2); err != nil {
		t.Fatal(err)
	}

	minRank := 3
	if _, err := env.gate.Mark(ctx, workflow.ItemReport, env.rpt.ID, "head1", env.cmte.ID, "board eyes only", &minRank); err != nil {
		t.Fatal(err)
	}

	// Under the strict gate a rank equal to the threshold is not enough.
	if err := env.gate.Authorize(ctx, workflow.ItemReport, env.rpt.ID, "deputy"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if err := env.gate.Authorize(ctx, workflow.ItemReport, env.rpt.ID, "chief"); err != nil {
		t.Fatal(err)
	}
}

func TestRemarkingSupersedes(t *testing.T) {
	env := newGateEnv(t)
	ctx := context.Background()

	minRank := 2
	if _, err := env.gate.Mark(ctx, workflow.ItemReport, env.rpt.ID, "head1", env.cmte.ID, "tight", &minRank); err != nil {
		t.Fatal(err)
	}
	if err := env.dir.SetChairmanOfficeRank(ctx, "deputy", 3); err != nil {
		t.Fatal(err)
	}
	if err := env.gate.Authorize(ctx, workflow.ItemReport, env.rpt.ID, "deputy"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}

	looser := 4
	if _, err := env.gate.Mark(ctx, workflow.ItemReport, env.rpt.ID, "head1", env.cmte.ID, "relaxed", &looser); err != nil {
		t.Fatal(err)
	}
	if err := env.gate.Authorize(ctx, workflow.ItemReport, env.rpt.ID, "deputy"); err != nil {
		t.Fatal(err)
	}

	m, ok, err := env.gate.ActiveMarking(ctx, workflow.ItemReport, env.rpt.ID)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if m.Reason != "relaxed" || m.MinChairmanOfficeRank == nil || *m.MinChairmanOfficeRank != 4 {
		t.Fatalf("old marking still active: %+v", m)
	}
}

func TestMarkValidation(t *testing.T) {
	env := newGateEnv(t)
	ctx := context.Background()

	if _, err := env.gate.Mark(ctx, workflow.ItemReport, env.rpt.ID, "head1", env.cmte.ID, "  ", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank reason, got %v", err)
	}
	bad := 0
	if _, err := env.gate.Mark(ctx, workflow.ItemReport, env.rpt.ID, "head1", env.cmte.ID, "x", &bad); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for rank 0, got %v", err)
	}
	if _, err := env.gate.Mark(ctx, workflow.ItemReport, "missing", "head1", env.cmte.ID, "x", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown item, got %v", err)
	}
	if _, err := env.gate.Mark(ctx, workflow.ItemReport, env.rpt.ID, "head1", "missing", "x", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown committee, got %v", err)
	}
}

func TestGrantRequiresActiveMarking(t *testing.T) {
	env := newGateEnv(t)
	if _, err := env.gate.Grant(context.Background(), workflow.ItemReport, env.rpt.ID, "auditor", "head1", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
