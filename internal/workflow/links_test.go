package workflow

import (
	"context"
	"errors"
	"testing"
)

func threeReports(t *testing.T, s *InMemory, env *testEnv) (a, b, c Report) {
	t.Helper()
	ctx := context.Background()
	var err error
	if a, err = s.CreateReport(ctx, draftFor(env)); err != nil {
		t.Fatal(err)
	}
	if b, err = s.CreateReport(ctx, draftFor(env)); err != nil {
		t.Fatal(err)
	}
	if c, err = s.CreateReport(ctx, draftFor(env)); err != nil {
		t.Fatal(err)
	}
	return a, b, c
}

func TestLinkSourceAndResolve(t *testing.T) {
	env := newTestEnv(t)
	s := NewInMemory(env.dir)
	ctx := context.Background()
	summary, src1, src2 := threeReports(t, s, env)

	if _, err := s.LinkSource(ctx, summary.ID, src1.ID, "ops section"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LinkSource(ctx, summary.ID, src2.ID, "maintenance section"); err != nil {
		t.Fatal(err)
	}

	links, err := s.ResolveSources(ctx, summary.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %d", len(links))
	}
	// Creation order is preserved.
	if links[0].SourceReportID != src1.ID || links[1].SourceReportID != src2.ID {
		t.Fatalf("links out of order: %+v", links)
	}
}

func TestDuplicateLinkRejected(t *testing.T) {
	env := newTestEnv(t)
	s := NewInMemory(env.dir)
	ctx := context.Background()
	summary, src, _ := threeReports(t, s, env)

	if _, err := s.LinkSource(ctx, summary.ID, src.ID, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LinkSource(ctx, summary.ID, src.ID, "again"); !errors.Is(err, ErrDuplicateLink) {
		t.Fatalf("expected ErrDuplicateLink, got %v", err)
	}
}

func TestLinkCycleRejected(t *testing.T) {
	env := newTestEnv(t)
	s := NewInMemory(env.dir)
	ctx := context.Background()
	a, b, c := threeReports(t, s, env)

	if _, err := s.LinkSource(ctx, a.ID, b.ID, ""); err != nil {
		t.Fatal(err)
	}
	// Direct cycle: B summarising A.
	if _, err := s.LinkSource(ctx, b.ID, a.ID, ""); !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
	// Transitive cycle: A -> B -> C, then C summarising A.
	if _, err := s.LinkSource(ctx, b.ID, c.ID, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LinkSource(ctx, c.ID, a.ID, ""); !errors.Is(err, ErrCycle) {
		t.Fatalf("expected transitive ErrCycle, got %v", err)
	}
	// Self link.
	if _, err := s.LinkSource(ctx, a.ID, a.ID, ""); !errors.Is(err, ErrCycle) {
		t.Fatalf("expected self ErrCycle, got %v", err)
	}
}

func TestLinkUnknownReports(t *testing.T) {
	env := newTestEnv(t)
	s := NewInMemory(env.dir)
	ctx := context.Background()
	summary, _, _ := threeReports(t, s, env)

	if _, err := s.LinkSource(ctx, summary.ID, "missing", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.ResolveSources(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
