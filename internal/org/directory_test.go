package org

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedHierarchy(t *testing.T, d *InMemory) (root, dir, fn Committee) {
	t.Helper()
	ctx := context.Background()
	root, err := d.AddCommittee(ctx, Committee{Name: "Chairman Office", Sector: "corporate", Level: LevelTopLevel})
	if err != nil {
		t.Fatal(err)
	}
	dir, err = d.AddCommittee(ctx, Committee{Name: "Operations", Sector: "operations", Level: LevelDirectors, ParentID: root.ID})
	if err != nil {
		t.Fatal(err)
	}
	fn, err = d.AddCommittee(ctx, Committee{Name: "Maintenance", Sector: "operations", Level: LevelFunctions, ParentID: dir.ID})
	if err != nil {
		t.Fatal(err)
	}
	return root, dir, fn
}

func TestAddCommitteeLevelValidation(t *testing.T) {
	d := NewInMemory()
	ctx := context.Background()
	root, _, _ := seedHierarchy(t, d)

	// Skipping a level is rejected.
	_, err := d.AddCommittee(ctx, Committee{Name: "Shortcut", Level: LevelFunctions, ParentID: root.ID})
	if !errors.Is(err, ErrInvalidHierarchy) {
		t.Fatalf("expected ErrInvalidHierarchy, got %v", err)
	}

	// A second root below top level is rejected.
	_, err = d.AddCommittee(ctx, Committee{Name: "Floating", Level: LevelDirectors})
	if !errors.Is(err, ErrInvalidHierarchy) {
		t.Fatalf("expected ErrInvalidHierarchy, got %v", err)
	}

	// Unknown parent.
	_, err = d.AddCommittee(ctx, Committee{Name: "Orphan", Level: LevelDirectors, ParentID: "missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIsDescendant(t *testing.T) {
	d := NewInMemory()
	ctx := context.Background()
	root, dir, fn := seedHierarchy(t, d)

	cases := []struct {
		child, ancestor string
		want            bool
	}{
		{fn.ID, root.ID, true},
		{fn.ID, dir.ID, true},
		{fn.ID, fn.ID, true}, // self counts
		{dir.ID, fn.ID, false},
		{root.ID, dir.ID, false},
	}
	for _, tc := range cases {
		got, err := d.IsDescendant(ctx, tc.child, tc.ancestor)
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Fatalf("IsDescendant(%s, %s)=%v, want %v", tc.child, tc.ancestor, got, tc.want)
		}
	}
}

func TestActiveMembersRespectsWindows(t *testing.T) {
	d := NewInMemory()
	ctx := context.Background()
	_, dir, _ := seedHierarchy(t, d)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d.SetClock(func() time.Time { return now })

	if err := d.AddMembership(ctx, Membership{CommitteeID: dir.ID, UserID: "u1", Role: RoleHead, EffectiveFrom: now.Add(-time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if err := d.AddMembership(ctx, Membership{CommitteeID: dir.ID, UserID: "u2", Role: RoleMember, EffectiveFrom: now.Add(-time.Hour)}); err != nil {
		t.Fatal(err)
	}
	// Not yet effective.
	if err := d.AddMembership(ctx, Membership{CommitteeID: dir.ID, UserID: "u3", Role: RoleMember, EffectiveFrom: now.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	members, err := d.ActiveMembers(ctx, dir.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 active members, got %d", len(members))
	}

	if err := d.EndMembership(ctx, dir.ID, "u2"); err != nil {
		t.Fatal(err)
	}
	now = now.Add(time.Minute)
	members, err = d.ActiveMembers(ctx, dir.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 1 || members[0].UserID != "u1" {
		t.Fatalf("expected only u1 active, got %+v", members)
	}

	ok, err := d.IsHead(ctx, dir.ID, "u1")
	if err != nil || !ok {
		t.Fatalf("expected u1 to be head: %v %v", ok, err)
	}
	ok, _ = d.IsHead(ctx, dir.ID, "u2")
	if ok {
		t.Fatal("ended membership still reported as head")
	}
}

func TestChairmanOfficeRank(t *testing.T) {
	d := NewInMemory()
	ctx := context.Background()

	if err := d.SetChairmanOfficeRank(ctx, "u1", 2); err != nil {
		t.Fatal(err)
	}
	if err := d.SetChairmanOfficeRank(ctx, "u1", 0); err == nil {
		t.Fatal("expected rank validation error")
	}

	rank, ok, err := d.ChairmanOfficeRank(ctx, "u1")
	if err != nil || !ok || rank != 2 {
		t.Fatalf("rank lookup failed: %d %v %v", rank, ok, err)
	}
	_, ok, _ = d.ChairmanOfficeRank(ctx, "nobody")
	if ok {
		t.Fatal("unexpected rank for unknown user")
	}
}
