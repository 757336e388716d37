package main

import (
	"context"

	"rasd.org/internal/org"
)

// seedDirectory loads the baseline hierarchy into the in-memory directory,
// matching ops/migrations/seeds for the pg path.
func seedDirectory(dir *org.InMemory) error {
	ctx := context.Background()

	committees := []org.Committee{
		{ID: "cmte-top", Name: "Chairman Office", Sector: "corporate", Level: org.LevelTopLevel},
		{ID: "cmte-ops", Name: "Operations Directorate", Sector: "operations", Level: org.LevelDirectors, ParentID: "cmte-top"},
		{ID: "cmte-maint", Name: "Maintenance Function", Sector: "operations", Level: org.LevelFunctions, ParentID: "cmte-ops"},
		{ID: "cmte-pump", Name: "Pump Station Process", Sector: "operations", Level: org.LevelProcesses, ParentID: "cmte-maint"},
	}
	for _, c := range committees {
		if _, err := dir.AddCommittee(ctx, c); err != nil {
			return err
		}
	}

	memberships := []org.Membership{
		{CommitteeID: "cmte-ops", UserID: "u-head-ops", Role: org.RoleHead},
		{CommitteeID: "cmte-ops", UserID: "u-member-1", Role: org.RoleMember},
		{CommitteeID: "cmte-ops", UserID: "u-member-2", Role: org.RoleMember},
		{CommitteeID: "cmte-maint", UserID: "u-head-maint", Role: org.RoleHead},
	}
	for _, m := range memberships {
		if err := dir.AddMembership(ctx, m); err != nil {
			return err
		}
	}

	for user, rank := range map[string]int{"u-chairman": 1, "u-deputy": 2} {
		if err := dir.SetChairmanOfficeRank(ctx, user, rank); err != nil {
			return err
		}
	}
	return nil
}
