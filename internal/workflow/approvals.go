package workflow

import (
	"context"
	"fmt"

	"rasd.org/internal/ids"
	"rasd.org/internal/obs"
	"rasd.org/internal/org"
)

// RecordApproval stores one member's sign-off on a submitted report. The
// call is idempotent per (report, user): a duplicate returns the existing
// approval without a new history entry, which keeps double-submission races
// harmless. When the recorded approval completes the quorum, the report
// auto-advances to approved inside the same critical section.
func (s *InMemory) RecordApproval(ctx context.Context, reportID, userID, comment string) (Approval, error) {
	if reportID == "" || userID == "" {
		return Approval{}, fmt.Errorf("%w: report_id and user_id are required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[reportID]
	if !ok {
		return Approval{}, ErrNotFound
	}
	if r.SkipApprovals {
		return Approval{}, fmt.Errorf("%w: report skips collective approval", ErrIllegalTransition)
	}
	if r.Status != ReportSubmitted {
		return Approval{}, fmt.Errorf("%w: report is %s, approvals apply to submitted reports", ErrIllegalTransition, r.Status)
	}

	members, err := s.dir.ActiveMembers(ctx, r.CommitteeID)
	if err != nil {
		return Approval{}, err
	}
	if !isActiveMember(members, userID) {
		return Approval{}, ErrNotAMember
	}

	for _, a := range s.approvals[reportID] {
		if a.UserID == userID {
			return a, nil
		}
	}

	approval := Approval{
		ID:        ids.New(),
		ReportID:  reportID,
		UserID:    userID,
		Comment:   comment,
		CreatedAt: s.now().UTC(),
	}
	s.approvals[reportID] = append(s.approvals[reportID], approval)
	obs.ObserveApproval()
	s.audit(ctx, "report.approval", map[string]any{
		"report_id": reportID,
		"user_id":   userID,
	})

	// Quorum check and auto-transition share the critical section so two
	// concurrent final approvals cannot both fire it.
	met, err := s.quorumMetLocked(ctx, r)
	if err != nil {
		return Approval{}, err
	}
	if met {
		s.commitReportLocked(ctx, r, ReportSubmitted, ReportApproved, SystemActor, "All members approved")
	}
	return approval, nil
}

func (s *InMemory) ListApprovals(ctx context.Context, reportID string) ([]Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[reportID]; !ok {
		return nil, ErrNotFound
	}
	out := make([]Approval, len(s.approvals[reportID]))
	copy(out, s.approvals[reportID])
	return out, nil
}

// quorumMetLocked reports whether every user in the quorum population has an
// approval on file. An empty population never satisfies the quorum.
func (s *InMemory) quorumMetLocked(ctx context.Context, r *Report) (bool, error) {
	members, err := s.dir.ActiveMembers(ctx, r.CommitteeID)
	if err != nil {
		return false, err
	}
	population := quorumPopulation(members, s.quorum)
	if len(population) == 0 {
		return false, nil
	}
	approved := make(map[string]struct{}, len(s.approvals[r.ID]))
	for _, a := range s.approvals[r.ID] {
		approved[a.UserID] = struct{}{}
	}
	for userID := range population {
		if _, ok := approved[userID]; !ok {
			return false, nil
		}
	}
	return true, nil
}

func quorumPopulation(members []org.Membership, policy QuorumPolicy) map[string]struct{} {
	population := make(map[string]struct{}, len(members))
	for _, m := range members {
		if policy == QuorumHeadsOnly && m.Role != org.RoleHead {
			continue
		}
		population[m.UserID] = struct{}{}
	}
	return population
}

func isActiveMember(members []org.Membership, userID string) bool {
	for _, m := range members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}
