package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"rasd.org/internal/ids"
	"rasd.org/internal/obs"
	"rasd.org/internal/workflow"
)

// RecordApproval stores one member's sign-off. The row lock on the report
// serializes concurrent approvals so the quorum auto-transition fires exactly
// once; the unique (report_id, user_id) constraint backs up idempotency.
func (s *Store) RecordApproval(ctx context.Context, reportID, userID, comment string) (workflow.Approval, error) {
	if reportID == "" || userID == "" {
		return workflow.Approval{}, fmt.Errorf("%w: report_id and user_id are required", workflow.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return workflow.Approval{}, err
	}
	defer func() { _ = tx.Rollback() }()

	r, err := scanReport(tx.QueryRowContext(ctx, `select `+reportColumns+` from reports where id=$1 for update`, reportID))
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.Approval{}, workflow.ErrNotFound
	}
	if err != nil {
		return workflow.Approval{}, err
	}
	if r.SkipApprovals {
		return workflow.Approval{}, fmt.Errorf("%w: report skips collective approval", workflow.ErrIllegalTransition)
	}
	if r.Status != workflow.ReportSubmitted {
		return workflow.Approval{}, fmt.Errorf("%w: report is %s, approvals apply to submitted reports", workflow.ErrIllegalTransition, r.Status)
	}

	var member bool
	if err := tx.QueryRowContext(ctx, `
		select exists (
			select 1 from committee_memberships
			where committee_id=$1 and user_id=$2
			  and effective_from <= now()
			  and (effective_until is null or effective_until > now())
		)
	`, r.CommitteeID, userID).Scan(&member); err != nil {
		return workflow.Approval{}, err
	}
	if !member {
		return workflow.Approval{}, workflow.ErrNotAMember
	}

	// Idempotency: hand back the existing row on a duplicate.
	var existing workflow.Approval
	err = tx.QueryRowContext(ctx, `
		select id, report_id, user_id, coalesce(comment,''), created_at
		from report_approvals where report_id=$1 and user_id=$2
	`, reportID, userID).Scan(&existing.ID, &existing.ReportID, &existing.UserID, &existing.Comment, &existing.CreatedAt)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return workflow.Approval{}, err
	}

	approval := workflow.Approval{
		ID:        ids.New(),
		ReportID:  reportID,
		UserID:    userID,
		Comment:   comment,
		CreatedAt: s.now().UTC(),
	}
	if _, err := tx.ExecContext(ctx, `
		insert into report_approvals(id, report_id, user_id, comment, created_at)
		values ($1,$2,$3,nullif($4,''),$5)
	`, approval.ID, approval.ReportID, approval.UserID, approval.Comment, approval.CreatedAt); err != nil {
		return workflow.Approval{}, err
	}

	met, err := s.quorumMet(ctx, tx, reportID, r.CommitteeID)
	if err != nil {
		return workflow.Approval{}, err
	}
	at := s.now().UTC()
	if met {
		if err := s.commitReportTx(ctx, tx, reportID, workflow.ReportSubmitted, workflow.ReportApproved, workflow.SystemActor, "All members approved", at); err != nil {
			return workflow.Approval{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return workflow.Approval{}, err
	}

	obs.ObserveApproval()
	s.audit(ctx, "report.approval", map[string]any{
		"report_id": reportID,
		"user_id":   userID,
	})
	if met {
		s.reportTransitionCommitted(ctx, reportID, string(workflow.ReportSubmitted), string(workflow.ReportApproved), workflow.SystemActor, at)
	}
	return approval, nil
}

func (s *Store) ListApprovals(ctx context.Context, reportID string) ([]workflow.Approval, error) {
	if err := s.reportExists(ctx, reportID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, report_id, user_id, coalesce(comment,''), created_at
		from report_approvals where report_id=$1 order by created_at asc, id asc
	`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []workflow.Approval
	for rows.Next() {
		var a workflow.Approval
		if err := rows.Scan(&a.ID, &a.ReportID, &a.UserID, &a.Comment, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// quorumMet checks whether every user in the quorum population holds an
// approval. An empty population never satisfies the quorum.
func (s *Store) quorumMet(ctx context.Context, tx *sql.Tx, reportID, committeeID string) (bool, error) {
	roleFilter := ``
	if s.quorum == workflow.QuorumHeadsOnly {
		roleFilter = ` and m.role='head'`
	}
	var population, missing int
	err := tx.QueryRowContext(ctx, `
		with members as (
			select distinct m.user_id
			from committee_memberships m
			where m.committee_id=$1
			  and m.effective_from <= now()
			  and (m.effective_until is null or m.effective_until > now())`+roleFilter+`
		)
		select
			(select count(*) from members),
			(select count(*) from members
			 where user_id not in (select user_id from report_approvals where report_id=$2))
	`, committeeID, reportID).Scan(&population, &missing)
	if err != nil {
		return false, err
	}
	return population > 0 && missing == 0, nil
}
