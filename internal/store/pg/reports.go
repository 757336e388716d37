package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"rasd.org/internal/ids"
	"rasd.org/internal/obs"
	"rasd.org/internal/workflow"
)

const reportColumns = `id, title, author_id, committee_id, status, is_confidential, skip_approvals, version, coalesce(original_report_id,''), created_at`

func scanReport(row interface{ Scan(...any) error }) (workflow.Report, error) {
	var r workflow.Report
	var status string
	err := row.Scan(&r.ID, &r.Title, &r.AuthorID, &r.CommitteeID, &status,
		&r.IsConfidential, &r.SkipApprovals, &r.Version, &r.OriginalReportID, &r.CreatedAt)
	if err != nil {
		return workflow.Report{}, err
	}
	r.Status = workflow.ReportStatus(status)
	return r, nil
}

func (s *Store) CreateReport(ctx context.Context, draft workflow.ReportDraft) (workflow.Report, error) {
	draft.Title = strings.TrimSpace(draft.Title)
	if draft.Title == "" {
		return workflow.Report{}, fmt.Errorf("%w: title is required", workflow.ErrInvalidInput)
	}
	if draft.AuthorID == "" || draft.CommitteeID == "" {
		return workflow.Report{}, fmt.Errorf("%w: author_id and committee_id are required", workflow.ErrInvalidInput)
	}

	r := workflow.Report{
		ID:             ids.New(),
		Title:          draft.Title,
		AuthorID:       draft.AuthorID,
		CommitteeID:    draft.CommitteeID,
		Status:         workflow.ReportStatusDraft,
		IsConfidential: draft.Confidential,
		SkipApprovals:  draft.SkipApprovals,
		Version:        1,
		CreatedAt:      s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		insert into reports(id, title, author_id, committee_id, status, is_confidential, skip_approvals, version, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, r.ID, r.Title, r.AuthorID, r.CommitteeID, string(r.Status), r.IsConfidential, r.SkipApprovals, r.Version, r.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return workflow.Report{}, fmt.Errorf("%w: committee %s", workflow.ErrNotFound, draft.CommitteeID)
		}
		return workflow.Report{}, err
	}
	s.audit(ctx, "report.created", map[string]any{
		"report_id":    r.ID,
		"committee_id": r.CommitteeID,
		"author_id":    r.AuthorID,
	})
	return r, nil
}

func (s *Store) GetReport(ctx context.Context, id string) (workflow.Report, error) {
	r, err := scanReport(s.db.QueryRowContext(ctx, `select `+reportColumns+` from reports where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.Report{}, workflow.ErrNotFound
	}
	return r, err
}

func (s *Store) RequestReportTransition(ctx context.Context, id string, from, to workflow.ReportStatus, actor, comment string) (workflow.Report, error) {
	if !workflow.ReportStatusValid(from) || !workflow.ReportStatusValid(to) {
		return workflow.Report{}, fmt.Errorf("%w: unknown status", workflow.ErrInvalidInput)
	}
	if actor == "" {
		return workflow.Report{}, fmt.Errorf("%w: actor is required", workflow.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return workflow.Report{}, err
	}
	defer func() { _ = tx.Rollback() }()

	r, err := scanReport(tx.QueryRowContext(ctx, `select `+reportColumns+` from reports where id=$1 for update`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.Report{}, workflow.ErrNotFound
	}
	if err != nil {
		return workflow.Report{}, err
	}
	if r.Status != from {
		return workflow.Report{}, fmt.Errorf("%w: report is %s, not %s", workflow.ErrStaleState, r.Status, from)
	}
	if !workflow.ReportTransitionAllowed(from, to) {
		if !(r.SkipApprovals && from == workflow.ReportStatusDraft && to == workflow.ReportApproved) {
			return workflow.Report{}, fmt.Errorf("%w: %s -> %s", workflow.ErrIllegalTransition, from, to)
		}
	}
	if to == workflow.ReportApproved && !r.SkipApprovals {
		met, err := s.quorumMet(ctx, tx, r.ID, r.CommitteeID)
		if err != nil {
			return workflow.Report{}, err
		}
		if !met {
			return workflow.Report{}, workflow.ErrApprovalsPending
		}
	}

	at := s.now().UTC()
	if err := s.commitReportTx(ctx, tx, id, from, to, actor, comment, at); err != nil {
		return workflow.Report{}, err
	}
	if err := tx.Commit(); err != nil {
		return workflow.Report{}, err
	}
	r.Status = to
	s.reportTransitionCommitted(ctx, id, string(from), string(to), actor, at)
	return r, nil
}

func (s *Store) ReviseReport(ctx context.Context, originalID, actor, comment string) (workflow.Report, error) {
	if actor == "" {
		return workflow.Report{}, fmt.Errorf("%w: actor is required", workflow.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return workflow.Report{}, err
	}
	defer func() { _ = tx.Rollback() }()

	orig, err := scanReport(tx.QueryRowContext(ctx, `select `+reportColumns+` from reports where id=$1 for update`, originalID))
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.Report{}, workflow.ErrNotFound
	}
	if err != nil {
		return workflow.Report{}, err
	}
	if orig.Status != workflow.ReportFeedbackRequested {
		return workflow.Report{}, fmt.Errorf("%w: only fed-back reports can be revised", workflow.ErrIllegalTransition)
	}

	at := s.now().UTC()
	rev := workflow.Report{
		ID:               ids.New(),
		Title:            orig.Title,
		AuthorID:         orig.AuthorID,
		CommitteeID:      orig.CommitteeID,
		Status:           workflow.ReportSubmitted,
		IsConfidential:   orig.IsConfidential,
		SkipApprovals:    orig.SkipApprovals,
		Version:          orig.Version + 1,
		OriginalReportID: orig.ID,
		CreatedAt:        at,
	}
	if _, err := tx.ExecContext(ctx, `
		insert into reports(id, title, author_id, committee_id, status, is_confidential, skip_approvals, version, original_report_id, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, rev.ID, rev.Title, rev.AuthorID, rev.CommitteeID, string(rev.Status), rev.IsConfidential, rev.SkipApprovals, rev.Version, rev.OriginalReportID, rev.CreatedAt); err != nil {
		return workflow.Report{}, err
	}
	if err := s.insertReportHistoryTx(ctx, tx, rev.ID, string(workflow.ReportFeedbackRequested), string(workflow.ReportSubmitted), actor, comment, at); err != nil {
		return workflow.Report{}, err
	}
	if err := tx.Commit(); err != nil {
		return workflow.Report{}, err
	}
	s.reportTransitionCommitted(ctx, rev.ID, string(workflow.ReportFeedbackRequested), string(workflow.ReportSubmitted), actor, at)
	return rev, nil
}

func (s *Store) ReportHistory(ctx context.Context, id string) ([]workflow.StatusEntry, error) {
	if err := s.reportExists(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, from_status, to_status, actor, coalesce(comment,''), at
		from report_status_history where report_id=$1 order by at asc, id asc
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStatusEntries(rows)
}

func (s *Store) ItemOwner(ctx context.Context, itemType workflow.ItemType, itemID string) (string, error) {
	var query string
	switch itemType {
	case workflow.ItemReport:
		query = `select author_id from reports where id=$1`
	case workflow.ItemDirective:
		query = `select issuer_id from directives where id=$1`
	default:
		return "", fmt.Errorf("%w: unknown item type %q", workflow.ErrInvalidInput, itemType)
	}
	var owner string
	err := s.db.QueryRowContext(ctx, query, itemID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", workflow.ErrNotFound
	}
	return owner, err
}

// commitReportTx applies the CAS status update and its history row in one
// transaction. The where clause re-checks the precondition against racing
// writers that slipped between lock release and commit.
func (s *Store) commitReportTx(ctx context.Context, tx *sql.Tx, id string, from, to workflow.ReportStatus, actor, comment string, at time.Time) error {
	res, err := tx.ExecContext(ctx, `update reports set status=$3 where id=$1 and status=$2`, id, string(from), string(to))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return workflow.ErrStaleState
	}
	return s.insertReportHistoryTx(ctx, tx, id, string(from), string(to), actor, comment, at)
}

func (s *Store) insertReportHistoryTx(ctx context.Context, tx *sql.Tx, reportID, from, to, actor, comment string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		insert into report_status_history(id, report_id, from_status, to_status, actor, comment, at)
		values ($1,$2,$3,$4,$5,nullif($6,''),$7)
	`, ids.New(), reportID, from, to, actor, comment, at)
	return err
}

// reportTransitionCommitted emits the post-commit side effects.
func (s *Store) reportTransitionCommitted(ctx context.Context, id, from, to, actor string, at time.Time) {
	obs.ObserveTransition(string(workflow.ItemReport), from, to)
	s.dispatch(ctx, workflow.Event{
		Kind:     workflow.EventTransitionCompleted,
		ItemType: workflow.ItemReport,
		ItemID:   id,
		From:     from,
		To:       to,
		Actor:    actor,
		At:       at,
	})
	s.audit(ctx, "report.transition", map[string]any{
		"report_id": id,
		"from":      from,
		"to":        to,
		"actor":     actor,
	})
}

func (s *Store) reportExists(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `select 1 from reports where id=$1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.ErrNotFound
	}
	return err
}

func scanStatusEntries(rows *sql.Rows) ([]workflow.StatusEntry, error) {
	var out []workflow.StatusEntry
	for rows.Next() {
		var e workflow.StatusEntry
		if err := rows.Scan(&e.ID, &e.From, &e.To, &e.Actor, &e.Comment, &e.At); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func isForeignKeyViolation(err error) bool {
	// 23503 is the postgres foreign_key_violation class.
	return err != nil && strings.Contains(err.Error(), "23503")
}
