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

const directiveColumns = `id, title, issuer_id, target_committee_id, coalesce(target_user_id,''), priority, type, status, deadline, coalesce(parent_id,''), is_confidential, created_at`

func scanDirective(row interface{ Scan(...any) error }) (workflow.Directive, error) {
	var d workflow.Directive
	var priority, dtype, status string
	var deadline sql.NullTime
	err := row.Scan(&d.ID, &d.Title, &d.IssuerID, &d.TargetCommitteeID, &d.TargetUserID,
		&priority, &dtype, &status, &deadline, &d.ParentID, &d.IsConfidential, &d.CreatedAt)
	if err != nil {
		return workflow.Directive{}, err
	}
	d.Priority = workflow.Priority(priority)
	d.Type = workflow.DirectiveType(dtype)
	d.Status = workflow.DirectiveStatus(status)
	if deadline.Valid {
		t := deadline.Time
		d.Deadline = &t
	}
	return d, nil
}

func (s *Store) IssueDirective(ctx context.Context, draft workflow.DirectiveDraft) (workflow.Directive, error) {
	if err := workflow.ValidateDirectiveDraft(&draft); err != nil {
		return workflow.Directive{}, err
	}
	d, err := s.insertDirective(ctx, draft, "")
	if err != nil {
		return workflow.Directive{}, err
	}
	s.audit(ctx, "directive.issued", map[string]any{
		"directive_id":        d.ID,
		"issuer_id":           d.IssuerID,
		"target_committee_id": d.TargetCommitteeID,
	})
	return d, nil
}

func (s *Store) ForwardDirective(ctx context.Context, parentID string, draft workflow.DirectiveDraft) (workflow.Directive, error) {
	if err := workflow.ValidateDirectiveDraft(&draft); err != nil {
		return workflow.Directive{}, err
	}

	var parentTarget string
	err := s.db.QueryRowContext(ctx, `select target_committee_id from directives where id=$1`, parentID).Scan(&parentTarget)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.Directive{}, workflow.ErrNotFound
	}
	if err != nil {
		return workflow.Directive{}, err
	}

	under, err := s.committeeUnder(ctx, draft.TargetCommitteeID, parentTarget)
	if err != nil {
		return workflow.Directive{}, err
	}
	if !under {
		return workflow.Directive{}, fmt.Errorf("%w: %s is not under %s", workflow.ErrInvalidForwardingTarget, draft.TargetCommitteeID, parentTarget)
	}

	d, err := s.insertDirective(ctx, draft, parentID)
	if err != nil {
		return workflow.Directive{}, err
	}
	s.audit(ctx, "directive.forwarded", map[string]any{
		"directive_id":        d.ID,
		"parent_directive_id": parentID,
		"target_committee_id": d.TargetCommitteeID,
	})
	return d, nil
}

func (s *Store) insertDirective(ctx context.Context, draft workflow.DirectiveDraft, parentID string) (workflow.Directive, error) {
	d := workflow.Directive{
		ID:                ids.New(),
		Title:             draft.Title,
		IssuerID:          draft.IssuerID,
		TargetCommitteeID: draft.TargetCommitteeID,
		TargetUserID:      draft.TargetUserID,
		Priority:          draft.Priority,
		Type:              draft.Type,
		Status:            workflow.DirectiveIssued,
		Deadline:          draft.Deadline,
		ParentID:          parentID,
		IsConfidential:    draft.Confidential,
		CreatedAt:         s.now().UTC(),
	}
	var deadline sql.NullTime
	if d.Deadline != nil {
		deadline = sql.NullTime{Time: *d.Deadline, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		insert into directives(id, title, issuer_id, target_committee_id, target_user_id, priority, type, status, deadline, parent_id, is_confidential, created_at)
		values ($1,$2,$3,$4,nullif($5,''),$6,$7,$8,$9,nullif($10,''),$11,$12)
	`, d.ID, d.Title, d.IssuerID, d.TargetCommitteeID, d.TargetUserID, string(d.Priority), string(d.Type), string(d.Status), deadline, d.ParentID, d.IsConfidential, d.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return workflow.Directive{}, fmt.Errorf("%w: committee %s", workflow.ErrNotFound, draft.TargetCommitteeID)
		}
		return workflow.Directive{}, err
	}
	return d, nil
}

func (s *Store) GetDirective(ctx context.Context, id string) (workflow.Directive, error) {
	d, err := scanDirective(s.db.QueryRowContext(ctx, `select `+directiveColumns+` from directives where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.Directive{}, workflow.ErrNotFound
	}
	return d, err
}

func (s *Store) RequestDirectiveTransition(ctx context.Context, id string, from, to workflow.DirectiveStatus, actor, comment string) (workflow.Directive, error) {
	if actor == "" {
		return workflow.Directive{}, fmt.Errorf("%w: actor is required", workflow.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return workflow.Directive{}, err
	}
	defer func() { _ = tx.Rollback() }()

	d, err := scanDirective(tx.QueryRowContext(ctx, `select `+directiveColumns+` from directives where id=$1 for update`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.Directive{}, workflow.ErrNotFound
	}
	if err != nil {
		return workflow.Directive{}, err
	}
	if d.Status != from {
		return workflow.Directive{}, fmt.Errorf("%w: directive is %s, not %s", workflow.ErrStaleState, d.Status, from)
	}
	step, ok := workflow.DirectiveStep(from, to)
	if !ok {
		return workflow.Directive{}, fmt.Errorf("%w: %s -> %s", workflow.ErrIllegalTransition, from, to)
	}
	if step > 1 && actor != d.IssuerID {
		return workflow.Directive{}, fmt.Errorf("%w: skipping stages requires issuer authority", workflow.ErrIllegalTransition)
	}
	if to == workflow.DirectiveClosed {
		var open int
		if err := tx.QueryRowContext(ctx, `
			select count(*) from directives where parent_id=$1 and status <> 'closed'
		`, id).Scan(&open); err != nil {
			return workflow.Directive{}, err
		}
		if open > 0 {
			return workflow.Directive{}, fmt.Errorf("%w: %d open child directives", workflow.ErrChildrenNotClosed, open)
		}
	}

	at := s.now().UTC()
	res, err := tx.ExecContext(ctx, `update directives set status=$3 where id=$1 and status=$2`, id, string(from), string(to))
	if err != nil {
		return workflow.Directive{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return workflow.Directive{}, workflow.ErrStaleState
	}
	if _, err := tx.ExecContext(ctx, `
		insert into directive_status_history(id, directive_id, from_status, to_status, actor, comment, at)
		values ($1,$2,$3,$4,$5,nullif($6,''),$7)
	`, ids.New(), id, string(from), string(to), actor, comment, at); err != nil {
		return workflow.Directive{}, err
	}
	if err := tx.Commit(); err != nil {
		return workflow.Directive{}, err
	}

	d.Status = to
	obs.ObserveTransition(string(workflow.ItemDirective), string(from), string(to))
	s.dispatch(ctx, workflow.Event{
		Kind:     workflow.EventTransitionCompleted,
		ItemType: workflow.ItemDirective,
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
	return d, nil
}

func (s *Store) DirectiveHistory(ctx context.Context, id string) ([]workflow.StatusEntry, error) {
	if err := s.directiveExists(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, from_status, to_status, actor, coalesce(comment,''), at
		from directive_status_history where directive_id=$1 order by at asc, id asc
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStatusEntries(rows)
}

func (s *Store) ChildDirectives(ctx context.Context, id string) ([]workflow.Directive, error) {
	if err := s.directiveExists(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `select `+directiveColumns+` from directives where parent_id=$1 order by created_at asc, id asc`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []workflow.Directive
	for rows.Next() {
		d, err := scanDirective(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) directiveExists(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `select 1 from directives where id=$1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.ErrNotFound
	}
	return err
}

// committeeUnder reports whether child sits in ancestor's subtree. A
// committee counts as its own descendant.
func (s *Store) committeeUnder(ctx context.Context, childID, ancestorID string) (bool, error) {
	var under bool
	err := s.db.QueryRowContext(ctx, `
		with recursive subtree as (
			select id from committees where id=$2
			union all
			select c.id from committees c join subtree t on c.parent_id=t.id
		)
		select exists (select 1 from subtree where id=$1)
	`, childID, ancestorID).Scan(&under)
	return under, err
}
