package pg

import (
	"context"
	"fmt"

	"rasd.org/internal/workflow"
)

// LinkSource adds a summary -> source edge. The cycle check walks the link
// graph with a recursive CTE inside the same transaction that inserts the
// edge, so two concurrent inserts cannot sneak a cycle past each other.
func (s *Store) LinkSource(ctx context.Context, summaryID, sourceID, annotation string) (workflow.SourceLink, error) {
	if summaryID == "" || sourceID == "" {
		return workflow.SourceLink{}, fmt.Errorf("%w: summary and source report ids are required", workflow.ErrInvalidInput)
	}
	if summaryID == sourceID {
		return workflow.SourceLink{}, fmt.Errorf("%w: a report cannot summarise itself", workflow.ErrCycle)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return workflow.SourceLink{}, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range []string{summaryID, sourceID} {
		var one int
		if err := tx.QueryRowContext(ctx, `select 1 from reports where id=$1 for update`, id).Scan(&one); err != nil {
			return workflow.SourceLink{}, workflow.ErrNotFound
		}
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, `
		select exists (select 1 from report_source_links where summary_report_id=$1 and source_report_id=$2)
	`, summaryID, sourceID).Scan(&exists); err != nil {
		return workflow.SourceLink{}, err
	}
	if exists {
		return workflow.SourceLink{}, workflow.ErrDuplicateLink
	}

	// A cycle exists iff the summary is already reachable from the source.
	var reachable bool
	if err := tx.QueryRowContext(ctx, `
		with recursive reach as (
			select source_report_id as id from report_source_links where summary_report_id=$1
			union
			select l.source_report_id from report_source_links l join reach r on l.summary_report_id=r.id
		)
		select exists (select 1 from reach where id=$2)
	`, sourceID, summaryID).Scan(&reachable); err != nil {
		return workflow.SourceLink{}, err
	}
	if reachable {
		return workflow.SourceLink{}, fmt.Errorf("%w: %s already aggregates %s", workflow.ErrCycle, sourceID, summaryID)
	}

	link := workflow.SourceLink{
		SummaryReportID: summaryID,
		SourceReportID:  sourceID,
		Annotation:      annotation,
		CreatedAt:       s.now().UTC(),
	}
	if _, err := tx.ExecContext(ctx, `
		insert into report_source_links(summary_report_id, source_report_id, annotation, created_at)
		values ($1,$2,nullif($3,''),$4)
	`, link.SummaryReportID, link.SourceReportID, link.Annotation, link.CreatedAt); err != nil {
		return workflow.SourceLink{}, err
	}
	if err := tx.Commit(); err != nil {
		return workflow.SourceLink{}, err
	}

	s.audit(ctx, "report.source_linked", map[string]any{
		"summary_report_id": summaryID,
		"source_report_id":  sourceID,
	})
	return link, nil
}

func (s *Store) ResolveSources(ctx context.Context, summaryID string) ([]workflow.SourceLink, error) {
	if err := s.reportExists(ctx, summaryID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select summary_report_id, source_report_id, coalesce(annotation,''), created_at
		from report_source_links where summary_report_id=$1 order by created_at asc
	`, summaryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []workflow.SourceLink
	for rows.Next() {
		var l workflow.SourceLink
		if err := rows.Scan(&l.SummaryReportID, &l.SourceReportID, &l.Annotation, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
