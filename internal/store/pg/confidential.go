package pg

import (
	"context"
	"database/sql"
	"errors"

	"rasd.org/internal/confidential"
	"rasd.org/internal/org"
	"rasd.org/internal/workflow"
)

// ConfStore persists confidentiality markings and grants. It satisfies
// confidential.Store.
type ConfStore struct {
	s *Store
}

func (s *Store) Confidential() *ConfStore { return &ConfStore{s: s} }

var _ confidential.Store = (*ConfStore)(nil)

// ReplaceMarking installs the marking as the single active one for the item.
func (c *ConfStore) ReplaceMarking(ctx context.Context, m confidential.Marking) error {
	var minRank sql.NullInt64
	if m.MinChairmanOfficeRank != nil {
		minRank = sql.NullInt64{Int64: int64(*m.MinChairmanOfficeRank), Valid: true}
	}
	_, err := c.s.db.ExecContext(ctx, `
		insert into confidentiality_markings(item_type, item_id, marking_id, marked_by, marker_committee_id, marker_committee_level, min_chairman_office_rank, reason, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		on conflict (item_type, item_id) do update set
			marking_id=excluded.marking_id,
			marked_by=excluded.marked_by,
			marker_committee_id=excluded.marker_committee_id,
			marker_committee_level=excluded.marker_committee_level,
			min_chairman_office_rank=excluded.min_chairman_office_rank,
			reason=excluded.reason,
			created_at=excluded.created_at
	`, string(m.ItemType), m.ItemID, m.ID, m.MarkedBy, m.MarkerCommitteeID, string(m.MarkerCommitteeLevel), minRank, m.Reason, m.CreatedAt)
	return err
}

func (c *ConfStore) ActiveMarking(ctx context.Context, itemType workflow.ItemType, itemID string) (confidential.Marking, bool, error) {
	var m confidential.Marking
	var level string
	var minRank sql.NullInt64
	err := c.s.db.QueryRowContext(ctx, `
		select marking_id, marked_by, marker_committee_id, marker_committee_level, min_chairman_office_rank, reason, created_at
		from confidentiality_markings where item_type=$1 and item_id=$2
	`, string(itemType), itemID).Scan(&m.ID, &m.MarkedBy, &m.MarkerCommitteeID, &level, &minRank, &m.Reason, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return confidential.Marking{}, false, nil
	}
	if err != nil {
		return confidential.Marking{}, false, err
	}
	m.ItemType = itemType
	m.ItemID = itemID
	m.MarkerCommitteeLevel = org.Level(level)
	if minRank.Valid {
		r := int(minRank.Int64)
		m.MinChairmanOfficeRank = &r
	}
	return m, true, nil
}

// UpsertGrant inserts the grant or refreshes the existing one for the same
// user. The bool reports whether a new row was created.
func (c *ConfStore) UpsertGrant(ctx context.Context, g confidential.Grant) (confidential.Grant, bool, error) {
	var created bool
	row := c.s.db.QueryRowContext(ctx, `
		insert into access_grants(id, item_type, item_id, granted_to, granted_by, reason, created_at, updated_at)
		values ($1,$2,$3,$4,$5,nullif($6,''),$7,$8)
		on conflict (item_type, item_id, granted_to) do update set
			granted_by=excluded.granted_by,
			reason=excluded.reason,
			updated_at=excluded.updated_at
		returning id, coalesce(reason,''), created_at, (created_at = updated_at)
	`, g.ID, string(g.ItemType), g.ItemID, g.GrantedTo, g.GrantedBy, g.Reason, g.CreatedAt, g.UpdatedAt)
	if err := row.Scan(&g.ID, &g.Reason, &g.CreatedAt, &created); err != nil {
		return confidential.Grant{}, false, err
	}
	return g, created, nil
}

func (c *ConfStore) HasGrant(ctx context.Context, itemType workflow.ItemType, itemID, userID string) (bool, error) {
	var has bool
	err := c.s.db.QueryRowContext(ctx, `
		select exists (select 1 from access_grants where item_type=$1 and item_id=$2 and granted_to=$3)
	`, string(itemType), itemID, userID).Scan(&has)
	return has, err
}

func (c *ConfStore) ListGrants(ctx context.Context, itemType workflow.ItemType, itemID string) ([]confidential.Grant, error) {
	rows, err := c.s.db.QueryContext(ctx, `
		select id, granted_to, granted_by, coalesce(reason,''), created_at, updated_at
		from access_grants where item_type=$1 and item_id=$2 order by created_at asc
	`, string(itemType), itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []confidential.Grant
	for rows.Next() {
		g := confidential.Grant{ItemType: itemType, ItemID: itemID}
		if err := rows.Scan(&g.ID, &g.GrantedTo, &g.GrantedBy, &g.Reason, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
