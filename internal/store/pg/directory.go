package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"rasd.org/internal/ids"
	"rasd.org/internal/org"
)

// DirStore implements org.Directory on the same database as the workflow
// store.
type DirStore struct {
	s *Store
}

var _ org.Directory = (*DirStore)(nil)

// Directory exposes the committee directory view of the store.
func (s *Store) Directory() *DirStore { return &DirStore{s: s} }

// AddCommittee registers a committee after validating the level against the
// parent, mirroring the in-memory directory's hierarchy rule.
func (d *DirStore) AddCommittee(ctx context.Context, c org.Committee) (org.Committee, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return org.Committee{}, fmt.Errorf("%w: committee name is required", org.ErrInvalidInput)
	}
	depth, ok := c.Level.Depth()
	if !ok {
		return org.Committee{}, fmt.Errorf("%w: unknown level %q", org.ErrInvalidInput, c.Level)
	}

	if c.ParentID == "" {
		if depth != 0 {
			return org.Committee{}, fmt.Errorf("%w: root committee must be top level", org.ErrInvalidHierarchy)
		}
	} else {
		var parentLevel string
		err := d.s.db.QueryRowContext(ctx, `select level from committees where id=$1`, c.ParentID).Scan(&parentLevel)
		if errors.Is(err, sql.ErrNoRows) {
			return org.Committee{}, fmt.Errorf("%w: parent committee %s", org.ErrNotFound, c.ParentID)
		}
		if err != nil {
			return org.Committee{}, err
		}
		parentDepth, _ := org.Level(parentLevel).Depth()
		if depth != parentDepth+1 {
			return org.Committee{}, fmt.Errorf("%w: level %s is not one step below %s", org.ErrInvalidHierarchy, c.Level, parentLevel)
		}
	}

	if c.ID == "" {
		c.ID = ids.New()
	}
	c.CreatedAt = d.s.now().UTC()
	_, err := d.s.db.ExecContext(ctx, `
		insert into committees(id, name, sector, level, parent_id, created_at)
		values ($1,$2,$3,$4,nullif($5,''),$6)
	`, c.ID, c.Name, c.Sector, string(c.Level), c.ParentID, c.CreatedAt)
	if err != nil {
		return org.Committee{}, err
	}
	return c, nil
}

func (d *DirStore) AddMembership(ctx context.Context, m org.Membership) error {
	if m.CommitteeID == "" || m.UserID == "" {
		return fmt.Errorf("%w: committee_id and user_id are required", org.ErrInvalidInput)
	}
	if m.Role != org.RoleHead && m.Role != org.RoleMember {
		return fmt.Errorf("%w: unsupported role %q", org.ErrInvalidInput, m.Role)
	}
	if m.EffectiveFrom.IsZero() {
		m.EffectiveFrom = d.s.now().UTC()
	}
	_, err := d.s.db.ExecContext(ctx, `
		insert into committee_memberships(id, committee_id, user_id, role, effective_from)
		values ($1,$2,$3,$4,$5)
	`, ids.New(), m.CommitteeID, m.UserID, string(m.Role), m.EffectiveFrom)
	if err != nil && isForeignKeyViolation(err) {
		return fmt.Errorf("%w: committee %s", org.ErrNotFound, m.CommitteeID)
	}
	return err
}

func (d *DirStore) EndMembership(ctx context.Context, committeeID, userID string) error {
	res, err := d.s.db.ExecContext(ctx, `
		update committee_memberships set effective_until=now()
		where committee_id=$1 and user_id=$2 and effective_until is null
	`, committeeID, userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: no open membership for user %s", org.ErrNotFound, userID)
	}
	return nil
}

func (d *DirStore) SetChairmanOfficeRank(ctx context.Context, userID string, rank int) error {
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", org.ErrInvalidInput)
	}
	if rank < 1 {
		return fmt.Errorf("%w: rank must be >= 1", org.ErrInvalidInput)
	}
	_, err := d.s.db.ExecContext(ctx, `
		insert into chairman_office_ranks(user_id, rank) values ($1,$2)
		on conflict (user_id) do update set rank=excluded.rank
	`, userID, rank)
	return err
}

func (d *DirStore) Committee(ctx context.Context, id string) (org.Committee, error) {
	var c org.Committee
	var level string
	err := d.s.db.QueryRowContext(ctx, `
		select id, name, sector, level, coalesce(parent_id,''), created_at
		from committees where id=$1
	`, id).Scan(&c.ID, &c.Name, &c.Sector, &level, &c.ParentID, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return org.Committee{}, org.ErrNotFound
	}
	if err != nil {
		return org.Committee{}, err
	}
	c.Level = org.Level(level)
	return c, nil
}

func (d *DirStore) ActiveMembers(ctx context.Context, committeeID string) ([]org.Membership, error) {
	if _, err := d.Committee(ctx, committeeID); err != nil {
		return nil, err
	}
	rows, err := d.s.db.QueryContext(ctx, `
		select user_id, max(role) filter (where role='head') is not null, min(effective_from)
		from committee_memberships
		where committee_id=$1
		  and effective_from <= now()
		  and (effective_until is null or effective_until > now())
		group by user_id
		order by min(effective_from) asc
	`, committeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []org.Membership
	for rows.Next() {
		m := org.Membership{CommitteeID: committeeID, Role: org.RoleMember}
		var isHead bool
		if err := rows.Scan(&m.UserID, &isHead, &m.EffectiveFrom); err != nil {
			return nil, err
		}
		if isHead {
			m.Role = org.RoleHead
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (d *DirStore) IsHead(ctx context.Context, committeeID, userID string) (bool, error) {
	var head bool
	err := d.s.db.QueryRowContext(ctx, `
		select exists (
			select 1 from committee_memberships
			where committee_id=$1 and user_id=$2 and role='head'
			  and effective_from <= now()
			  and (effective_until is null or effective_until > now())
		)
	`, committeeID, userID).Scan(&head)
	return head, err
}

func (d *DirStore) IsDescendant(ctx context.Context, childID, ancestorID string) (bool, error) {
	for _, id := range []string{childID, ancestorID} {
		if _, err := d.Committee(ctx, id); err != nil {
			return false, err
		}
	}
	return d.s.committeeUnder(ctx, childID, ancestorID)
}

func (d *DirStore) ChairmanOfficeRank(ctx context.Context, userID string) (int, bool, error) {
	var rank int
	err := d.s.db.QueryRowContext(ctx, `select rank from chairman_office_ranks where user_id=$1`, userID).Scan(&rank)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rank, true, nil
}
