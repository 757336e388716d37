package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const defaultLedgerTable = "schema_ledger"

// Kind distinguishes ledger entries for schema files and seed files.
type Kind string

const (
	KindMigration Kind = "migration"
	KindSeed      Kind = "seed"
)

// Runner applies SQL migration and seed files from disk, recording every
// applied file in a single ledger table keyed by (kind, name).
type Runner struct {
	db            *sql.DB
	migrationsDir string
	seedsDir      string
	ledgerTable   string
}

// Option configures Runner.
type Option func(*Runner)

// WithLedgerTable overrides the bookkeeping table name.
func WithLedgerTable(name string) Option {
	return func(r *Runner) {
		if name != "" {
			r.ledgerTable = name
		}
	}
}

// NewRunner constructs a Runner over the given directories.
func NewRunner(db *sql.DB, migrationsDir, seedsDir string, opts ...Option) *Runner {
	r := &Runner{
		db:            db,
		migrationsDir: migrationsDir,
		seedsDir:      seedsDir,
		ledgerTable:   defaultLedgerTable,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Up applies all pending .up.sql migrations in lexical order.
func (r *Runner) Up(ctx context.Context) error {
	if err := r.ensureLedger(ctx); err != nil {
		return err
	}
	pending, err := r.Pending(ctx)
	if err != nil {
		return err
	}
	for _, mig := range pending {
		if err := r.execFile(ctx, filepath.Join(r.migrationsDir, mig)); err != nil {
			return fmt.Errorf("apply migration %s: %w", mig, err)
		}
		if err := r.record(ctx, KindMigration, mig); err != nil {
			return err
		}
	}
	return nil
}

// Down rolls back the most recently applied migration using its .down.sql twin.
func (r *Runner) Down(ctx context.Context) error {
	if err := r.ensureLedger(ctx); err != nil {
		return err
	}
	applied, err := r.Applied(ctx, KindMigration)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return errors.New("no migrations applied")
	}
	last := applied[len(applied)-1]
	downPath := strings.TrimSuffix(filepath.Join(r.migrationsDir, last), ".up.sql") + ".down.sql"
	if _, err := os.Stat(downPath); err != nil {
		return fmt.Errorf("missing down migration for %s", last)
	}
	if err := r.execFile(ctx, downPath); err != nil {
		return fmt.Errorf("rollback migration %s: %w", last, err)
	}
	_, err = r.db.ExecContext(ctx,
		fmt.Sprintf(`delete from %s where kind = $1 and name = $2`, r.ledgerTable),
		KindMigration, last)
	return err
}

// Seed applies seed files once each; re-running is a no-op.
func (r *Runner) Seed(ctx context.Context) error {
	if err := r.ensureLedger(ctx); err != nil {
		return err
	}
	done, err := r.appliedSet(ctx, KindSeed)
	if err != nil {
		return err
	}
	files, err := collectSQL(r.seedsDir, ".sql")
	if err != nil {
		return err
	}
	for _, seed := range files {
		if done[seed] {
			continue
		}
		if err := r.execFile(ctx, filepath.Join(r.seedsDir, seed)); err != nil {
			return fmt.Errorf("apply seed %s: %w", seed, err)
		}
		if err := r.record(ctx, KindSeed, seed); err != nil {
			return err
		}
	}
	return nil
}

// Applied returns applied file names of the given kind in application order.
func (r *Runner) Applied(ctx context.Context, kind Kind) ([]string, error) {
	if err := r.ensureLedger(ctx); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`select name from %s where kind = $1 order by applied_at asc, name asc`, r.ledgerTable),
		kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Pending returns migrations present on disk but absent from the ledger.
func (r *Runner) Pending(ctx context.Context) ([]string, error) {
	done, err := r.appliedSet(ctx, KindMigration)
	if err != nil {
		return nil, err
	}
	files, err := collectSQL(r.migrationsDir, ".up.sql")
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, f := range files {
		if !done[f] {
			pending = append(pending, f)
		}
	}
	return pending, nil
}

func (r *Runner) ensureLedger(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		create table if not exists %s (
			kind text not null,
			name text not null,
			applied_at timestamptz not null default now(),
			primary key (kind, name)
		);`, r.ledgerTable)
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *Runner) execFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(raw)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Runner) record(ctx context.Context, kind Kind, name string) error {
	_, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`insert into %s(kind, name, applied_at) values ($1, $2, $3)`, r.ledgerTable),
		kind, name, time.Now().UTC())
	return err
}

func (r *Runner) appliedSet(ctx context.Context, kind Kind) (map[string]bool, error) {
	if err := r.ensureLedger(ctx); err != nil {
		return nil, err
	}
	names, err := r.Applied(ctx, kind)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set, nil
}

func collectSQL(dir, suffix string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), suffix) {
			files = append(files, d.Name())
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// splitStatements cuts SQL on semicolons outside quoted or dollar-quoted text,
// so function bodies in migrations survive intact.
func splitStatements(sql string) []string {
	var stmts []string
	var current strings.Builder
	inString := false
	inDollar := false
	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\'' && !inDollar:
			inString = !inString
		case r == '$' && !inString && i+1 < len(runes) && runes[i+1] == '$':
			inDollar = !inDollar
			current.WriteRune(r)
			current.WriteRune(runes[i+1])
			i++
			continue
		case r == ';' && !inString && !inDollar:
			current.WriteRune(r)
			stmts = append(stmts, current.String())
			current.Reset()
			continue
		}
		current.WriteRune(r)
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
