// Package pg persists the workflow engine, the committee directory and the
// confidentiality records on PostgreSQL. It mirrors the in-memory semantics:
// row locks serialize per-document transitions and compare-and-set status
// updates reject stale preconditions.
package pg

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"rasd.org/internal/workflow"
)

type Store struct {
	db         *sql.DB
	now        func() time.Time
	dispatcher workflow.Dispatcher
	auditor    workflow.Auditor
	quorum     workflow.QuorumPolicy
}

var _ workflow.Service = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

func WithDispatcher(d workflow.Dispatcher) Option {
	return func(s *Store) { s.dispatcher = d }
}

func WithAuditor(a workflow.Auditor) Option {
	return func(s *Store) { s.auditor = a }
}

func WithQuorum(p workflow.QuorumPolicy) Option {
	return func(s *Store) {
		if p == workflow.QuorumAllMembers || p == workflow.QuorumHeadsOnly {
			s.quorum = p
		}
	}
}

func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return newStore(db, opts...), nil
}

// NewWithDB wraps an existing connection. Tests use it with sqlmock.
func NewWithDB(db *sql.DB, opts ...Option) *Store {
	return newStore(db, opts...)
}

func newStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now, quorum: workflow.QuorumAllMembers}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) dispatch(ctx context.Context, ev workflow.Event) {
	if s.dispatcher != nil {
		s.dispatcher.Dispatch(ctx, ev)
	}
}

func (s *Store) audit(ctx context.Context, event string, fields map[string]any) {
	if s.auditor != nil {
		s.auditor.Record(ctx, event, fields)
	}
}
