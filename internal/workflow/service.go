package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"rasd.org/internal/ids"
	"rasd.org/internal/obs"
	"rasd.org/internal/org"
)

// QuorumPolicy selects which population must sign off before a submitted
// report auto-advances to approved.
type QuorumPolicy string

const (
	QuorumAllMembers QuorumPolicy = "all_members"
	QuorumHeadsOnly  QuorumPolicy = "heads_only"
)

// Service defines the workflow engine operations. The same contract is
// implemented in memory here and on PostgreSQL in internal/store/pg.
type Service interface {
	CreateReport(ctx context.Context, draft ReportDraft) (Report, error)
	GetReport(ctx context.Context, id string) (Report, error)
	RequestReportTransition(ctx context.Context, id string, from, to ReportStatus, actor, comment string) (Report, error)
	ReviseReport(ctx context.Context, originalID, actor, comment string) (Report, error)
	ReportHistory(ctx context.Context, id string) ([]StatusEntry, error)

	RecordApproval(ctx context.Context, reportID, userID, comment string) (Approval, error)
	ListApprovals(ctx context.Context, reportID string) ([]Approval, error)

	IssueDirective(ctx context.Context, draft DirectiveDraft) (Directive, error)
	GetDirective(ctx context.Context, id string) (Directive, error)
	RequestDirectiveTransition(ctx context.Context, id string, from, to DirectiveStatus, actor, comment string) (Directive, error)
	ForwardDirective(ctx context.Context, parentID string, draft DirectiveDraft) (Directive, error)
	DirectiveHistory(ctx context.Context, id string) ([]StatusEntry, error)
	ChildDirectives(ctx context.Context, id string) ([]Directive, error)

	LinkSource(ctx context.Context, summaryID, sourceID, annotation string) (SourceLink, error)
	ResolveSources(ctx context.Context, summaryID string) ([]SourceLink, error)

	// ItemOwner resolves the author (reports) or issuer (directives) of an
	// item; the confidentiality gate consults it.
	ItemOwner(ctx context.Context, itemType ItemType, itemID string) (string, error)
}

// InMemory implements Service with in-process concurrency safety. A single
// mutex spans every read-validate-append-update sequence, which gives each
// document the serialized transition ordering the engine requires.
type InMemory struct {
	mu  sync.Mutex
	dir org.Directory

	reports       map[string]*Report
	reportHistory map[string][]StatusEntry
	approvals     map[string][]Approval

	directives       map[string]*Directive
	directiveHistory map[string][]StatusEntry
	children         map[string][]string

	links   map[string][]SourceLink
	linkSet map[string]struct{}

	now        func() time.Time
	dispatcher Dispatcher
	auditor    Auditor
	quorum     QuorumPolicy
}

// Option configures InMemory.
type Option func(*InMemory)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *InMemory) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithDispatcher wires the notification collaborator.
func WithDispatcher(d Dispatcher) Option {
	return func(s *InMemory) { s.dispatcher = d }
}

// WithAuditor wires the compliance-log collaborator.
func WithAuditor(a Auditor) Option {
	return func(s *InMemory) { s.auditor = a }
}

// WithQuorum overrides the default all-members quorum policy.
func WithQuorum(p QuorumPolicy) Option {
	return func(s *InMemory) {
		if p == QuorumAllMembers || p == QuorumHeadsOnly {
			s.quorum = p
		}
	}
}

// NewInMemory creates a fresh engine backed by the given directory.
func NewInMemory(dir org.Directory, opts ...Option) *InMemory {
	s := &InMemory{
		dir:              dir,
		reports:          make(map[string]*Report),
		reportHistory:    make(map[string][]StatusEntry),
		approvals:        make(map[string][]Approval),
		directives:       make(map[string]*Directive),
		directiveHistory: make(map[string][]StatusEntry),
		children:         make(map[string][]string),
		links:            make(map[string][]SourceLink),
		linkSet:          make(map[string]struct{}),
		now:              time.Now,
		quorum:           QuorumAllMembers,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Service = (*InMemory)(nil)

func (s *InMemory) CreateReport(ctx context.Context, draft ReportDraft) (Report, error) {
	draft.Title = strings.TrimSpace(draft.Title)
	if draft.Title == "" {
		return Report{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if draft.AuthorID == "" || draft.CommitteeID == "" {
		return Report{}, fmt.Errorf("%w: author_id and committee_id are required", ErrInvalidInput)
	}
	if _, err := s.dir.Committee(ctx, draft.CommitteeID); err != nil {
		return Report{}, fmt.Errorf("%w: committee %s", ErrNotFound, draft.CommitteeID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := &Report{
		ID:             ids.New(),
		Title:          draft.Title,
		AuthorID:       draft.AuthorID,
		CommitteeID:    draft.CommitteeID,
		Status:         ReportStatusDraft,
		IsConfidential: draft.Confidential,
		SkipApprovals:  draft.SkipApprovals,
		Version:        1,
		CreatedAt:      s.now().UTC(),
	}
	s.reports[r.ID] = r
	s.audit(ctx, "report.created", map[string]any{
		"report_id":    r.ID,
		"committee_id": r.CommitteeID,
		"author_id":    r.AuthorID,
	})
	return *r, nil
}

func (s *InMemory) GetReport(ctx context.Context, id string) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return Report{}, ErrNotFound
	}
	return *r, nil
}

// RequestReportTransition validates and commits one report status change.
// Transitions into approved are gated on the quorum unless the report skips
// approvals, in which case a single synthetic history entry records the jump
// (draft -> approved is permitted for such reports).
func (s *InMemory) RequestReportTransition(ctx context.Context, id string, from, to ReportStatus, actor, comment string) (Report, error) {
	if !ReportStatusValid(from) || !ReportStatusValid(to) {
		return Report{}, fmt.Errorf("%w: unknown status", ErrInvalidInput)
	}
	if actor == "" {
		return Report{}, fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[id]
	if !ok {
		return Report{}, ErrNotFound
	}
	if r.Status != from {
		return Report{}, fmt.Errorf("%w: report is %s, not %s", ErrStaleState, r.Status, from)
	}
	if !ReportTransitionAllowed(from, to) {
		if !(r.SkipApprovals && from == ReportStatusDraft && to == ReportApproved) {
			return Report{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
		}
	}
	if to == ReportApproved && !r.SkipApprovals {
		met, err := s.quorumMetLocked(ctx, r)
		if err != nil {
			return Report{}, err
		}
		if !met {
			return Report{}, ErrApprovalsPending
		}
	}

	s.commitReportLocked(ctx, r, from, to, actor, comment)
	return *r, nil
}

// ReviseReport resubmits a fed-back report as a new version pointing at the
// original. The original keeps its feedback_requested status.
func (s *InMemory) ReviseReport(ctx context.Context, originalID, actor, comment string) (Report, error) {
	if actor == "" {
		return Report{}, fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	orig, ok := s.reports[originalID]
	if !ok {
		return Report{}, ErrNotFound
	}
	if orig.Status != ReportFeedbackRequested {
		return Report{}, fmt.Errorf("%w: only fed-back reports can be revised", ErrIllegalTransition)
	}

	rev := &Report{
		ID:               ids.New(),
		Title:            orig.Title,
		AuthorID:         orig.AuthorID,
		CommitteeID:      orig.CommitteeID,
		Status:           ReportSubmitted,
		IsConfidential:   orig.IsConfidential,
		SkipApprovals:    orig.SkipApprovals,
		Version:          orig.Version + 1,
		OriginalReportID: orig.ID,
		CreatedAt:        s.now().UTC(),
	}
	s.reports[rev.ID] = rev
	s.appendReportHistoryLocked(ctx, rev, string(ReportFeedbackRequested), string(ReportSubmitted), actor, comment)
	return *rev, nil
}

func (s *InMemory) ReportHistory(ctx context.Context, id string) ([]StatusEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[id]; !ok {
		return nil, ErrNotFound
	}
	out := make([]StatusEntry, len(s.reportHistory[id]))
	copy(out, s.reportHistory[id])
	return out, nil
}

func (s *InMemory) ItemOwner(ctx context.Context, itemType ItemType, itemID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch itemType {
	case ItemReport:
		if r, ok := s.reports[itemID]; ok {
			return r.AuthorID, nil
		}
	case ItemDirective:
		if d, ok := s.directives[itemID]; ok {
			return d.IssuerID, nil
		}
	default:
		return "", fmt.Errorf("%w: unknown item type %q", ErrInvalidInput, itemType)
	}
	return "", ErrNotFound
}

// commitReportLocked applies the status change and its history entry as one
// unit. Callers hold s.mu.
func (s *InMemory) commitReportLocked(ctx context.Context, r *Report, from, to ReportStatus, actor, comment string) {
	r.Status = to
	s.appendReportHistoryLocked(ctx, r, string(from), string(to), actor, comment)
}

func (s *InMemory) appendReportHistoryLocked(ctx context.Context, r *Report, from, to, actor, comment string) {
	at := s.now().UTC()
	s.reportHistory[r.ID] = append(s.reportHistory[r.ID], StatusEntry{
		ID:      ids.New(),
		From:    from,
		To:      to,
		Actor:   actor,
		Comment: comment,
		At:      at,
	})
	obs.ObserveTransition(string(ItemReport), from, to)
	s.dispatch(ctx, Event{
		Kind:     EventTransitionCompleted,
		ItemType: ItemReport,
		ItemID:   r.ID,
		From:     from,
		To:       to,
		Actor:    actor,
		At:       at,
	})
	s.audit(ctx, "report.transition", map[string]any{
		"report_id": r.ID,
		"from":      from,
		"to":        to,
		"actor":     actor,
	})
}

func (s *InMemory) dispatch(ctx context.Context, ev Event) {
	if s.dispatcher != nil {
		s.dispatcher.Dispatch(ctx, ev)
	}
}

func (s *InMemory) audit(ctx context.Context, event string, fields map[string]any) {
	if s.auditor != nil {
		s.auditor.Record(ctx, event, fields)
	}
}
