package workflow

import (
	"errors"
	"time"
)

// ItemType distinguishes the two document kinds handled by the engine.
type ItemType string

const (
	ItemReport    ItemType = "report"
	ItemDirective ItemType = "directive"
)

// SystemActor is recorded on history entries produced by the engine itself,
// e.g. the quorum auto-approval.
const SystemActor = "system"

// ReportStatus is the lifecycle state of an accountability report.
type ReportStatus string

const (
	ReportStatusDraft             ReportStatus = "draft"
	ReportSubmitted         ReportStatus = "submitted"
	ReportFeedbackRequested ReportStatus = "feedback_requested"
	ReportApproved          ReportStatus = "approved"
	ReportSummarized        ReportStatus = "summarized"
)

// DirectiveStatus is the lifecycle state of a top-down directive. The chain
// is strictly monotonic; there is no regression.
type DirectiveStatus string

const (
	DirectiveIssued       DirectiveStatus = "issued"
	DirectiveDelivered    DirectiveStatus = "delivered"
	DirectiveAcknowledged DirectiveStatus = "acknowledged"
	DirectiveInProgress   DirectiveStatus = "in_progress"
	DirectiveImplemented  DirectiveStatus = "implemented"
	DirectiveVerified     DirectiveStatus = "verified"
	DirectiveClosed       DirectiveStatus = "closed"
)

// Priority of a directive.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// DirectiveType classifies the instruction being issued.
type DirectiveType string

const (
	TypeInstruction       DirectiveType = "instruction"
	TypeCorrectiveAction  DirectiveType = "corrective_action"
	TypeApproval          DirectiveType = "approval"
	TypeFeedback          DirectiveType = "feedback"
	TypeInformationNotice DirectiveType = "information_notice"
)

// Report is a bottom-up accountability document. OriginalReportID is empty
// for the first version; resubmissions after feedback form a revision chain.
type Report struct {
	ID               string       `json:"id"`
	Title            string       `json:"title"`
	AuthorID         string       `json:"author_id"`
	CommitteeID      string       `json:"committee_id"`
	Status           ReportStatus `json:"status"`
	IsConfidential   bool         `json:"is_confidential"`
	SkipApprovals    bool         `json:"skip_approvals"`
	Version          int          `json:"version"`
	OriginalReportID string       `json:"original_report_id,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

// Directive is a top-down instruction. ParentID is empty unless the
// directive was forwarded from a higher-level one.
type Directive struct {
	ID                string          `json:"id"`
	Title             string          `json:"title"`
	IssuerID          string          `json:"issuer_id"`
	TargetCommitteeID string          `json:"target_committee_id"`
	TargetUserID      string          `json:"target_user_id,omitempty"`
	Priority          Priority        `json:"priority"`
	Type              DirectiveType   `json:"type"`
	Status            DirectiveStatus `json:"status"`
	Deadline          *time.Time      `json:"deadline,omitempty"`
	ParentID          string          `json:"parent_id,omitempty"`
	IsConfidential    bool            `json:"is_confidential"`
	CreatedAt         time.Time       `json:"created_at"`
}

// StatusEntry is one immutable record in a document's status history.
type StatusEntry struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Actor   string    `json:"actor"`
	Comment string    `json:"comment,omitempty"`
	At      time.Time `json:"at"`
}

// Approval is one member's sign-off on a submitted report. At most one
// approval exists per (report, user).
type Approval struct {
	ID        string    `json:"id"`
	ReportID  string    `json:"report_id"`
	UserID    string    `json:"user_id"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SourceLink is a directed edge from a summary report to one of the source
// reports it aggregates.
type SourceLink struct {
	SummaryReportID string    `json:"summary_report_id"`
	SourceReportID  string    `json:"source_report_id"`
	Annotation      string    `json:"annotation,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ReportDraft carries the inputs for creating a new report.
type ReportDraft struct {
	Title         string `json:"title"`
	AuthorID      string `json:"author_id"`
	CommitteeID   string `json:"committee_id"`
	Confidential  bool   `json:"confidential"`
	SkipApprovals bool   `json:"skip_approvals"`
}

// DirectiveDraft carries the inputs for issuing or forwarding a directive.
type DirectiveDraft struct {
	Title             string        `json:"title"`
	IssuerID          string        `json:"issuer_id"`
	TargetCommitteeID string        `json:"target_committee_id"`
	TargetUserID      string        `json:"target_user_id,omitempty"`
	Priority          Priority      `json:"priority"`
	Type              DirectiveType `json:"type"`
	Deadline          *time.Time    `json:"deadline,omitempty"`
	Confidential      bool          `json:"confidential"`
}

// Error taxonomy. All of these are recoverable by the caller; the engine
// never retries internally and a failed call leaves the document untouched.
var (
	ErrNotFound                = errors.New("workflow: not found")
	ErrInvalidInput            = errors.New("workflow: invalid input")
	ErrIllegalTransition       = errors.New("workflow: illegal transition")
	ErrStaleState              = errors.New("workflow: stale state, refetch and retry")
	ErrApprovalsPending        = errors.New("workflow: approvals pending")
	ErrNotAMember              = errors.New("workflow: not a member of the owning committee")
	ErrChildrenNotClosed       = errors.New("workflow: child directives not closed")
	ErrInvalidForwardingTarget = errors.New("workflow: forwarding target outside hierarchy")
	ErrCycle                   = errors.New("workflow: source link would create a cycle")
	ErrDuplicateLink           = errors.New("workflow: source link already exists")
)
