package workflow

// Legal report transitions. The feedback_requested -> submitted edge is
// traversed by ReviseReport, which materialises the resubmission as a new
// report version.
var reportTransitions = map[ReportStatus][]ReportStatus{
	ReportStatusDraft:             {ReportSubmitted},
	ReportSubmitted:         {ReportApproved, ReportFeedbackRequested},
	ReportFeedbackRequested: {ReportSubmitted},
	ReportApproved:          {ReportSummarized},
}

// ReportStatusValid reports whether s names a known lifecycle state.
func ReportStatusValid(s ReportStatus) bool {
	switch s {
	case ReportStatusDraft, ReportSubmitted, ReportFeedbackRequested, ReportApproved, ReportSummarized:
		return true
	}
	return false
}

// ReportTransitionAllowed reports whether from -> to is a legal edge. Both
// the in-memory engine and the PostgreSQL store consult the same table.
func ReportTransitionAllowed(from, to ReportStatus) bool {
	for _, next := range reportTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

var directiveChain = []DirectiveStatus{
	DirectiveIssued,
	DirectiveDelivered,
	DirectiveAcknowledged,
	DirectiveInProgress,
	DirectiveImplemented,
	DirectiveVerified,
	DirectiveClosed,
}

func directiveRank(s DirectiveStatus) (int, bool) {
	for i, st := range directiveChain {
		if st == s {
			return i, true
		}
	}
	return 0, false
}

// DirectiveStep returns how many stages the transition advances. ok is false
// for unknown statuses and for any non-forward move.
func DirectiveStep(from, to DirectiveStatus) (int, bool) {
	fromRank, okFrom := directiveRank(from)
	toRank, okTo := directiveRank(to)
	if !okFrom || !okTo || toRank <= fromRank {
		return 0, false
	}
	return toRank - fromRank, true
}
