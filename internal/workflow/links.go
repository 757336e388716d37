package workflow

import (
	"context"
	"fmt"
)

// LinkSource records that the summary report aggregates the source report.
// Links are single-hop; the cycle check walks the transitive graph so a
// report can never become its own ancestor.
func (s *InMemory) LinkSource(ctx context.Context, summaryID, sourceID, annotation string) (SourceLink, error) {
	if summaryID == "" || sourceID == "" {
		return SourceLink{}, fmt.Errorf("%w: summary and source ids are required", ErrInvalidInput)
	}
	if summaryID == sourceID {
		return SourceLink{}, fmt.Errorf("%w: a report cannot source itself", ErrCycle)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reports[summaryID]; !ok {
		return SourceLink{}, fmt.Errorf("%w: summary report %s", ErrNotFound, summaryID)
	}
	if _, ok := s.reports[sourceID]; !ok {
		return SourceLink{}, fmt.Errorf("%w: source report %s", ErrNotFound, sourceID)
	}
	if _, dup := s.linkSet[linkKey(summaryID, sourceID)]; dup {
		return SourceLink{}, ErrDuplicateLink
	}
	if s.reachableLocked(sourceID, summaryID) {
		return SourceLink{}, fmt.Errorf("%w: %s already aggregates %s", ErrCycle, sourceID, summaryID)
	}

	link := SourceLink{
		SummaryReportID: summaryID,
		SourceReportID:  sourceID,
		Annotation:      annotation,
		CreatedAt:       s.now().UTC(),
	}
	s.links[summaryID] = append(s.links[summaryID], link)
	s.linkSet[linkKey(summaryID, sourceID)] = struct{}{}
	s.audit(ctx, "report.source_linked", map[string]any{
		"summary_report_id": summaryID,
		"source_report_id":  sourceID,
	})
	return link, nil
}

// ResolveSources returns the directly linked source reports in link-creation
// order. Aggregation beyond one hop is a caller concern.
func (s *InMemory) ResolveSources(ctx context.Context, summaryID string) ([]SourceLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[summaryID]; !ok {
		return nil, ErrNotFound
	}
	out := make([]SourceLink, len(s.links[summaryID]))
	copy(out, s.links[summaryID])
	return out, nil
}

// reachableLocked reports whether target can be reached from start by
// following summary -> source edges.
func (s *InMemory) reachableLocked(start, target string) bool {
	stack := []string{start}
	visited := make(map[string]struct{})
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == target {
			return true
		}
		if _, seen := visited[cur]; seen {
			continue
		}
		visited[cur] = struct{}{}
		for _, link := range s.links[cur] {
			stack = append(stack, link.SourceReportID)
		}
	}
	return false
}

func linkKey(summaryID, sourceID string) string {
	return summaryID + "|" + sourceID
}
