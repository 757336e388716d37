package httpapi

import (
	"net/http"
	"strings"

	"rasd.org/internal/auth"
	"rasd.org/internal/workflow"
)

type createReportRequest struct {
	Title         string `json:"title"`
	AuthorID      string `json:"author_id"`
	CommitteeID   string `json:"committee_id"`
	Confidential  bool   `json:"confidential"`
	SkipApprovals bool   `json:"skip_approvals"`
}

type transitionRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Actor   string `json:"actor"`
	Comment string `json:"comment"`
}

type approvalRequest struct {
	UserID  string `json:"user_id"`
	Comment string `json:"comment"`
}

type revisionRequest struct {
	Actor   string `json:"actor"`
	Comment string `json:"comment"`
}

type linkSourceRequest struct {
	SourceReportID string `json:"source_report_id"`
	Annotation     string `json:"annotation"`
}

func (a *API) handleReportsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createReport(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleReportResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/reports/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id, sub, _ := strings.Cut(path, "/")
	if id == "" || strings.Contains(sub, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch sub {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getReport(w, r, id)
	case "transitions":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.transitionReport(w, r, id)
	case "approvals":
		switch r.Method {
		case http.MethodPost:
			a.recordApproval(w, r, id)
		case http.MethodGet:
			a.listApprovals(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}
	case "revisions":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.reviseReport(w, r, id)
	case "history":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.reportHistory(w, r, id)
	case "sources":
		switch r.Method {
		case http.MethodPost:
			a.linkSource(w, r, id)
		case http.MethodGet:
			a.resolveSources(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}
	case "confidentiality":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.markItem(w, r, workflow.ItemReport, id)
	case "access-grants":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.grantAccess(w, r, workflow.ItemReport, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) createReport(w http.ResponseWriter, r *http.Request) {
	var req createReportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if uid, ok := auth.UserIDFromContext(r.Context()); ok {
		req.AuthorID = uid
	}

	report, err := a.svc.CreateReport(r.Context(), workflow.ReportDraft{
		Title:         req.Title,
		AuthorID:      req.AuthorID,
		CommitteeID:   req.CommitteeID,
		Confidential:  req.Confidential,
		SkipApprovals: req.SkipApprovals,
	})
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/reports/"+report.ID)
	writeJSON(w, http.StatusCreated, report)
}

func (a *API) getReport(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.authorizeView(r, workflow.ItemReport, id); err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	report, err := a.svc.GetReport(r.Context(), id)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) transitionReport(w http.ResponseWriter, r *http.Request, id string) {
	var req transitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	actor := a.actor(r, req.Actor)

	report, err := a.svc.RequestReportTransition(r.Context(), id,
		workflow.ReportStatus(req.From), workflow.ReportStatus(req.To), actor, req.Comment)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) recordApproval(w http.ResponseWriter, r *http.Request, id string) {
	var req approvalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	userID := a.actor(r, req.UserID)

	approval, err := a.svc.RecordApproval(r.Context(), id, userID, req.Comment)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, approval)
}

func (a *API) listApprovals(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.authorizeView(r, workflow.ItemReport, id); err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	approvals, err := a.svc.ListApprovals(r.Context(), id)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": approvals})
}

func (a *API) reviseReport(w http.ResponseWriter, r *http.Request, id string) {
	var req revisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	actor := a.actor(r, req.Actor)

	revision, err := a.svc.ReviseReport(r.Context(), id, actor, req.Comment)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/reports/"+revision.ID)
	writeJSON(w, http.StatusCreated, revision)
}

func (a *API) reportHistory(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.authorizeView(r, workflow.ItemReport, id); err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	history, err := a.svc.ReportHistory(r.Context(), id)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": history})
}

func (a *API) linkSource(w http.ResponseWriter, r *http.Request, id string) {
	var req linkSourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	link, err := a.svc.LinkSource(r.Context(), id, req.SourceReportID, req.Annotation)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

func (a *API) resolveSources(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.authorizeView(r, workflow.ItemReport, id); err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	links, err := a.svc.ResolveSources(r.Context(), id)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": links})
}

// actor resolves who performs a mutation: the authenticated principal when
// present, otherwise the identifier supplied in the request body.
func (a *API) actor(r *http.Request, fallback string) string {
	if uid, ok := auth.UserIDFromContext(r.Context()); ok {
		return uid
	}
	return strings.TrimSpace(fallback)
}

// authorizeView runs the confidentiality gate before any document or its
// sub-resources leave the API.
func (a *API) authorizeView(r *http.Request, itemType workflow.ItemType, id string) error {
	if a.gate == nil {
		return nil
	}
	viewer, _ := auth.UserIDFromContext(r.Context())
	return a.gate.Authorize(r.Context(), itemType, id, viewer)
}
