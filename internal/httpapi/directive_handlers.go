package httpapi

import (
	"net/http"
	"strings"
	"time"

	"rasd.org/internal/auth"
	"rasd.org/internal/workflow"
)

type directiveRequest struct {
	Title             string     `json:"title"`
	IssuerID          string     `json:"issuer_id"`
	TargetCommitteeID string     `json:"target_committee_id"`
	TargetUserID      string     `json:"target_user_id"`
	Priority          string     `json:"priority"`
	Type              string     `json:"type"`
	Deadline          *time.Time `json:"deadline"`
	Confidential      bool       `json:"confidential"`
}

func (req directiveRequest) draft() workflow.DirectiveDraft {
	return workflow.DirectiveDraft{
		Title:             req.Title,
		IssuerID:          req.IssuerID,
		TargetCommitteeID: req.TargetCommitteeID,
		TargetUserID:      req.TargetUserID,
		Priority:          workflow.Priority(req.Priority),
		Type:              workflow.DirectiveType(req.Type),
		Deadline:          req.Deadline,
		Confidential:      req.Confidential,
	}
}

func (a *API) handleDirectivesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.issueDirective(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleDirectiveResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/directives/")
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
		a.getDirective(w, r, id)
	case "transitions":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.transitionDirective(w, r, id)
	case "forward":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.forwardDirective(w, r, id)
	case "children":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.childDirectives(w, r, id)
	case "history":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.directiveHistory(w, r, id)
	case "confidentiality":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.markItem(w, r, workflow.ItemDirective, id)
	case "access-grants":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.grantAccess(w, r, workflow.ItemDirective, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) issueDirective(w http.ResponseWriter, r *http.Request) {
	var req directiveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if uid, ok := auth.UserIDFromContext(r.Context()); ok {
		req.IssuerID = uid
	}

	d, err := a.svc.IssueDirective(r.Context(), req.draft())
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/directives/"+d.ID)
	writeJSON(w, http.StatusCreated, d)
}

func (a *API) getDirective(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.authorizeView(r, workflow.ItemDirective, id); err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	d, err := a.svc.GetDirective(r.Context(), id)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) transitionDirective(w http.ResponseWriter, r *http.Request, id string) {
	var req transitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	actor := a.actor(r, req.Actor)

	d, err := a.svc.RequestDirectiveTransition(r.Context(), id,
		workflow.DirectiveStatus(req.From), workflow.DirectiveStatus(req.To), actor, req.Comment)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) forwardDirective(w http.ResponseWriter, r *http.Request, id string) {
	var req directiveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if uid, ok := auth.UserIDFromContext(r.Context()); ok {
		req.IssuerID = uid
	}

	child, err := a.svc.ForwardDirective(r.Context(), id, req.draft())
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/directives/"+child.ID)
	writeJSON(w, http.StatusCreated, child)
}

func (a *API) childDirectives(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.authorizeView(r, workflow.ItemDirective, id); err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	children, err := a.svc.ChildDirectives(r.Context(), id)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": children})
}

func (a *API) directiveHistory(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.authorizeView(r, workflow.ItemDirective, id); err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	history, err := a.svc.DirectiveHistory(r.Context(), id)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": history})
}
