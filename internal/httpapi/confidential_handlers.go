package httpapi

import (
	"net/http"

	"rasd.org/internal/workflow"
)

type markRequest struct {
	MarkedBy              string `json:"marked_by"`
	MarkerCommitteeID     string `json:"marker_committee_id"`
	Reason                string `json:"reason"`
	MinChairmanOfficeRank *int   `json:"min_chairman_office_rank"`
}

type grantRequest struct {
	UserID    string `json:"user_id"`
	GrantedBy string `json:"granted_by"`
	Reason    string `json:"reason"`
}

func (a *API) markItem(w http.ResponseWriter, r *http.Request, itemType workflow.ItemType, id string) {
	if a.gate == nil {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	var req markRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	marker := a.actor(r, req.MarkedBy)

	marking, err := a.gate.Mark(r.Context(), itemType, id, marker, req.MarkerCommitteeID, req.Reason, req.MinChairmanOfficeRank)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, marking)
}

func (a *API) grantAccess(w http.ResponseWriter, r *http.Request, itemType workflow.ItemType, id string) {
	if a.gate == nil {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	var req grantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	grantor := a.actor(r, req.GrantedBy)

	grant, err := a.gate.Grant(r.Context(), itemType, id, req.UserID, grantor, req.Reason)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, grant)
}
