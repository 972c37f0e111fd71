package server

import (
	"net/http"

	"github.com/harborline/steward/internal/model"
)

// HandleListApprovals handles GET /v1/approvals. Returns pending
// approvals across all runs owned by the caller, oldest first.
func (h *Handlers) HandleListApprovals(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no claims in context")
		return
	}

	approvals, err := h.engine.ListPendingApprovals(r.Context(), caller)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, approvals)
}

// HandleApprove handles POST /v1/approvals/{approval_id}/approve.
func (h *Handlers) HandleApprove(w http.ResponseWriter, r *http.Request) {
	h.resolveApproval(w, r, true)
}

// HandleReject handles POST /v1/approvals/{approval_id}/reject.
func (h *Handlers) HandleReject(w http.ResponseWriter, r *http.Request) {
	h.resolveApproval(w, r, false)
}

func (h *Handlers) resolveApproval(w http.ResponseWriter, r *http.Request, approve bool) {
	caller, ok := callerFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no claims in context")
		return
	}
	approvalID, err := parseApprovalID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	// The body is optional; an empty body means no reviewer notes.
	var req model.ResolveApprovalRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
			handleDecodeError(w, r, err)
			return
		}
	}
	var notes *string
	if req.Notes != "" {
		notes = &req.Notes
	}

	var resolved model.Approval
	if approve {
		resolved, err = h.engine.Approve(r.Context(), caller, approvalID, notes)
	} else {
		resolved, err = h.engine.Reject(r.Context(), caller, approvalID, notes)
	}
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resolved)
}

// HandleApproveAll handles POST /v1/runs/{run_id}/approvals/approve-all.
// Partial success is reported per approval rather than failing the batch.
func (h *Handlers) HandleApproveAll(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no claims in context")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	result, err := h.engine.ApproveAll(r.Context(), caller, runID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}
