package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hivemind/hivemind/internal/api/middleware"
	"github.com/hivemind/hivemind/internal/auth"
	"github.com/hivemind/hivemind/internal/retrieve"
	"github.com/hivemind/hivemind/pkg/models"
)

// requireAdmin gates the review and management surface. Denials read as
// not-found so the endpoints do not advertise themselves to non-admins.
func (h *Handlers) requireAdmin(w http.ResponseWriter, r *http.Request) *auth.Identity {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		respondError(w, http.StatusUnauthorized, "missing credential")
		return nil
	}
	ok, err := h.RBAC.RequireAdmin(identity.AgentID, identity.TenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "policy check failed")
		return nil
	}
	if !ok {
		respondError(w, http.StatusNotFound, "not found")
		return nil
	}
	return identity
}

// ListContributions serves the review queue. With ?claim=true the returned
// rows are leased to this reviewer; concurrent reviewers never see the same
// row until the lease expires.
func (h *Handlers) ListContributions(w http.ResponseWriter, r *http.Request) {
	identity := h.requireAdmin(w, r)
	if identity == nil {
		return
	}
	q := r.URL.Query()
	limit := intParam(q.Get("limit"), 20)

	if q.Get("claim") == "true" {
		pending, err := h.Store.ClaimPending(r.Context(), identity.TenantID, limit)
		if err != nil {
			respondFailure(w, err)
			return
		}
		if pending == nil {
			pending = []models.PendingContribution{}
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"contributions": pending,
			"claimed":       true,
		})
		return
	}

	var category *models.Category
	if raw := q.Get("category"); raw != "" {
		cat := models.Category(raw)
		if !cat.Valid() {
			respondError(w, http.StatusBadRequest, "unknown category")
			return
		}
		category = &cat
	}
	page, err := h.listContributions(r.Context(), identity.TenantID, "pending", category, limit, retrieve.DecodeCursor(q.Get("cursor")))
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

type releaseRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,uuid"`
}

// ReleaseContributions returns claimed rows to the queue without a verdict.
func (h *Handlers) ReleaseContributions(w http.ResponseWriter, r *http.Request) {
	if identity := h.requireAdmin(w, r); identity == nil {
		return
	}
	var req releaseRequest
	if status, err := h.decodeBody(r, &req); err != nil {
		respondError(w, status, err.Error())
		return
	}
	ids := make([]uuid.UUID, len(req.IDs))
	for i, raw := range req.IDs {
		ids[i] = uuid.MustParse(raw)
	}
	if err := h.Store.ReleasePending(r.Context(), ids); err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"released": len(ids)})
}

// ApproveContribution promotes a pending row into the knowledge base.
func (h *Handlers) ApproveContribution(w http.ResponseWriter, r *http.Request) {
	identity := h.requireAdmin(w, r)
	if identity == nil {
		return
	}
	pendingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}

	pending, err := h.Store.GetPending(r.Context(), pendingID, identity.TenantID)
	if err != nil {
		respondFailure(w, err)
		return
	}
	embedding, err := h.Embedder.Embed(r.Context(), pending.Content)
	if err != nil {
		respondFailure(w, err)
		return
	}
	item, err := h.Review.Approve(r.Context(), pendingID, identity.TenantID, identity.AgentID, embedding)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "approved",
		"knowledge_item_id": item.ID,
	})
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// RejectContribution discards a pending row.
func (h *Handlers) RejectContribution(w http.ResponseWriter, r *http.Request) {
	identity := h.requireAdmin(w, r)
	if identity == nil {
		return
	}
	pendingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}
	var req rejectRequest
	if r.ContentLength > 0 {
		if status, err := h.decodeBody(r, &req); err != nil {
			respondError(w, status, err.Error())
			return
		}
	}
	if err := h.Review.Reject(r.Context(), pendingID, identity.TenantID, identity.AgentID, req.Reason); err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "rejected",
		"id":     pendingID.String(),
	})
}
