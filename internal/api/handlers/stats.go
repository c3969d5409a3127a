package handlers

import (
	"net/http"

	"github.com/hivemind/hivemind/internal/api/middleware"
)

// CommonsStatsHandler aggregates the public tier across all tenants.
func (h *Handlers) CommonsStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Store.CommonsStats(r.Context())
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"commons":          stats,
		"live_subscribers": h.Hub.SubscriberCount(),
	})
}

// OrgStatsHandler aggregates the caller's tenant.
func (h *Handlers) OrgStatsHandler(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	stats, err := h.Store.TenantStats(r.Context(), identity.TenantID)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// UserStatsHandler aggregates the calling agent's contribution history.
func (h *Handlers) UserStatsHandler(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	stats, err := h.Store.AgentStats(r.Context(), identity.TenantID, identity.AgentID)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
