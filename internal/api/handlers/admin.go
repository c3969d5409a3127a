package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hivemind/hivemind/pkg/models"
	"github.com/rs/zerolog/log"
)

// ── Auto-approve rules ───────────────────────────────────────

type autoApproveRequest struct {
	Category string `json:"category" validate:"required"`
	Enabled  bool   `json:"enabled"`
}

// UpsertAutoApproveRule enables or disables the review bypass for a
// (tenant, category) pair.
func (h *Handlers) UpsertAutoApproveRule(w http.ResponseWriter, r *http.Request) {
	identity := h.requireAdmin(w, r)
	if identity == nil {
		return
	}
	var req autoApproveRequest
	if status, err := h.decodeBody(r, &req); err != nil {
		respondError(w, status, err.Error())
		return
	}
	category := models.Category(req.Category)
	if !category.Valid() {
		respondError(w, http.StatusBadRequest, "unknown category")
		return
	}
	rule := &models.AutoApproveRule{
		TenantID: identity.TenantID,
		Category: category,
		Enabled:  req.Enabled,
	}
	if err := h.Store.UpsertAutoApproveRule(r.Context(), rule); err != nil {
		respondFailure(w, err)
		return
	}
	log.Info().Str("tenant_id", identity.TenantID).Str("category", req.Category).
		Bool("enabled", req.Enabled).Msg("Auto-approve rule updated")
	respondJSON(w, http.StatusOK, rule)
}

// ── API keys ─────────────────────────────────────────────────

type mintKeyRequest struct {
	AgentID string `json:"agent_id" validate:"required"`
	Tier    string `json:"tier" validate:"omitempty,oneof=free pro enterprise"`
}

// MintAPIKey creates an hm_ key. The plaintext appears once in this response
// and is never retrievable again.
func (h *Handlers) MintAPIKey(w http.ResponseWriter, r *http.Request) {
	identity := h.requireAdmin(w, r)
	if identity == nil {
		return
	}
	var req mintKeyRequest
	if status, err := h.decodeBody(r, &req); err != nil {
		respondError(w, status, err.Error())
		return
	}
	plaintext, key, err := h.Keys.Mint(r.Context(), identity.TenantID, req.AgentID, models.Tier(req.Tier))
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"api_key": plaintext,
		"key":     key,
	})
}

// ListAPIKeys returns the tenant's key records. Hashes are never included.
func (h *Handlers) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	identity := h.requireAdmin(w, r)
	if identity == nil {
		return
	}
	keys, err := h.Store.ListAPIKeys(r.Context(), identity.TenantID)
	if err != nil {
		respondFailure(w, err)
		return
	}
	if keys == nil {
		keys = []models.APIKey{}
	}
	respondJSON(w, http.StatusOK, keys)
}

// RevokeAPIKey deactivates a key. Revocation is immediate and permanent.
func (h *Handlers) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	identity := h.requireAdmin(w, r)
	if identity == nil {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}
	if err := h.Store.RevokeAPIKey(r.Context(), id, identity.TenantID); err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id.String(), "status": "revoked"})
}

// ── Webhook endpoints ────────────────────────────────────────

type webhookRequest struct {
	URL        string   `json:"url" validate:"required,url"`
	EventTypes []string `json:"event_types"`
	Secret     string   `json:"secret"`
}

// RegisterWebhook adds a delivery target for the tenant's publication events.
func (h *Handlers) RegisterWebhook(w http.ResponseWriter, r *http.Request) {
	identity := h.requireAdmin(w, r)
	if identity == nil {
		return
	}
	var req webhookRequest
	if status, err := h.decodeBody(r, &req); err != nil {
		respondError(w, status, err.Error())
		return
	}
	endpoint := &models.WebhookEndpoint{
		TenantID:   identity.TenantID,
		URL:        req.URL,
		EventTypes: req.EventTypes,
		Secret:     req.Secret,
		IsActive:   true,
	}
	if err := h.Store.CreateWebhook(r.Context(), endpoint); err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, endpoint)
}

// ListWebhooks returns the tenant's registered endpoints.
func (h *Handlers) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	identity := h.requireAdmin(w, r)
	if identity == nil {
		return
	}
	hooks, err := h.Store.ListWebhooks(r.Context(), identity.TenantID)
	if err != nil {
		respondFailure(w, err)
		return
	}
	if hooks == nil {
		hooks = []models.WebhookEndpoint{}
	}
	respondJSON(w, http.StatusOK, hooks)
}

// DeleteWebhook removes a delivery target.
func (h *Handlers) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	identity := h.requireAdmin(w, r)
	if identity == nil {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}
	if err := h.Store.DeleteWebhook(r.Context(), id, identity.TenantID); err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id.String(), "status": "deleted"})
}
