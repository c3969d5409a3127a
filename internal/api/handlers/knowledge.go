package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hivemind/hivemind/internal/api/middleware"
	"github.com/hivemind/hivemind/internal/retrieve"
	"github.com/hivemind/hivemind/internal/store"
	"github.com/hivemind/hivemind/pkg/models"
)

// fetchResponse shapes a single-item fetch. A hash mismatch is surfaced as a
// warning; the content is still returned.
func fetchResponse(res *retrieve.FetchResult) map[string]any {
	out := map[string]any{
		"item":               res.Item,
		"integrity_verified": res.IntegrityVerified,
	}
	if !res.IntegrityVerified {
		out["integrity_warning"] = "stored hash does not match content; item may have been altered outside the pipeline"
	}
	return out
}

func parseTimeArg(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339, raw)
}

// contributionEntry is the summary row of list_knowledge and the review UI.
type contributionEntry struct {
	ID            uuid.UUID       `json:"id"`
	Title         string          `json:"title"`
	Category      models.Category `json:"category"`
	Confidence    float64         `json:"confidence"`
	Status        string          `json:"status"`
	ContributedAt time.Time       `json:"contributed_at"`
}

type contributionPage struct {
	Contributions []contributionEntry `json:"contributions"`
	TotalCount    int                 `json:"total_count"`
	NextCursor    string              `json:"next_cursor,omitempty"`
}

// listContributions pages through pending rows, approved items, or both.
// For "all", pending rows come first and the offset runs across the
// concatenated sequence.
func (h *Handlers) listContributions(ctx context.Context, tenantID, status string, category *models.Category, limit, offset int) (*contributionPage, error) {
	if status == "" {
		status = "all"
	}

	entries := []contributionEntry{}
	total := 0
	start := offset

	if status == "pending" || status == "all" {
		pending, pendingTotal, err := h.Store.ListPending(ctx, tenantID, category, limit, offset)
		if err != nil {
			return nil, err
		}
		total += pendingTotal
		for _, p := range pending {
			entries = append(entries, contributionEntry{
				ID:            p.ID,
				Title:         p.Title(),
				Category:      p.Category,
				Confidence:    p.Confidence,
				Status:        "pending",
				ContributedAt: p.ContributedAt,
			})
		}
		if status == "all" {
			// Shift the window into the approved sequence once pending
			// rows are exhausted.
			offset -= pendingTotal
			if offset < 0 {
				offset = 0
			}
			limit -= len(entries)
		}
	}

	if status == "approved" || status == "all" {
		fetch := limit
		if fetch < 1 {
			// Page already full of pending rows; still need the total.
			fetch = 1
		}
		items, itemsTotal, err := h.Store.ListItems(ctx, store.ItemFilter{
			TenantID: tenantID,
			Category: category,
			Limit:    fetch,
			Offset:   offset,
		})
		if err != nil {
			return nil, err
		}
		total += itemsTotal
		if limit > 0 {
			for _, item := range items {
				entries = append(entries, contributionEntry{
					ID:            item.ID,
					Title:         item.Title(),
					Category:      item.Category,
					Confidence:    item.Confidence,
					Status:        "approved",
					ContributedAt: item.ContributedAt,
				})
			}
		}
	}

	page := &contributionPage{Contributions: entries, TotalCount: total}
	if start+len(entries) < total {
		page.NextCursor = retrieve.EncodeCursor(start + len(entries))
	}
	return page, nil
}

// ── REST mirror ──────────────────────────────────────────────

// AddKnowledge is the REST mirror of the add_knowledge tool.
func (h *Handlers) AddKnowledge(w http.ResponseWriter, r *http.Request) {
	h.toolAddKnowledge(w, r)
}

// SearchKnowledge is the REST mirror of search_knowledge.
func (h *Handlers) SearchKnowledge(w http.ResponseWriter, r *http.Request) {
	h.toolSearchKnowledge(w, r)
}

// GetKnowledge fetches one visible item by path id.
func (h *Handlers) GetKnowledge(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}
	res, err := h.Retriever.Fetch(r.Context(), id, identity.TenantID)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, fetchResponse(res))
}

// ListKnowledge is the REST mirror of list_knowledge, driven by query params.
func (h *Handlers) ListKnowledge(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	q := r.URL.Query()

	status := q.Get("status")
	switch status {
	case "", "pending", "approved", "all":
	default:
		respondError(w, http.StatusBadRequest, "status must be pending, approved, or all")
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
	limit := intParam(q.Get("limit"), 20)

	page, err := h.listContributions(r.Context(), identity.TenantID, status, category, limit, retrieve.DecodeCursor(q.Get("cursor")))
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

// DeleteKnowledge soft-deletes an item owned by the calling agent.
func (h *Handlers) DeleteKnowledge(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}
	if err := h.Store.SoftDeleteItem(r.Context(), id, identity.TenantID, identity.AgentID); err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"id":      id.String(),
		"status":  "deleted",
		"message": "knowledge item removed from retrieval",
	})
}

type publishRequest struct {
	IsPublic bool `json:"is_public"`
}

// PublishKnowledge toggles commons visibility. Reversible.
func (h *Handlers) PublishKnowledge(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}
	var req publishRequest
	if status, err := h.decodeBody(r, &req); err != nil {
		respondError(w, status, err.Error())
		return
	}
	if err := h.Store.SetItemPublic(r.Context(), id, identity.TenantID, req.IsPublic); err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id":        id.String(),
		"is_public": req.IsPublic,
	})
}

// ReportOutcome is the REST mirror of report_outcome.
func (h *Handlers) ReportOutcome(w http.ResponseWriter, r *http.Request) {
	h.toolReportOutcome(w, r)
}

type contradictionRequest struct {
	ItemID string         `json:"item_id" validate:"required,uuid"`
	Detail map[string]any `json:"detail"`
}

// ReportContradiction records a contradiction signal against a visible item.
func (h *Handlers) ReportContradiction(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	var req contradictionRequest
	if status, err := h.decodeBody(r, &req); err != nil {
		respondError(w, status, err.Error())
		return
	}
	itemID := uuid.MustParse(req.ItemID)
	if _, err := h.Store.GetVisibleItem(r.Context(), itemID, identity.TenantID); err != nil {
		respondFailure(w, err)
		return
	}
	if err := h.Recorder.RecordContradiction(r.Context(), itemID, identity.AgentID, req.Detail); err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"item_id": req.ItemID,
		"status":  "recorded",
	})
}

func intParam(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
