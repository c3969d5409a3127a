package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hivemind/hivemind/internal/api/middleware"
	"github.com/hivemind/hivemind/internal/ingest"
	"github.com/hivemind/hivemind/internal/ratelimit"
	"github.com/hivemind/hivemind/internal/retrieve"
	"github.com/hivemind/hivemind/pkg/models"
)

// Wire statuses for the add_knowledge tool.
const (
	toolStatusQueued       = "queued"
	toolStatusAutoApproved = "auto_approved"
	toolStatusDuplicate    = "duplicate_detected"
)

// toolEnvelope is the non-HTTP error shape of the tool surface.
type toolEnvelope struct {
	IsError bool   `json:"isError"`
	Text    string `json:"text"`
}

func respondToolError(w http.ResponseWriter, status int, text string) {
	respondJSON(w, status, toolEnvelope{IsError: true, Text: text})
}

// ToolDispatch routes POST /rpc/tools/{tool} over the closed tool set. The
// set is fixed; unknown names are 404s, not extension points.
func (h *Handlers) ToolDispatch(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		respondToolError(w, http.StatusUnauthorized, "missing credential")
		return
	}

	switch chi.URLParam(r, "tool") {
	case "add_knowledge":
		h.toolAddKnowledge(w, r)
	case "search_knowledge":
		h.toolSearchKnowledge(w, r)
	case "list_knowledge":
		h.toolListKnowledge(w, r)
	case "delete_knowledge":
		h.toolDeleteKnowledge(w, r)
	case "publish_knowledge":
		h.toolPublishKnowledge(w, r)
	case "manage_roles":
		h.toolManageRoles(w, r)
	case "report_outcome":
		h.toolReportOutcome(w, r)
	default:
		respondToolError(w, http.StatusNotFound, "unknown tool")
	}
}

type addKnowledgeArgs struct {
	Content    string   `json:"content" validate:"required"`
	Category   string   `json:"category"`
	Confidence *float64 `json:"confidence"`
	Framework  string   `json:"framework"`
	Language   string   `json:"language"`
	Version    string   `json:"version"`
	Tags       []string `json:"tags"`
	RunID      string   `json:"run_id"`
	IsPublic   bool     `json:"is_public"`
}

type addKnowledgeResult struct {
	ContributionID string `json:"contribution_id"`
	Status         string `json:"status"`
	Category       string `json:"category"`
	Message        string `json:"message"`
	DuplicateOf    string `json:"duplicate_of,omitempty"`
}

func (h *Handlers) toolAddKnowledge(w http.ResponseWriter, r *http.Request) {
	var args addKnowledgeArgs
	if status, err := h.decodeBody(r, &args); err != nil {
		respondToolError(w, status, err.Error())
		return
	}
	identity := middleware.GetIdentity(r.Context())

	confidence := 0.8
	if args.Confidence != nil {
		confidence = *args.Confidence
	}
	tags := map[string]any{}
	for _, tag := range args.Tags {
		tags[tag] = true
	}

	res, err := h.Ingest.Submit(r.Context(), ingest.Contribution{
		TenantID:   identity.TenantID,
		AgentID:    identity.AgentID,
		RunID:      args.RunID,
		Tier:       identity.Tier,
		Content:    args.Content,
		Category:   models.Category(args.Category),
		Confidence: confidence,
		Framework:  args.Framework,
		Language:   args.Language,
		Version:    args.Version,
		Tags:       tags,
		IsPublic:   args.IsPublic,
	})
	if err != nil {
		respondToolError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, addResultFromPipeline(res, args.Category))
}

// addResultFromPipeline collapses the pipeline statuses onto the three wire
// statuses of the tool contract.
func addResultFromPipeline(res *ingest.Result, requested string) addKnowledgeResult {
	out := addKnowledgeResult{Category: requested, Message: res.Reason}
	if requested == "" {
		out.Category = string(models.CategoryGeneral)
	}

	switch res.Status {
	case ingest.StatusApproved, ingest.StatusUpdated, ingest.StatusVersionForked:
		out.Status = toolStatusAutoApproved
		out.ContributionID = res.ItemID.String()
		if out.Message == "" {
			out.Message = "knowledge item approved and searchable"
		}
	case ingest.StatusDuplicateDetected:
		out.Status = toolStatusDuplicate
		out.DuplicateOf = res.DuplicateOf.String()
		if out.Message == "" {
			out.Message = "an equivalent knowledge item already exists"
		}
	default:
		out.Status = toolStatusQueued
		out.ContributionID = res.PendingID.String()
		if out.Message == "" {
			out.Message = "contribution queued for review"
		}
	}
	return out
}

type searchKnowledgeArgs struct {
	Query    string  `json:"query"`
	ID       string  `json:"id"`
	Category string  `json:"category"`
	Limit    int     `json:"limit"`
	Cursor   string  `json:"cursor"`
	AtTime   *string `json:"at_time"`
	Version  string  `json:"version"`
}

func (h *Handlers) toolSearchKnowledge(w http.ResponseWriter, r *http.Request) {
	var args searchKnowledgeArgs
	if status, err := h.decodeBody(r, &args); err != nil {
		respondToolError(w, status, err.Error())
		return
	}
	identity := middleware.GetIdentity(r.Context())

	rate, err := h.Limiter.Check(r.Context(), ratelimit.OpQuery, identity.TenantID, identity.AgentID, identity.Tier)
	if err != nil {
		respondToolError(w, http.StatusInternalServerError, "rate check failed")
		return
	}
	if !rate.Allowed {
		respondToolError(w, http.StatusTooManyRequests, "query rate limit exceeded")
		return
	}

	// An id argument turns the call into a single-item fetch.
	if args.ID != "" {
		id, err := uuid.Parse(args.ID)
		if err != nil {
			respondToolError(w, http.StatusBadRequest, "id must be a UUID")
			return
		}
		res, err := h.Retriever.Fetch(r.Context(), id, identity.TenantID)
		if err != nil {
			respondToolError(w, statusFor(err), err.Error())
			return
		}
		respondJSON(w, http.StatusOK, fetchResponse(res))
		return
	}

	req := retrieve.SearchRequest{
		TenantID: identity.TenantID,
		AgentID:  identity.AgentID,
		Query:    args.Query,
		Limit:    args.Limit,
		Cursor:   args.Cursor,
		Version:  args.Version,
	}
	if args.Category != "" {
		cat := models.Category(args.Category)
		if !cat.Valid() {
			respondToolError(w, http.StatusBadRequest, "unknown category")
			return
		}
		req.Category = &cat
	}
	if args.AtTime != nil {
		at, err := parseTimeArg(*args.AtTime)
		if err != nil {
			respondToolError(w, http.StatusBadRequest, "at_time must be ISO-8601")
			return
		}
		req.AtTime = &at
	}

	resp, err := h.Retriever.Search(r.Context(), req)
	if err != nil {
		respondToolError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

type listKnowledgeArgs struct {
	Status   string `json:"status" validate:"omitempty,oneof=pending approved all"`
	Category string `json:"category"`
	Limit    int    `json:"limit"`
	Cursor   string `json:"cursor"`
}

func (h *Handlers) toolListKnowledge(w http.ResponseWriter, r *http.Request) {
	var args listKnowledgeArgs
	if status, err := h.decodeBody(r, &args); err != nil {
		respondToolError(w, status, err.Error())
		return
	}
	identity := middleware.GetIdentity(r.Context())

	limit := args.Limit
	if limit <= 0 {
		limit = 20
	}
	var category *models.Category
	if args.Category != "" {
		cat := models.Category(args.Category)
		if !cat.Valid() {
			respondToolError(w, http.StatusBadRequest, "unknown category")
			return
		}
		category = &cat
	}

	page, err := h.listContributions(r.Context(), identity.TenantID, args.Status, category, limit, retrieve.DecodeCursor(args.Cursor))
	if err != nil {
		respondToolError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, page)
}

type deleteKnowledgeArgs struct {
	ID string `json:"id" validate:"required,uuid"`
}

func (h *Handlers) toolDeleteKnowledge(w http.ResponseWriter, r *http.Request) {
	var args deleteKnowledgeArgs
	if status, err := h.decodeBody(r, &args); err != nil {
		respondToolError(w, status, err.Error())
		return
	}
	identity := middleware.GetIdentity(r.Context())

	id := uuid.MustParse(args.ID)
	if err := h.Store.SoftDeleteItem(r.Context(), id, identity.TenantID, identity.AgentID); err != nil {
		respondToolError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"id":      args.ID,
		"status":  "deleted",
		"message": "knowledge item removed from retrieval",
	})
}

type publishKnowledgeArgs struct {
	ID       string `json:"id" validate:"required,uuid"`
	IsPublic bool   `json:"is_public"`
}

func (h *Handlers) toolPublishKnowledge(w http.ResponseWriter, r *http.Request) {
	var args publishKnowledgeArgs
	if status, err := h.decodeBody(r, &args); err != nil {
		respondToolError(w, status, err.Error())
		return
	}
	identity := middleware.GetIdentity(r.Context())

	id := uuid.MustParse(args.ID)
	if err := h.Store.SetItemPublic(r.Context(), id, identity.TenantID, args.IsPublic); err != nil {
		respondToolError(w, statusFor(err), err.Error())
		return
	}
	message := "knowledge item shared with the public commons"
	if !args.IsPublic {
		message = "knowledge item withdrawn from the public commons"
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id":        args.ID,
		"is_public": args.IsPublic,
		"message":   message,
	})
}

type manageRolesArgs struct {
	Action     string `json:"action" validate:"required,oneof=assign_role get_roles add_permission remove_permission"`
	AgentID    string `json:"agent_id" validate:"required"`
	Role       string `json:"role"`
	Obj        string `json:"obj"`
	Permission string `json:"permission"`
}

func (h *Handlers) toolManageRoles(w http.ResponseWriter, r *http.Request) {
	var args manageRolesArgs
	if status, err := h.decodeBody(r, &args); err != nil {
		respondToolError(w, status, err.Error())
		return
	}
	identity := middleware.GetIdentity(r.Context())

	// Reading roles is open to the tenant; mutations need admin rights.
	if args.Action != "get_roles" {
		ok, err := h.RBAC.RequireAdmin(identity.AgentID, identity.TenantID)
		if err != nil {
			respondToolError(w, http.StatusInternalServerError, "policy check failed")
			return
		}
		if !ok {
			respondToolError(w, http.StatusNotFound, "not found")
			return
		}
	}

	switch args.Action {
	case "assign_role":
		if args.Role == "" {
			respondToolError(w, http.StatusBadRequest, "role is required")
			return
		}
		if err := h.RBAC.AssignRole(args.AgentID, args.Role, identity.TenantID); err != nil {
			respondToolError(w, http.StatusInternalServerError, "role assignment failed")
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{
			"agent_id": args.AgentID,
			"role":     args.Role,
			"status":   "assigned",
		})
	case "get_roles":
		roles, err := h.RBAC.RolesFor(args.AgentID, identity.TenantID)
		if err != nil {
			respondToolError(w, http.StatusInternalServerError, "role lookup failed")
			return
		}
		if roles == nil {
			roles = []string{}
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"agent_id": args.AgentID,
			"roles":    roles,
		})
	case "add_permission", "remove_permission":
		if args.Obj == "" || args.Permission == "" {
			respondToolError(w, http.StatusBadRequest, "obj and permission are required")
			return
		}
		var err error
		if args.Action == "add_permission" {
			err = h.RBAC.AddPermission(args.AgentID, identity.TenantID, args.Obj, args.Permission)
		} else {
			err = h.RBAC.RemovePermission(args.AgentID, identity.TenantID, args.Obj, args.Permission)
		}
		if err != nil {
			respondToolError(w, http.StatusInternalServerError, "permission update failed")
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{
			"agent_id":   args.AgentID,
			"obj":        args.Obj,
			"permission": args.Permission,
			"status":     "updated",
		})
	}
}

type reportOutcomeArgs struct {
	ItemID  string `json:"item_id" validate:"required,uuid"`
	Outcome string `json:"outcome" validate:"required,oneof=solved did_not_help"`
	RunID   string `json:"run_id"`
}

func (h *Handlers) toolReportOutcome(w http.ResponseWriter, r *http.Request) {
	var args reportOutcomeArgs
	if status, err := h.decodeBody(r, &args); err != nil {
		respondToolError(w, status, err.Error())
		return
	}
	identity := middleware.GetIdentity(r.Context())

	itemID := uuid.MustParse(args.ItemID)
	// Visibility check first so cross-tenant ids read as absent.
	if _, err := h.Store.GetVisibleItem(r.Context(), itemID, identity.TenantID); err != nil {
		respondToolError(w, statusFor(err), err.Error())
		return
	}

	solved := args.Outcome == "solved"
	sig, err := h.Recorder.RecordOutcome(r.Context(), itemID, identity.AgentID, args.RunID, solved)
	status := "recorded"
	switch {
	case err == nil:
	case sig != nil: // ErrOutcomeRecorded replays the original signal
		status = "already_recorded"
	default:
		respondToolError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":    status,
		"item_id":   args.ItemID,
		"outcome":   args.Outcome,
		"signal_id": sig.ID.String(),
	})
}
