// Package handlers implements the HTTP surface of the HiveMind commons: the
// tool RPC dispatch, the REST mirror, the review endpoints, the SSE feed, and
// the discovery card.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/hivemind/hivemind/internal/auth"
	"github.com/hivemind/hivemind/internal/embeddings"
	"github.com/hivemind/hivemind/internal/ingest"
	"github.com/hivemind/hivemind/internal/notify"
	"github.com/hivemind/hivemind/internal/quality"
	"github.com/hivemind/hivemind/internal/ratelimit"
	"github.com/hivemind/hivemind/internal/rbac"
	"github.com/hivemind/hivemind/internal/retrieve"
	"github.com/hivemind/hivemind/internal/store"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store     store.Store
	Ingest    *ingest.Orchestrator
	Review    *ingest.ReviewService
	Retriever *retrieve.Service
	Recorder  *quality.Recorder
	RBAC      *rbac.Service
	Keys      *auth.APIKeyService
	Limiter   *ratelimit.Limiter
	Embedder  embeddings.Provider
	Hub       *notify.Hub
	Version   string

	validate *validator.Validate
}

// New creates a Handlers instance with all dependencies.
func New(
	s store.Store,
	orch *ingest.Orchestrator,
	review *ingest.ReviewService,
	retriever *retrieve.Service,
	recorder *quality.Recorder,
	rb *rbac.Service,
	keys *auth.APIKeyService,
	limiter *ratelimit.Limiter,
	embedder embeddings.Provider,
	hub *notify.Hub,
	version string,
) *Handlers {
	return &Handlers{
		Store:     s,
		Ingest:    orch,
		Review:    review,
		Retriever: retriever,
		Recorder:  recorder,
		RBAC:      rb,
		Keys:      keys,
		Limiter:   limiter,
		Embedder:  embedder,
		Hub:       hub,
		Version:   version,
		validate:  validator.New(),
	}
}

// decodeBody parses and validates a JSON request body. A malformed body is a
// 422; a body that fails validation tags is a 400.
func (h *Handlers) decodeBody(r *http.Request, v any) (int, error) {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return http.StatusUnprocessableEntity, errors.New("malformed request body")
	}
	if err := h.validate.Struct(v); err != nil {
		return http.StatusBadRequest, err
	}
	return 0, nil
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps pipeline and storage errors onto HTTP statuses.
func statusFor(err error) int {
	var nf *store.ErrNotFound
	var rl *ingest.RateLimitError
	switch {
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.As(err, &rl):
		return http.StatusTooManyRequests
	case errors.Is(err, ingest.ErrContentTooShort),
		errors.Is(err, ingest.ErrBadConfidence),
		errors.Is(err, ingest.ErrBadCategory),
		errors.Is(err, ingest.ErrInjectionDetected),
		errors.Is(err, ingest.ErrSensitiveContent),
		errors.Is(err, retrieve.ErrEmptyQuery),
		errors.Is(err, quality.ErrOutcomeRecorded):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrInvalidKey):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// respondFailure sends the mapped error. Internal failures hide their detail.
func respondFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	respondError(w, status, message)
}
