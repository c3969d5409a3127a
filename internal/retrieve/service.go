// Package retrieve implements hybrid knowledge retrieval: embedding the
// query, delegating to the store's fused ranking, deduplicating the page,
// and recording retrieval signals off the request path.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hivemind/hivemind/internal/config"
	"github.com/hivemind/hivemind/internal/embeddings"
	"github.com/hivemind/hivemind/internal/integrity"
	"github.com/hivemind/hivemind/internal/quality"
	"github.com/hivemind/hivemind/internal/store"
	"github.com/hivemind/hivemind/pkg/models"
	"github.com/rs/zerolog/log"
)

// ErrEmptyQuery rejects searches with no query text.
var ErrEmptyQuery = errors.New("query text is required")

const defaultLimit = 10

// SearchRequest is one retrieval call.
type SearchRequest struct {
	TenantID string
	AgentID  string
	RunID    string
	Query    string
	Category *models.Category
	Limit    int
	Cursor   string
	AtTime   *time.Time
	Version  string
}

// SearchResponse is one result page.
type SearchResponse struct {
	Results    []models.SearchHit `json:"results"`
	Total      int                `json:"total_found"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

// FetchResult carries a full item plus its integrity check outcome.
type FetchResult struct {
	Item              *models.KnowledgeItem `json:"item"`
	IntegrityVerified bool                  `json:"integrity_verified"`
}

// Service wires the retriever dependencies.
type Service struct {
	store    store.Store
	embedder embeddings.Provider
	recorder *quality.Recorder
}

func NewService(st store.Store, embedder embeddings.Provider, recorder *quality.Recorder) *Service {
	return &Service{store: st, embedder: embedder, recorder: recorder}
}

// Search runs one hybrid retrieval pass.
func (s *Service) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if req.Query == "" {
		return nil, ErrEmptyQuery
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > config.MaxSearchLimit {
		limit = config.MaxSearchLimit
	}
	offset := DecodeCursor(req.Cursor)

	embedding, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, total, err := s.store.SearchHybrid(ctx, store.SearchQuery{
		TenantID:  req.TenantID,
		Query:     req.Query,
		Embedding: embedding,
		Category:  req.Category,
		Limit:     limit,
		Offset:    offset,
		AtTime:    req.AtTime,
		Version:   req.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}

	// Cross-tenant copies of the same content can both rank; keep the first.
	seen := map[string]bool{}
	deduped := hits[:0]
	for _, hit := range hits {
		if hit.ContentHash != "" && seen[hit.ContentHash] {
			total--
			continue
		}
		seen[hit.ContentHash] = true
		deduped = append(deduped, hit)
	}

	resp := &SearchResponse{Results: deduped, Total: total}
	if offset+len(deduped) < total {
		resp.NextCursor = EncodeCursor(offset + len(deduped))
	}

	if len(deduped) > 0 {
		ids := make([]uuid.UUID, len(deduped))
		for i, hit := range deduped {
			ids[i] = hit.ID
		}
		go func() {
			bg, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			s.recorder.RecordRetrievals(bg, ids, req.AgentID, req.RunID)
		}()
	}
	return resp, nil
}

// Fetch returns one visible item with its content hash re-verified. A
// mismatch is surfaced, not hidden; the caller decides whether to trust it.
func (s *Service) Fetch(ctx context.Context, id uuid.UUID, tenantID string) (*FetchResult, error) {
	item, err := s.store.GetVisibleItem(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}
	verified := integrity.Verify(item.Content, item.ContentHash)
	if !verified {
		log.Error().Str("item_id", id.String()).Msg("Content hash mismatch on fetch")
	}
	return &FetchResult{Item: item, IntegrityVerified: verified}, nil
}
