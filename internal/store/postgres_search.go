package store

import (
	"context"
	"fmt"
	"time"

	"github.com/hivemind/hivemind/pkg/models"
)

// hybridSearchSQL fuses vector and full-text rankings with reciprocal rank
// fusion (k=60), then boosts by quality score. One statement, one round trip.
//
// Params: $1 embedding, $2 tenant, $3 as-of time, $4 category (nullable),
// $5 version (nullable), $6 query text, $7 limit, $8 offset.
const hybridSearchSQL = `
WITH vec AS (
	SELECT id, ROW_NUMBER() OVER (ORDER BY embedding <=> $1) AS rank
	FROM knowledge_items
	WHERE (tenant_id = $2 OR is_public)
	  AND deleted_at IS NULL
	  AND expired_at IS NULL
	  AND (valid_at IS NULL OR valid_at <= $3)
	  AND (invalid_at IS NULL OR invalid_at > $3)
	  AND embedding IS NOT NULL
	  AND ($4::text IS NULL OR category = $4)
	  AND ($5::text IS NULL OR version = $5)
	ORDER BY embedding <=> $1
	LIMIT 20
),
txt AS (
	SELECT id, ROW_NUMBER() OVER (
		ORDER BY ts_rank_cd(to_tsvector('english', content),
		                    plainto_tsquery('english', $6)) DESC
	) AS rank
	FROM knowledge_items
	WHERE (tenant_id = $2 OR is_public)
	  AND deleted_at IS NULL
	  AND expired_at IS NULL
	  AND (valid_at IS NULL OR valid_at <= $3)
	  AND (invalid_at IS NULL OR invalid_at > $3)
	  AND to_tsvector('english', content) @@ plainto_tsquery('english', $6)
	  AND ($4::text IS NULL OR category = $4)
	  AND ($5::text IS NULL OR version = $5)
	ORDER BY ts_rank_cd(to_tsvector('english', content),
	                    plainto_tsquery('english', $6)) DESC
	LIMIT 20
),
fused AS (
	SELECT COALESCE(v.id, t.id) AS id,
	       COALESCE(1.0 / (60 + v.rank), 0) + COALESCE(1.0 / (60 + t.rank), 0) AS rrf
	FROM vec v FULL OUTER JOIN txt t ON v.id = t.id
)
SELECT k.id, k.content, k.content_hash, k.category, k.confidence, k.tenant_id,
       f.rrf * (0.7 + 0.3 * k.quality_score) AS final_score,
       COUNT(*) OVER () AS total
FROM fused f
JOIN knowledge_items k ON k.id = f.id
ORDER BY final_score DESC, k.id
LIMIT $7 OFFSET $8`

func (s *PostgresStore) SearchHybrid(ctx context.Context, q SearchQuery) ([]models.SearchHit, int, error) {
	at := time.Now().UTC()
	if q.AtTime != nil {
		at = *q.AtTime
	}
	var category *string
	if q.Category != nil {
		c := string(*q.Category)
		category = &c
	}

	rows, err := s.pool.Query(ctx, hybridSearchSQL,
		vectorText(q.Embedding), q.TenantID, at, category,
		nullable(q.Version), q.Query, q.Limit, q.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("hybrid search: %w", err)
	}
	defer rows.Close()

	var (
		hits  []models.SearchHit
		total int
	)
	for rows.Next() {
		var (
			hit     models.SearchHit
			content string
			tenant  string
		)
		if err := rows.Scan(&hit.ID, &content, &hit.ContentHash, &hit.Category,
			&hit.Confidence, &tenant, &hit.RelevanceScore, &total); err != nil {
			return nil, 0, fmt.Errorf("scan search hit: %w", err)
		}
		hit.Title = models.TitleOf(content)
		hit.TenantAttribution = models.AttributionPublic
		if tenant == q.TenantID {
			hit.TenantAttribution = models.AttributionOwn
		}
		hits = append(hits, hit)
	}
	return hits, total, rows.Err()
}

func (s *PostgresStore) VectorCandidates(ctx context.Context, tenantID string, embedding []float32, topK int, maxDistance float64) ([]DuplicateCandidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+itemColumns+`, embedding <=> $1 AS distance
		FROM knowledge_items
		WHERE (tenant_id = $2 OR is_public)
		  AND deleted_at IS NULL
		  AND expired_at IS NULL
		  AND embedding IS NOT NULL
		  AND (embedding <=> $1) < $3
		ORDER BY embedding <=> $1
		LIMIT $4`,
		vectorText(embedding), tenantID, maxDistance, topK)
	if err != nil {
		return nil, fmt.Errorf("vector candidates: %w", err)
	}
	defer rows.Close()

	var out []DuplicateCandidate
	for rows.Next() {
		var (
			item                             models.KnowledgeItem
			runID, framework, language, vers *string
			emb                              *string
			distance                         float64
		)
		if err := rows.Scan(
			&item.ID, &item.TenantID, &item.IsPublic, &item.SourceAgentID, &runID,
			&item.Content, &item.ContentHash, &item.Category, &item.Confidence,
			&framework, &language, &vers, &item.Tags, &emb,
			&item.QualityScore, &item.RetrievalCount, &item.HelpfulCount,
			&item.NotHelpfulCount, &item.ContributedAt, &item.ExpiredAt,
			&item.ValidAt, &item.InvalidAt, &item.DeletedAt, &item.ApprovedAt,
			&distance,
		); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		if runID != nil {
			item.RunID = *runID
		}
		if framework != nil {
			item.Framework = *framework
		}
		if language != nil {
			item.Language = *language
		}
		if vers != nil {
			item.Version = *vers
		}
		if emb != nil {
			item.Embedding = parseVector(*emb)
		}
		out = append(out, DuplicateCandidate{Item: item, Distance: distance})
	}
	return out, rows.Err()
}

func (s *PostgresStore) DuplicateGroups(ctx context.Context) ([]DuplicateGroup, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT content_hash, tenant_id, array_agg(id ORDER BY quality_score DESC, contributed_at)
		FROM knowledge_items
		WHERE deleted_at IS NULL AND expired_at IS NULL
		GROUP BY content_hash, tenant_id
		HAVING COUNT(*) > 1`)
	if err != nil {
		return nil, fmt.Errorf("duplicate groups: %w", err)
	}
	defer rows.Close()

	var out []DuplicateGroup
	for rows.Next() {
		var g DuplicateGroup
		if err := rows.Scan(&g.ContentHash, &g.TenantID, &g.ItemIDs); err != nil {
			return nil, fmt.Errorf("scan duplicate group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ContradictionClusters(ctx context.Context, since time.Time) ([]ContradictionCluster, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT k.category, k.tenant_id, array_agg(DISTINCT k.id)
		FROM quality_signals sig
		JOIN knowledge_items k ON k.id = sig.knowledge_item_id
		WHERE sig.signal_type = 'contradiction'
		  AND sig.created_at > $1
		  AND k.deleted_at IS NULL
		  AND k.expired_at IS NULL
		GROUP BY k.category, k.tenant_id
		HAVING COUNT(DISTINCT k.id) >= 2`, since)
	if err != nil {
		return nil, fmt.Errorf("contradiction clusters: %w", err)
	}
	defer rows.Close()

	var out []ContradictionCluster
	for rows.Next() {
		var c ContradictionCluster
		if err := rows.Scan(&c.Category, &c.TenantID, &c.ItemIDs); err != nil {
			return nil, fmt.Errorf("scan contradiction cluster: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) EmbeddingNeighbors(ctx context.Context, maxDistance float64) ([]NeighborPair, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.id, b.id
		FROM knowledge_items a
		JOIN knowledge_items b
		  ON a.category = b.category
		 AND a.tenant_id = b.tenant_id
		 AND a.id < b.id
		WHERE a.deleted_at IS NULL AND a.expired_at IS NULL AND a.embedding IS NOT NULL
		  AND b.deleted_at IS NULL AND b.expired_at IS NULL AND b.embedding IS NOT NULL
		  AND (a.embedding <=> b.embedding) < $1`, maxDistance)
	if err != nil {
		return nil, fmt.Errorf("embedding neighbors: %w", err)
	}
	defer rows.Close()

	var out []NeighborPair
	for rows.Next() {
		var p NeighborPair
		if err := rows.Scan(&p.A, &p.B); err != nil {
			return nil, fmt.Errorf("scan neighbor pair: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ── Stats ───────────────────────────────────────────────────

func (s *PostgresStore) CommonsStats(ctx context.Context) (*CommonsStats, error) {
	stats := &CommonsStats{Categories: map[string]int{}}
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(AVG(quality_score), 0)
		FROM knowledge_items
		WHERE is_public AND deleted_at IS NULL AND expired_at IS NULL`).
		Scan(&stats.PublicItems, &stats.AvgQuality)
	if err != nil {
		return nil, fmt.Errorf("commons stats: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT category, COUNT(*)
		FROM knowledge_items
		WHERE is_public AND deleted_at IS NULL AND expired_at IS NULL
		GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("commons category stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, err
		}
		stats.Categories[cat] = n
	}
	return stats, rows.Err()
}

func (s *PostgresStore) TenantStats(ctx context.Context, tenantID string) (*TenantStats, error) {
	stats := &TenantStats{}
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE is_public),
		       COALESCE(AVG(quality_score), 0)
		FROM knowledge_items
		WHERE tenant_id = $1 AND deleted_at IS NULL AND expired_at IS NULL`, tenantID).
		Scan(&stats.Items, &stats.PublicItems, &stats.AvgQuality)
	if err != nil {
		return nil, fmt.Errorf("tenant stats: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM pending_contributions WHERE tenant_id = $1`, tenantID).
		Scan(&stats.Pending)
	if err != nil {
		return nil, fmt.Errorf("tenant pending stats: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) AgentStats(ctx context.Context, tenantID, agentID string) (*AgentStats, error) {
	stats := &AgentStats{}
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(helpful_count), 0),
		       COALESCE(SUM(not_helpful_count), 0)
		FROM knowledge_items
		WHERE tenant_id = $1 AND source_agent_id = $2 AND deleted_at IS NULL`,
		tenantID, agentID).
		Scan(&stats.Contributions, &stats.Solved, &stats.NotHelpful)
	if err != nil {
		return nil, fmt.Errorf("agent stats: %w", err)
	}
	return stats, nil
}
