package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hivemind/hivemind/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresStore implements Store on PostgreSQL with the pgvector extension.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and verifies reachability.
func NewPostgresStore(ctx context.Context, connURL string, maxConns int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	log.Info().Int("max_conns", maxConns).Msg("postgres store initialized")
	return &PostgresStore{pool: pool}, nil
}

// Pool exposes the underlying pool for collaborators that need raw access
// (the NOTIFY publisher and the casbin adapter).
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// ── Vector text codec ───────────────────────────────────────

// vectorText converts a float32 slice to pgvector's text format: [1,2,3]
func vectorText(v []float32) *string {
	if v == nil {
		return nil
	}
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	sb.WriteByte(']')
	s := sb.String()
	return &s
}

// parseVector parses pgvector's text format back into a float32 slice.
func parseVector(s string) []float32 {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			continue
		}
		out = append(out, float32(f))
	}
	return out
}

// ── Knowledge items ─────────────────────────────────────────

const itemColumns = `id, tenant_id, is_public, source_agent_id, run_id, content,
	content_hash, category, confidence, framework, language, version, tags,
	embedding::text, quality_score, retrieval_count, helpful_count,
	not_helpful_count, contributed_at, expired_at, valid_at, invalid_at,
	deleted_at, approved_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*models.KnowledgeItem, error) {
	var (
		item                              models.KnowledgeItem
		runID, framework, language, vers  *string
		embedding                         *string
	)
	err := row.Scan(
		&item.ID, &item.TenantID, &item.IsPublic, &item.SourceAgentID, &runID,
		&item.Content, &item.ContentHash, &item.Category, &item.Confidence,
		&framework, &language, &vers, &item.Tags, &embedding,
		&item.QualityScore, &item.RetrievalCount, &item.HelpfulCount,
		&item.NotHelpfulCount, &item.ContributedAt, &item.ExpiredAt,
		&item.ValidAt, &item.InvalidAt, &item.DeletedAt, &item.ApprovedAt,
	)
	if err != nil {
		return nil, err
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
	if embedding != nil {
		item.Embedding = parseVector(*embedding)
	}
	return &item, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *PostgresStore) CreateItem(ctx context.Context, item *models.KnowledgeItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.ContributedAt.IsZero() {
		item.ContributedAt = time.Now().UTC()
	}
	if item.Tags == nil {
		item.Tags = map[string]any{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO knowledge_items (
			id, tenant_id, is_public, source_agent_id, run_id, content,
			content_hash, category, confidence, framework, language, version,
			tags, embedding, quality_score, retrieval_count, helpful_count,
			not_helpful_count, contributed_at, expired_at, valid_at,
			invalid_at, deleted_at, approved_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`,
		item.ID, item.TenantID, item.IsPublic, item.SourceAgentID,
		nullable(item.RunID), item.Content, item.ContentHash,
		string(item.Category), item.Confidence, nullable(item.Framework),
		nullable(item.Language), nullable(item.Version), item.Tags,
		vectorText(item.Embedding), item.QualityScore, item.RetrievalCount,
		item.HelpfulCount, item.NotHelpfulCount, item.ContributedAt,
		item.ExpiredAt, item.ValidAt, item.InvalidAt, item.DeletedAt,
		item.ApprovedAt,
	)
	if err != nil {
		return fmt.Errorf("create knowledge item: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetItem(ctx context.Context, id uuid.UUID) (*models.KnowledgeItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM knowledge_items WHERE id = $1`, id)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "knowledge item", Key: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("get knowledge item: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetVisibleItem(ctx context.Context, id uuid.UUID, tenantID string) (*models.KnowledgeItem, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+itemColumns+` FROM knowledge_items
		WHERE id = $1 AND (tenant_id = $2 OR is_public) AND deleted_at IS NULL`,
		id, tenantID)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "knowledge item", Key: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("get visible item: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) SoftDeleteItem(ctx context.Context, id uuid.UUID, tenantID, agentID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE knowledge_items SET deleted_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND source_agent_id = $3 AND deleted_at IS NULL`,
		id, tenantID, agentID)
	if err != nil {
		return fmt.Errorf("soft delete item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "knowledge item", Key: id.String()}
	}
	return nil
}

func (s *PostgresStore) SetItemPublic(ctx context.Context, id uuid.UUID, tenantID string, isPublic bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE knowledge_items SET is_public = $3
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`,
		id, tenantID, isPublic)
	if err != nil {
		return fmt.Errorf("set item public: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "knowledge item", Key: id.String()}
	}
	return nil
}

func (s *PostgresStore) SupersedeItem(ctx context.Context, id uuid.UUID, tenantID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE knowledge_items SET expired_at = $3
		WHERE id = $1 AND tenant_id = $2 AND expired_at IS NULL`, id, tenantID, at)
	if err != nil {
		return fmt.Errorf("supersede item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "knowledge item", Key: id.String()}
	}
	return nil
}

func (s *PostgresStore) InvalidateItem(ctx context.Context, id uuid.UUID, tenantID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE knowledge_items SET invalid_at = $3
		WHERE id = $1 AND tenant_id = $2 AND invalid_at IS NULL`, id, tenantID, at)
	if err != nil {
		return fmt.Errorf("invalidate item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "knowledge item", Key: id.String()}
	}
	return nil
}

func (s *PostgresStore) UpdateItemTags(ctx context.Context, id uuid.UUID, tags map[string]any) error {
	if tags == nil {
		tags = map[string]any{}
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE knowledge_items SET tags = $2 WHERE id = $1`, id, tags)
	if err != nil {
		return fmt.Errorf("update item tags: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateQualityScore(ctx context.Context, id uuid.UUID, score float64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE knowledge_items SET quality_score = $2 WHERE id = $1`, id, score)
	if err != nil {
		return fmt.Errorf("update quality score: %w", err)
	}
	return nil
}

func (s *PostgresStore) IncrementRetrievalCounts(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE knowledge_items SET retrieval_count = retrieval_count + 1 WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("increment retrieval counts: %w", err)
	}
	return nil
}

func (s *PostgresStore) IncrementOutcomeCount(ctx context.Context, id uuid.UUID, helpful bool) error {
	column := "not_helpful_count"
	if helpful {
		column = "helpful_count"
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE knowledge_items SET `+column+` = `+column+` + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment outcome count: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCurrentItems(ctx context.Context) ([]models.KnowledgeItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+itemColumns+` FROM knowledge_items
		WHERE deleted_at IS NULL AND expired_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("list current items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

func (s *PostgresStore) ListItems(ctx context.Context, f ItemFilter) ([]models.KnowledgeItem, int, error) {
	where := `WHERE tenant_id = $1 AND deleted_at IS NULL AND expired_at IS NULL`
	args := []any{f.TenantID}
	if f.Category != nil {
		where += ` AND category = $2`
		args = append(args, string(*f.Category))
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM knowledge_items `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count items: %w", err)
	}

	limitIdx := len(args) + 1
	args = append(args, f.Limit, f.Offset)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM knowledge_items %s ORDER BY contributed_at DESC LIMIT $%d OFFSET $%d`,
		itemColumns, where, limitIdx, limitIdx+1), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items, err := collectItems(rows)
	return items, total, err
}

func collectItems(rows pgx.Rows) ([]models.KnowledgeItem, error) {
	var items []models.KnowledgeItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// ── Pending contributions ───────────────────────────────────

const pendingColumns = `id, tenant_id, source_agent_id, run_id, content,
	content_hash, category, confidence, framework, language, version, tags,
	is_sensitive_flagged, contributed_at, claimed_at`

func scanPending(row rowScanner) (*models.PendingContribution, error) {
	var (
		p                                models.PendingContribution
		runID, framework, language, vers *string
	)
	err := row.Scan(
		&p.ID, &p.TenantID, &p.SourceAgentID, &runID, &p.Content,
		&p.ContentHash, &p.Category, &p.Confidence, &framework, &language,
		&vers, &p.Tags, &p.IsSensitiveFlagged, &p.ContributedAt, &p.ClaimedAt,
	)
	if err != nil {
		return nil, err
	}
	if runID != nil {
		p.RunID = *runID
	}
	if framework != nil {
		p.Framework = *framework
	}
	if language != nil {
		p.Language = *language
	}
	if vers != nil {
		p.Version = *vers
	}
	return &p, nil
}

func (s *PostgresStore) CreatePending(ctx context.Context, p *models.PendingContribution) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.ContributedAt.IsZero() {
		p.ContributedAt = time.Now().UTC()
	}
	if p.Tags == nil {
		p.Tags = map[string]any{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pending_contributions (
			id, tenant_id, source_agent_id, run_id, content, content_hash,
			category, confidence, framework, language, version, tags,
			is_sensitive_flagged, contributed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		p.ID, p.TenantID, p.SourceAgentID, nullable(p.RunID), p.Content,
		p.ContentHash, string(p.Category), p.Confidence,
		nullable(p.Framework), nullable(p.Language), nullable(p.Version),
		p.Tags, p.IsSensitiveFlagged, p.ContributedAt,
	)
	if err != nil {
		return fmt.Errorf("create pending contribution: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPending(ctx context.Context, id uuid.UUID, tenantID string) (*models.PendingContribution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pendingColumns+` FROM pending_contributions WHERE id = $1 AND tenant_id = $2`,
		id, tenantID)
	p, err := scanPending(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "pending contribution", Key: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("get pending contribution: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) DeletePending(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pending_contributions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete pending contribution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "pending contribution", Key: id.String()}
	}
	return nil
}

func (s *PostgresStore) ListPending(ctx context.Context, tenantID string, category *models.Category, limit, offset int) ([]models.PendingContribution, int, error) {
	where := `WHERE tenant_id = $1`
	args := []any{tenantID}
	if category != nil {
		where += ` AND category = $2`
		args = append(args, string(*category))
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM pending_contributions `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count pending: %w", err)
	}

	limitIdx := len(args) + 1
	args = append(args, limit, offset)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM pending_contributions %s ORDER BY contributed_at LIMIT $%d OFFSET $%d`,
		pendingColumns, where, limitIdx, limitIdx+1), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var out []models.PendingContribution
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan pending: %w", err)
		}
		out = append(out, *p)
	}
	return out, total, rows.Err()
}

// claimLease is how long a claimed pending row stays invisible to other
// reviewers before rejoining the queue.
const claimLease = 60 * time.Second

func (s *PostgresStore) ClaimPending(ctx context.Context, tenantID string, limit int) ([]models.PendingContribution, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		WITH claimable AS (
			SELECT id FROM pending_contributions
			WHERE tenant_id = $1
			  AND (claimed_at IS NULL OR claimed_at < NOW() - INTERVAL '%d seconds')
			ORDER BY contributed_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE pending_contributions p SET claimed_at = NOW()
		FROM claimable c WHERE p.id = c.id
		RETURNING p.id, p.tenant_id, p.source_agent_id, p.run_id, p.content,
			p.content_hash, p.category, p.confidence, p.framework, p.language,
			p.version, p.tags, p.is_sensitive_flagged, p.contributed_at, p.claimed_at`,
		int(claimLease.Seconds())),
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending: %w", err)
	}
	defer rows.Close()

	var out []models.PendingContribution
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed pending: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ReleasePending(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE pending_contributions SET claimed_at = NULL WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("release pending: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pending_contributions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ListUnflaggedPending(ctx context.Context) ([]models.PendingContribution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pendingColumns+` FROM pending_contributions WHERE NOT is_sensitive_flagged`)
	if err != nil {
		return nil, fmt.Errorf("list unflagged pending: %w", err)
	}
	defer rows.Close()

	var out []models.PendingContribution
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FlagPending(ctx context.Context, id uuid.UUID, preliminaryScore float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE pending_contributions
		SET is_sensitive_flagged = TRUE,
		    tags = tags || jsonb_build_object(
		        'low_quality_prescreened', true,
		        'preliminary_quality_score', $2::float8)
		WHERE id = $1`, id, preliminaryScore)
	if err != nil {
		return fmt.Errorf("flag pending: %w", err)
	}
	return nil
}

// ── Quality signals ─────────────────────────────────────────

func (s *PostgresStore) CreateSignal(ctx context.Context, sig *models.QualitySignal) error {
	if sig.ID == uuid.Nil {
		sig.ID = uuid.New()
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO quality_signals (id, knowledge_item_id, signal_type, agent_id, run_id, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		sig.ID, sig.KnowledgeItemID, string(sig.SignalType),
		nullable(sig.AgentID), nullable(sig.RunID), sig.Metadata, sig.CreatedAt)
	if err != nil {
		return fmt.Errorf("create signal: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindOutcomeSignal(ctx context.Context, itemID uuid.UUID, runID string) (*models.QualitySignal, error) {
	var sig models.QualitySignal
	var agentID, run *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, knowledge_item_id, signal_type, agent_id, run_id, metadata, created_at
		FROM quality_signals
		WHERE knowledge_item_id = $1 AND run_id = $2
		  AND signal_type IN ('outcome_solved', 'outcome_not_helpful')
		LIMIT 1`, itemID, runID).Scan(
		&sig.ID, &sig.KnowledgeItemID, &sig.SignalType, &agentID, &run, &sig.Metadata, &sig.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "quality signal", Key: itemID.String() + "/" + runID}
	}
	if err != nil {
		return nil, fmt.Errorf("find outcome signal: %w", err)
	}
	if agentID != nil {
		sig.AgentID = *agentID
	}
	if run != nil {
		sig.RunID = *run
	}
	return &sig, nil
}

func (s *PostgresStore) ListSignalsForItem(ctx context.Context, itemID uuid.UUID) ([]models.QualitySignal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, knowledge_item_id, signal_type, agent_id, run_id, metadata, created_at
		FROM quality_signals WHERE knowledge_item_id = $1 ORDER BY created_at`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	defer rows.Close()

	var out []models.QualitySignal
	for rows.Next() {
		var sig models.QualitySignal
		var agentID, run *string
		if err := rows.Scan(&sig.ID, &sig.KnowledgeItemID, &sig.SignalType,
			&agentID, &run, &sig.Metadata, &sig.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		if agentID != nil {
			sig.AgentID = *agentID
		}
		if run != nil {
			sig.RunID = *run
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ItemsWithSignalsSince(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT knowledge_item_id FROM quality_signals WHERE created_at > $1`, since)
	if err != nil {
		return nil, fmt.Errorf("items with signals since: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) CountContradictionsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM quality_signals
		WHERE signal_type = 'contradiction' AND created_at > $1`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count contradictions: %w", err)
	}
	return n, nil
}

// ── Auto-approve rules ──────────────────────────────────────

func (s *PostgresStore) GetAutoApproveRule(ctx context.Context, tenantID string, category models.Category) (bool, error) {
	var enabled bool
	err := s.pool.QueryRow(ctx, `
		SELECT enabled FROM auto_approve_rules WHERE tenant_id = $1 AND category = $2`,
		tenantID, string(category)).Scan(&enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get auto-approve rule: %w", err)
	}
	return enabled, nil
}

func (s *PostgresStore) UpsertAutoApproveRule(ctx context.Context, rule *models.AutoApproveRule) error {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO auto_approve_rules (id, tenant_id, category, enabled, created_at)
		VALUES ($1,$2,$3,$4,NOW())
		ON CONFLICT (tenant_id, category) DO UPDATE SET enabled = EXCLUDED.enabled`,
		rule.ID, rule.TenantID, string(rule.Category), rule.Enabled)
	if err != nil {
		return fmt.Errorf("upsert auto-approve rule: %w", err)
	}
	return nil
}

// ── API keys ────────────────────────────────────────────────

const apiKeyColumns = `id, key_prefix, key_hash, tenant_id, agent_id, tier,
	request_count, billing_period_start, billing_period_reset_days, is_active, created_at`

func scanAPIKey(row rowScanner) (*models.APIKey, error) {
	var k models.APIKey
	err := row.Scan(&k.ID, &k.KeyPrefix, &k.KeyHash, &k.TenantID, &k.AgentID,
		&k.Tier, &k.RequestCount, &k.BillingPeriodStart,
		&k.BillingPeriodResetDays, &k.IsActive, &k.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO api_keys (id, key_prefix, key_hash, tenant_id, agent_id, tier,
			request_count, billing_period_start, billing_period_reset_days, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		key.ID, key.KeyPrefix, key.KeyHash, key.TenantID, key.AgentID,
		string(key.Tier), key.RequestCount, key.BillingPeriodStart,
		key.BillingPeriodResetDays, key.IsActive, key.CreatedAt)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, hash)
	key, err := scanAPIKey(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "api key", Key: "by-hash"}
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return key, nil
}

func (s *PostgresStore) UpdateAPIKeyUsage(ctx context.Context, id uuid.UUID, requestCount int, periodStart time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE api_keys SET request_count = $2, billing_period_start = $3 WHERE id = $1`,
		id, requestCount, periodStart)
	if err != nil {
		return fmt.Errorf("update api key usage: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET is_active = FALSE WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "api key", Key: id.String()}
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, tenantID string) ([]models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var out []models.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		out = append(out, *k)
	}
	return out, rows.Err()
}

// ── Webhook endpoints ───────────────────────────────────────

func (s *PostgresStore) CreateWebhook(ctx context.Context, w *models.WebhookEndpoint) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_endpoints (id, tenant_id, url, event_types, secret, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		w.ID, w.TenantID, w.URL, w.EventTypes, w.Secret, w.IsActive, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteWebhook(ctx context.Context, id uuid.UUID, tenantID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM webhook_endpoints WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "webhook endpoint", Key: id.String()}
	}
	return nil
}

func (s *PostgresStore) ListWebhooks(ctx context.Context, tenantID string) ([]models.WebhookEndpoint, error) {
	return s.listWebhooks(ctx, tenantID, false)
}

func (s *PostgresStore) ListActiveWebhooks(ctx context.Context, tenantID string) ([]models.WebhookEndpoint, error) {
	return s.listWebhooks(ctx, tenantID, true)
}

func (s *PostgresStore) listWebhooks(ctx context.Context, tenantID string, activeOnly bool) ([]models.WebhookEndpoint, error) {
	q := `SELECT id, tenant_id, url, event_types, secret, is_active, created_at
		FROM webhook_endpoints WHERE tenant_id = $1`
	if activeOnly {
		q += ` AND is_active`
	}
	rows, err := s.pool.Query(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var out []models.WebhookEndpoint
	for rows.Next() {
		var w models.WebhookEndpoint
		if err := rows.Scan(&w.ID, &w.TenantID, &w.URL, &w.EventTypes,
			&w.Secret, &w.IsActive, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ── Deployment config ───────────────────────────────────────

func (s *PostgresStore) GetConfigValue(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM deployment_config WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", &ErrNotFound{Entity: "deployment config", Key: key}
	}
	if err != nil {
		return "", fmt.Errorf("get config value: %w", err)
	}
	return value, nil
}

func (s *PostgresStore) SetConfigValue(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO deployment_config (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value)
	if err != nil {
		return fmt.Errorf("set config value: %w", err)
	}
	return nil
}
