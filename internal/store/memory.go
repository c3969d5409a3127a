package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hivemind/hivemind/internal/embeddings"
	"github.com/hivemind/hivemind/pkg/models"
)

// MemoryStore is an in-memory Store for tests. Hybrid search approximates the
// SQL ranking: cosine ranks and token-overlap ranks fused with RRF, then
// boosted by quality score.
type MemoryStore struct {
	mu       sync.RWMutex
	items    map[uuid.UUID]*models.KnowledgeItem
	pending  map[uuid.UUID]*models.PendingContribution
	signals  []models.QualitySignal
	rules    map[string]bool // tenant|category -> enabled
	apiKeys  map[uuid.UUID]*models.APIKey
	webhooks map[uuid.UUID]*models.WebhookEndpoint
	config   map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:    map[uuid.UUID]*models.KnowledgeItem{},
		pending:  map[uuid.UUID]*models.PendingContribution{},
		rules:    map[string]bool{},
		apiKeys:  map[uuid.UUID]*models.APIKey{},
		webhooks: map[uuid.UUID]*models.WebhookEndpoint{},
		config:   map[string]string{},
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error    { return nil }
func (s *MemoryStore) Close() error                      { return nil }
func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }

func copyItem(item *models.KnowledgeItem) *models.KnowledgeItem {
	cp := *item
	if item.Tags != nil {
		cp.Tags = make(map[string]any, len(item.Tags))
		for k, v := range item.Tags {
			cp.Tags[k] = v
		}
	}
	cp.Embedding = append([]float32(nil), item.Embedding...)
	return &cp
}

func copyPending(p *models.PendingContribution) *models.PendingContribution {
	cp := *p
	if p.Tags != nil {
		cp.Tags = make(map[string]any, len(p.Tags))
		for k, v := range p.Tags {
			cp.Tags[k] = v
		}
	}
	return &cp
}

// ── Knowledge items ─────────────────────────────────────────

func (s *MemoryStore) CreateItem(ctx context.Context, item *models.KnowledgeItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.ContributedAt.IsZero() {
		item.ContributedAt = time.Now().UTC()
	}
	if item.Tags == nil {
		item.Tags = map[string]any{}
	}
	s.items[item.ID] = copyItem(item)
	return nil
}

func (s *MemoryStore) GetItem(ctx context.Context, id uuid.UUID) (*models.KnowledgeItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "knowledge item", Key: id.String()}
	}
	return copyItem(item), nil
}

func (s *MemoryStore) GetVisibleItem(ctx context.Context, id uuid.UUID, tenantID string) (*models.KnowledgeItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok || item.DeletedAt != nil || (item.TenantID != tenantID && !item.IsPublic) {
		return nil, &ErrNotFound{Entity: "knowledge item", Key: id.String()}
	}
	return copyItem(item), nil
}

func (s *MemoryStore) SoftDeleteItem(ctx context.Context, id uuid.UUID, tenantID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok || item.DeletedAt != nil || item.TenantID != tenantID || item.SourceAgentID != agentID {
		return &ErrNotFound{Entity: "knowledge item", Key: id.String()}
	}
	now := time.Now().UTC()
	item.DeletedAt = &now
	return nil
}

func (s *MemoryStore) SetItemPublic(ctx context.Context, id uuid.UUID, tenantID string, isPublic bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok || item.DeletedAt != nil || item.TenantID != tenantID {
		return &ErrNotFound{Entity: "knowledge item", Key: id.String()}
	}
	item.IsPublic = isPublic
	return nil
}

func (s *MemoryStore) SupersedeItem(ctx context.Context, id uuid.UUID, tenantID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok || item.TenantID != tenantID || item.ExpiredAt != nil {
		return &ErrNotFound{Entity: "knowledge item", Key: id.String()}
	}
	item.ExpiredAt = &at
	return nil
}

func (s *MemoryStore) InvalidateItem(ctx context.Context, id uuid.UUID, tenantID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok || item.TenantID != tenantID || item.InvalidAt != nil {
		return &ErrNotFound{Entity: "knowledge item", Key: id.String()}
	}
	item.InvalidAt = &at
	return nil
}

func (s *MemoryStore) UpdateItemTags(ctx context.Context, id uuid.UUID, tags map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.items[id]; ok {
		item.Tags = tags
	}
	return nil
}

func (s *MemoryStore) UpdateQualityScore(ctx context.Context, id uuid.UUID, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.items[id]; ok {
		item.QualityScore = score
	}
	return nil
}

func (s *MemoryStore) IncrementRetrievalCounts(ctx context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			item.RetrievalCount++
		}
	}
	return nil
}

func (s *MemoryStore) IncrementOutcomeCount(ctx context.Context, id uuid.UUID, helpful bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.items[id]; ok {
		if helpful {
			item.HelpfulCount++
		} else {
			item.NotHelpfulCount++
		}
	}
	return nil
}

func visibleAt(item *models.KnowledgeItem, tenantID string, at time.Time) bool {
	if item.DeletedAt != nil || item.ExpiredAt != nil {
		return false
	}
	if item.TenantID != tenantID && !item.IsPublic {
		return false
	}
	if item.ValidAt != nil && item.ValidAt.After(at) {
		return false
	}
	if item.InvalidAt != nil && !item.InvalidAt.After(at) {
		return false
	}
	return true
}

func tokenOverlap(query, content string) int {
	c := strings.ToLower(content)
	n := 0
	for _, tok := range strings.Fields(strings.ToLower(query)) {
		if strings.Contains(c, tok) {
			n++
		}
	}
	return n
}

func (s *MemoryStore) SearchHybrid(ctx context.Context, q SearchQuery) ([]models.SearchHit, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	at := time.Now().UTC()
	if q.AtTime != nil {
		at = *q.AtTime
	}

	type ranked struct {
		item    *models.KnowledgeItem
		vecDist float64
		overlap int
	}
	var pool []ranked
	for _, item := range s.items {
		if !visibleAt(item, q.TenantID, at) {
			continue
		}
		if q.Category != nil && item.Category != *q.Category {
			continue
		}
		if q.Version != "" && item.Version != q.Version {
			continue
		}
		r := ranked{item: item, vecDist: 2.0}
		if len(item.Embedding) > 0 && len(q.Embedding) > 0 {
			r.vecDist = embeddings.CosineDistance(q.Embedding, item.Embedding)
		}
		r.overlap = tokenOverlap(q.Query, item.Content)
		pool = append(pool, r)
	}

	vecRank := map[uuid.UUID]int{}
	sort.Slice(pool, func(i, j int) bool { return pool[i].vecDist < pool[j].vecDist })
	for i, r := range pool {
		if i >= 20 {
			break
		}
		if len(r.item.Embedding) > 0 {
			vecRank[r.item.ID] = i + 1
		}
	}

	txtRank := map[uuid.UUID]int{}
	sort.Slice(pool, func(i, j int) bool { return pool[i].overlap > pool[j].overlap })
	for i, r := range pool {
		if i >= 20 || r.overlap == 0 {
			break
		}
		txtRank[r.item.ID] = i + 1
	}

	type scored struct {
		item  *models.KnowledgeItem
		score float64
	}
	var results []scored
	for _, r := range pool {
		rrf := 0.0
		if rank, ok := vecRank[r.item.ID]; ok {
			rrf += 1.0 / float64(60+rank)
		}
		if rank, ok := txtRank[r.item.ID]; ok {
			rrf += 1.0 / float64(60+rank)
		}
		if rrf == 0 {
			continue
		}
		results = append(results, scored{r.item, rrf * (0.7 + 0.3*r.item.QualityScore)})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].item.ID.String() < results[j].item.ID.String()
	})

	total := len(results)
	if q.Offset < len(results) {
		results = results[q.Offset:]
	} else {
		results = nil
	}
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}

	var hits []models.SearchHit
	for _, r := range results {
		attribution := models.AttributionPublic
		if r.item.TenantID == q.TenantID {
			attribution = models.AttributionOwn
		}
		hits = append(hits, models.SearchHit{
			ID:                r.item.ID,
			Title:             r.item.Title(),
			Category:          r.item.Category,
			Confidence:        r.item.Confidence,
			TenantAttribution: attribution,
			RelevanceScore:    r.score,
			ContentHash:       r.item.ContentHash,
		})
	}
	return hits, total, nil
}

func (s *MemoryStore) VectorCandidates(ctx context.Context, tenantID string, embedding []float32, topK int, maxDistance float64) ([]DuplicateCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []DuplicateCandidate
	for _, item := range s.items {
		if item.DeletedAt != nil || item.ExpiredAt != nil || len(item.Embedding) == 0 {
			continue
		}
		if item.TenantID != tenantID && !item.IsPublic {
			continue
		}
		d := embeddings.CosineDistance(embedding, item.Embedding)
		if d < maxDistance {
			out = append(out, DuplicateCandidate{Item: *copyItem(item), Distance: d})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (s *MemoryStore) ListCurrentItems(ctx context.Context) ([]models.KnowledgeItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.KnowledgeItem
	for _, item := range s.items {
		if item.DeletedAt == nil && item.ExpiredAt == nil {
			out = append(out, *copyItem(item))
		}
	}
	return out, nil
}

func (s *MemoryStore) ListItems(ctx context.Context, f ItemFilter) ([]models.KnowledgeItem, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.KnowledgeItem
	for _, item := range s.items {
		if item.TenantID != f.TenantID || item.DeletedAt != nil || item.ExpiredAt != nil {
			continue
		}
		if f.Category != nil && item.Category != *f.Category {
			continue
		}
		out = append(out, *copyItem(item))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContributedAt.After(out[j].ContributedAt) })
	total := len(out)
	if f.Offset < len(out) {
		out = out[f.Offset:]
	} else {
		out = nil
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (s *MemoryStore) DuplicateGroups(ctx context.Context) ([]DuplicateGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := map[string][]*models.KnowledgeItem{}
	for _, item := range s.items {
		if item.DeletedAt != nil || item.ExpiredAt != nil {
			continue
		}
		key := item.ContentHash + "|" + item.TenantID
		groups[key] = append(groups[key], item)
	}

	var out []DuplicateGroup
	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool {
			if members[i].QualityScore != members[j].QualityScore {
				return members[i].QualityScore > members[j].QualityScore
			}
			return members[i].ContributedAt.Before(members[j].ContributedAt)
		})
		g := DuplicateGroup{ContentHash: members[0].ContentHash, TenantID: members[0].TenantID}
		for _, m := range members {
			g.ItemIDs = append(g.ItemIDs, m.ID)
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *MemoryStore) ContradictionClusters(ctx context.Context, since time.Time) ([]ContradictionCluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct {
		category models.Category
		tenant   string
	}
	clusters := map[key]map[uuid.UUID]bool{}
	for _, sig := range s.signals {
		if sig.SignalType != models.SignalContradiction || !sig.CreatedAt.After(since) {
			continue
		}
		item, ok := s.items[sig.KnowledgeItemID]
		if !ok || item.DeletedAt != nil || item.ExpiredAt != nil {
			continue
		}
		k := key{item.Category, item.TenantID}
		if clusters[k] == nil {
			clusters[k] = map[uuid.UUID]bool{}
		}
		clusters[k][item.ID] = true
	}

	var out []ContradictionCluster
	for k, members := range clusters {
		if len(members) < 2 {
			continue
		}
		c := ContradictionCluster{Category: k.category, TenantID: k.tenant}
		for id := range members {
			c.ItemIDs = append(c.ItemIDs, id)
		}
		sort.Slice(c.ItemIDs, func(i, j int) bool {
			return c.ItemIDs[i].String() < c.ItemIDs[j].String()
		})
		out = append(out, c)
	}
	return out, nil
}

func (s *MemoryStore) EmbeddingNeighbors(ctx context.Context, maxDistance float64) ([]NeighborPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var current []*models.KnowledgeItem
	for _, item := range s.items {
		if item.DeletedAt == nil && item.ExpiredAt == nil && len(item.Embedding) > 0 {
			current = append(current, item)
		}
	}
	sort.Slice(current, func(i, j int) bool {
		return current[i].ID.String() < current[j].ID.String()
	})

	var out []NeighborPair
	for i := 0; i < len(current); i++ {
		for j := i + 1; j < len(current); j++ {
			a, b := current[i], current[j]
			if a.Category != b.Category || a.TenantID != b.TenantID {
				continue
			}
			if embeddings.CosineDistance(a.Embedding, b.Embedding) < maxDistance {
				out = append(out, NeighborPair{A: a.ID, B: b.ID})
			}
		}
	}
	return out, nil
}

// ── Pending contributions ───────────────────────────────────

func (s *MemoryStore) CreatePending(ctx context.Context, p *models.PendingContribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.ContributedAt.IsZero() {
		p.ContributedAt = time.Now().UTC()
	}
	if p.Tags == nil {
		p.Tags = map[string]any{}
	}
	s.pending[p.ID] = copyPending(p)
	return nil
}

func (s *MemoryStore) GetPending(ctx context.Context, id uuid.UUID, tenantID string) (*models.PendingContribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pending[id]
	if !ok || p.TenantID != tenantID {
		return nil, &ErrNotFound{Entity: "pending contribution", Key: id.String()}
	}
	return copyPending(p), nil
}

func (s *MemoryStore) DeletePending(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; !ok {
		return &ErrNotFound{Entity: "pending contribution", Key: id.String()}
	}
	delete(s.pending, id)
	return nil
}

func (s *MemoryStore) ListPending(ctx context.Context, tenantID string, category *models.Category, limit, offset int) ([]models.PendingContribution, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PendingContribution
	for _, p := range s.pending {
		if p.TenantID != tenantID {
			continue
		}
		if category != nil && p.Category != *category {
			continue
		}
		out = append(out, *copyPending(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContributedAt.Before(out[j].ContributedAt) })
	total := len(out)
	if offset < len(out) {
		out = out[offset:]
	} else {
		out = nil
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (s *MemoryStore) ClaimPending(ctx context.Context, tenantID string, limit int) ([]models.PendingContribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var claimable []*models.PendingContribution
	for _, p := range s.pending {
		if p.TenantID != tenantID {
			continue
		}
		if p.ClaimedAt != nil && now.Sub(*p.ClaimedAt) < claimLease {
			continue
		}
		claimable = append(claimable, p)
	}
	sort.Slice(claimable, func(i, j int) bool {
		return claimable[i].ContributedAt.Before(claimable[j].ContributedAt)
	})
	if limit > 0 && len(claimable) > limit {
		claimable = claimable[:limit]
	}

	var out []models.PendingContribution
	for _, p := range claimable {
		at := now
		p.ClaimedAt = &at
		out = append(out, *copyPending(p))
	}
	return out, nil
}

func (s *MemoryStore) ReleasePending(ctx context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if p, ok := s.pending[id]; ok {
			p.ClaimedAt = nil
		}
	}
	return nil
}

func (s *MemoryStore) CountPending(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending), nil
}

func (s *MemoryStore) ListUnflaggedPending(ctx context.Context) ([]models.PendingContribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PendingContribution
	for _, p := range s.pending {
		if !p.IsSensitiveFlagged {
			out = append(out, *copyPending(p))
		}
	}
	return out, nil
}

func (s *MemoryStore) FlagPending(ctx context.Context, id uuid.UUID, preliminaryScore float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	if !ok {
		return &ErrNotFound{Entity: "pending contribution", Key: id.String()}
	}
	p.IsSensitiveFlagged = true
	if p.Tags == nil {
		p.Tags = map[string]any{}
	}
	p.Tags["low_quality_prescreened"] = true
	p.Tags["preliminary_quality_score"] = preliminaryScore
	return nil
}

// ── Quality signals ─────────────────────────────────────────

func (s *MemoryStore) CreateSignal(ctx context.Context, sig *models.QualitySignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sig.ID == uuid.Nil {
		sig.ID = uuid.New()
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}
	s.signals = append(s.signals, *sig)
	return nil
}

func (s *MemoryStore) FindOutcomeSignal(ctx context.Context, itemID uuid.UUID, runID string) (*models.QualitySignal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.signals {
		sig := &s.signals[i]
		if sig.KnowledgeItemID != itemID || sig.RunID != runID {
			continue
		}
		if sig.SignalType == models.SignalOutcomeSolved || sig.SignalType == models.SignalOutcomeNotHelpful {
			cp := *sig
			return &cp, nil
		}
	}
	return nil, &ErrNotFound{Entity: "quality signal", Key: itemID.String() + "/" + runID}
}

func (s *MemoryStore) ListSignalsForItem(ctx context.Context, itemID uuid.UUID) ([]models.QualitySignal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.QualitySignal
	for _, sig := range s.signals {
		if sig.KnowledgeItemID == itemID {
			out = append(out, sig)
		}
	}
	return out, nil
}

func (s *MemoryStore) ItemsWithSignalsSince(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[uuid.UUID]bool{}
	var ids []uuid.UUID
	for _, sig := range s.signals {
		if sig.CreatedAt.After(since) && !seen[sig.KnowledgeItemID] {
			seen[sig.KnowledgeItemID] = true
			ids = append(ids, sig.KnowledgeItemID)
		}
	}
	return ids, nil
}

func (s *MemoryStore) CountContradictionsSince(ctx context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sig := range s.signals {
		if sig.SignalType == models.SignalContradiction && sig.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

// ── Auto-approve rules ──────────────────────────────────────

func (s *MemoryStore) GetAutoApproveRule(ctx context.Context, tenantID string, category models.Category) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rules[tenantID+"|"+string(category)], nil
}

func (s *MemoryStore) UpsertAutoApproveRule(ctx context.Context, rule *models.AutoApproveRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	s.rules[rule.TenantID+"|"+string(rule.Category)] = rule.Enabled
	return nil
}

// ── API keys ────────────────────────────────────────────────

func (s *MemoryStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	cp := *key
	s.apiKeys[key.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range s.apiKeys {
		if key.KeyHash == hash {
			cp := *key
			return &cp, nil
		}
	}
	return nil, &ErrNotFound{Entity: "api key", Key: "by-hash"}
}

func (s *MemoryStore) UpdateAPIKeyUsage(ctx context.Context, id uuid.UUID, requestCount int, periodStart time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key, ok := s.apiKeys[id]; ok {
		key.RequestCount = requestCount
		key.BillingPeriodStart = periodStart
	}
	return nil
}

func (s *MemoryStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.apiKeys[id]
	if !ok || key.TenantID != tenantID {
		return &ErrNotFound{Entity: "api key", Key: id.String()}
	}
	key.IsActive = false
	return nil
}

func (s *MemoryStore) ListAPIKeys(ctx context.Context, tenantID string) ([]models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.APIKey
	for _, key := range s.apiKeys {
		if key.TenantID == tenantID {
			out = append(out, *key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ── Webhook endpoints ───────────────────────────────────────

func (s *MemoryStore) CreateWebhook(ctx context.Context, w *models.WebhookEndpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	cp := *w
	cp.EventTypes = append([]string(nil), w.EventTypes...)
	s.webhooks[w.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteWebhook(ctx context.Context, id uuid.UUID, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.webhooks[id]
	if !ok || w.TenantID != tenantID {
		return &ErrNotFound{Entity: "webhook endpoint", Key: id.String()}
	}
	delete(s.webhooks, id)
	return nil
}

func (s *MemoryStore) ListWebhooks(ctx context.Context, tenantID string) ([]models.WebhookEndpoint, error) {
	return s.listWebhooks(tenantID, false), nil
}

func (s *MemoryStore) ListActiveWebhooks(ctx context.Context, tenantID string) ([]models.WebhookEndpoint, error) {
	return s.listWebhooks(tenantID, true), nil
}

func (s *MemoryStore) listWebhooks(tenantID string, activeOnly bool) []models.WebhookEndpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.WebhookEndpoint
	for _, w := range s.webhooks {
		if w.TenantID != tenantID {
			continue
		}
		if activeOnly && !w.IsActive {
			continue
		}
		cp := *w
		cp.EventTypes = append([]string(nil), w.EventTypes...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ── Deployment config ───────────────────────────────────────

func (s *MemoryStore) GetConfigValue(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.config[key]
	if !ok {
		return "", &ErrNotFound{Entity: "deployment config", Key: key}
	}
	return v, nil
}

func (s *MemoryStore) SetConfigValue(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config[key] = value
	return nil
}

// ── Stats ───────────────────────────────────────────────────

func (s *MemoryStore) CommonsStats(ctx context.Context) (*CommonsStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &CommonsStats{Categories: map[string]int{}}
	sum := 0.0
	for _, item := range s.items {
		if !item.IsPublic || item.DeletedAt != nil || item.ExpiredAt != nil {
			continue
		}
		stats.PublicItems++
		stats.Categories[string(item.Category)]++
		sum += item.QualityScore
	}
	if stats.PublicItems > 0 {
		stats.AvgQuality = sum / float64(stats.PublicItems)
	}
	return stats, nil
}

func (s *MemoryStore) TenantStats(ctx context.Context, tenantID string) (*TenantStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &TenantStats{}
	sum := 0.0
	for _, item := range s.items {
		if item.TenantID != tenantID || item.DeletedAt != nil || item.ExpiredAt != nil {
			continue
		}
		stats.Items++
		if item.IsPublic {
			stats.PublicItems++
		}
		sum += item.QualityScore
	}
	if stats.Items > 0 {
		stats.AvgQuality = sum / float64(stats.Items)
	}
	for _, p := range s.pending {
		if p.TenantID == tenantID {
			stats.Pending++
		}
	}
	return stats, nil
}

func (s *MemoryStore) AgentStats(ctx context.Context, tenantID, agentID string) (*AgentStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &AgentStats{}
	for _, item := range s.items {
		if item.TenantID != tenantID || item.SourceAgentID != agentID || item.DeletedAt != nil {
			continue
		}
		stats.Contributions++
		stats.Solved += item.HelpfulCount
		stats.NotHelpful += item.NotHelpfulCount
	}
	return stats, nil
}
