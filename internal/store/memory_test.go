package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hivemind/hivemind/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedItem(t *testing.T, s *MemoryStore, tenant string, mutate func(*models.KnowledgeItem)) *models.KnowledgeItem {
	t.Helper()
	item := &models.KnowledgeItem{
		TenantID:      tenant,
		SourceAgentID: "agent-1",
		Content:       "Retry with exponential backoff when the upstream API returns 429.",
		ContentHash:   uuid.NewString(),
		Category:      models.CategoryBugFix,
		Confidence:    0.9,
		QualityScore:  0.5,
		Embedding:     []float32{1, 0, 0},
	}
	if mutate != nil {
		mutate(item)
	}
	require.NoError(t, s.CreateItem(context.Background(), item))
	return item
}

func TestMemoryStoreVisibility(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	private := seedItem(t, s, "acme", nil)
	public := seedItem(t, s, "globex", func(i *models.KnowledgeItem) { i.IsPublic = true })

	_, err := s.GetVisibleItem(ctx, private.ID, "globex")
	var nf *ErrNotFound
	require.ErrorAs(t, err, &nf)

	got, err := s.GetVisibleItem(ctx, public.ID, "acme")
	require.NoError(t, err)
	assert.Equal(t, public.ID, got.ID)
}

func TestMemoryStoreSoftDeleteRequiresOwner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	item := seedItem(t, s, "acme", nil)

	err := s.SoftDeleteItem(ctx, item.ID, "acme", "other-agent")
	var nf *ErrNotFound
	require.ErrorAs(t, err, &nf)

	require.NoError(t, s.SoftDeleteItem(ctx, item.ID, "acme", "agent-1"))
	_, err = s.GetVisibleItem(ctx, item.ID, "acme")
	require.ErrorAs(t, err, &nf)
}

func TestMemoryStoreTemporalMutationsRequireOwningTenant(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	item := seedItem(t, s, "acme", func(i *models.KnowledgeItem) { i.IsPublic = true })
	now := time.Now().UTC()

	var nf *ErrNotFound
	require.ErrorAs(t, s.SupersedeItem(ctx, item.ID, "globex", now), &nf)
	require.ErrorAs(t, s.InvalidateItem(ctx, item.ID, "globex", now), &nf)

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ExpiredAt)
	assert.Nil(t, got.InvalidAt)

	require.NoError(t, s.SupersedeItem(ctx, item.ID, "acme", now))
	got, err = s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.ExpiredAt)
}

func TestMemoryStoreSearchHybrid(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	match := seedItem(t, s, "acme", func(i *models.KnowledgeItem) {
		i.Content = "Postgres connection pool exhaustion fixed by lowering max_conns."
		i.Embedding = []float32{1, 0, 0}
	})
	seedItem(t, s, "acme", func(i *models.KnowledgeItem) {
		i.Content = "Unrelated note about frontend styling conventions."
		i.Embedding = []float32{0, 1, 0}
	})
	seedItem(t, s, "other", nil) // private to another tenant

	hits, total, err := s.SearchHybrid(ctx, SearchQuery{
		TenantID:  "acme",
		Query:     "postgres connection pool",
		Embedding: []float32{1, 0, 0},
		Limit:     10,
	})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, len(hits), total)
	assert.Equal(t, match.ID, hits[0].ID)
	assert.Equal(t, models.AttributionOwn, hits[0].TenantAttribution)
}

func TestMemoryStoreSearchTemporalFilter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	now := time.Now().UTC()
	future := now.Add(24 * time.Hour)
	seedItem(t, s, "acme", func(i *models.KnowledgeItem) {
		i.Content = "Rate limiter defaults changed in the next release."
		i.ValidAt = &future
	})

	hits, _, err := s.SearchHybrid(ctx, SearchQuery{
		TenantID:  "acme",
		Query:     "rate limiter defaults",
		Embedding: []float32{1, 0, 0},
		Limit:     10,
	})
	require.NoError(t, err)
	assert.Empty(t, hits, "not yet valid items are invisible to a present-time query")

	hits, _, err = s.SearchHybrid(ctx, SearchQuery{
		TenantID:  "acme",
		Query:     "rate limiter defaults",
		Embedding: []float32{1, 0, 0},
		Limit:     10,
		AtTime:    &[]time.Time{future.Add(time.Hour)}[0],
	})
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestMemoryStoreClaimPendingLease(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	p := &models.PendingContribution{
		TenantID:      "acme",
		SourceAgentID: "agent-1",
		Content:       "Pending insight awaiting human review with enough length.",
		ContentHash:   "h1",
		Category:      models.CategoryGeneral,
		Confidence:    0.7,
	}
	require.NoError(t, s.CreatePending(ctx, p))

	first, err := s.ClaimPending(ctx, "acme", 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := s.ClaimPending(ctx, "acme", 10)
	require.NoError(t, err)
	assert.Empty(t, second, "claimed rows stay invisible until the lease expires")

	require.NoError(t, s.ReleasePending(ctx, []uuid.UUID{p.ID}))
	third, err := s.ClaimPending(ctx, "acme", 10)
	require.NoError(t, err)
	assert.Len(t, third, 1)
}

func TestMemoryStoreOutcomeSignalLookup(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	item := seedItem(t, s, "acme", nil)

	sig := &models.QualitySignal{
		KnowledgeItemID: item.ID,
		SignalType:      models.SignalOutcomeSolved,
		AgentID:         "agent-1",
		RunID:           "run-42",
	}
	require.NoError(t, s.CreateSignal(ctx, sig))

	found, err := s.FindOutcomeSignal(ctx, item.ID, "run-42")
	require.NoError(t, err)
	assert.Equal(t, models.SignalOutcomeSolved, found.SignalType)

	_, err = s.FindOutcomeSignal(ctx, item.ID, "run-43")
	var nf *ErrNotFound
	require.ErrorAs(t, err, &nf)
}

func TestMemoryStoreDuplicateGroupsOrderedByQuality(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	low := seedItem(t, s, "acme", func(i *models.KnowledgeItem) {
		i.ContentHash = "same"
		i.QualityScore = 0.3
	})
	high := seedItem(t, s, "acme", func(i *models.KnowledgeItem) {
		i.ContentHash = "same"
		i.QualityScore = 0.9
	})

	groups, err := s.DuplicateGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Len(t, groups[0].ItemIDs, 2)
	assert.Equal(t, high.ID, groups[0].ItemIDs[0])
	assert.Equal(t, low.ID, groups[0].ItemIDs[1])
}

func TestMemoryStoreContradictionClusters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a := seedItem(t, s, "acme", nil)
	b := seedItem(t, s, "acme", nil)
	for _, id := range []uuid.UUID{a.ID, b.ID} {
		require.NoError(t, s.CreateSignal(ctx, &models.QualitySignal{
			KnowledgeItemID: id,
			SignalType:      models.SignalContradiction,
		}))
	}

	clusters, err := s.ContradictionClusters(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0].ItemIDs, 2)
	assert.Equal(t, models.CategoryBugFix, clusters[0].Category)
}

func TestMemoryStoreStats(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	seedItem(t, s, "acme", func(i *models.KnowledgeItem) {
		i.IsPublic = true
		i.QualityScore = 0.8
	})
	seedItem(t, s, "acme", func(i *models.KnowledgeItem) { i.QualityScore = 0.4 })

	commons, err := s.CommonsStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, commons.PublicItems)
	assert.InDelta(t, 0.8, commons.AvgQuality, 1e-9)

	tenant, err := s.TenantStats(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, tenant.Items)
	assert.Equal(t, 1, tenant.PublicItems)
	assert.InDelta(t, 0.6, tenant.AvgQuality, 1e-9)
}
