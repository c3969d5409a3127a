package quality

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hivemind/hivemind/internal/config"
	"github.com/hivemind/hivemind/internal/dedup"
	"github.com/hivemind/hivemind/internal/embeddings"
	"github.com/hivemind/hivemind/internal/guardrails"
	"github.com/hivemind/hivemind/internal/store"
	"github.com/hivemind/hivemind/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedLLM struct {
	response  string
	err       error
	available bool
	calls     int
}

func (s *scriptedLLM) Complete(ctx context.Context, prompt string) (string, error) {
	s.calls++
	return s.response, s.err
}
func (s *scriptedLLM) Available() bool { return s.available }

func testDistillationConfig() config.DistillationConfig {
	return config.DistillationConfig{
		VolumeThreshold:   50,
		ConflictThreshold: 5,
		ClusterThreshold:  0.3,
	}
}

func newDistiller(t *testing.T, st *store.MemoryStore, client *scriptedLLM) *Distiller {
	t.Helper()
	return NewDistiller(
		st,
		NewScorer(testQualityConfig()),
		client,
		guardrails.NewSanitizer(),
		embeddings.NewHashingProvider("test", "r1", 64),
		dedup.NewMinHashIndex(128, 0.95),
		testDistillationConfig(),
	)
}

func seedQualityItem(t *testing.T, st *store.MemoryStore, mutate func(*models.KnowledgeItem)) *models.KnowledgeItem {
	t.Helper()
	item := &models.KnowledgeItem{
		TenantID:      "acme",
		SourceAgentID: "agent-1",
		Content:       "Setting the pool size to 20 stops the connection exhaustion under load.",
		ContentHash:   uuid.NewString(),
		Category:      models.CategoryConfig,
		Confidence:    0.9,
		QualityScore:  0.5,
		Embedding:     []float32{1, 0, 0},
	}
	if mutate != nil {
		mutate(item)
	}
	require.NoError(t, st.CreateItem(context.Background(), item))
	return item
}

func forceActivity(t *testing.T, st *store.MemoryStore) {
	t.Helper()
	// Orthogonal embedding keeps this activity item out of the embedding
	// clusters the summarization tests build.
	item := seedQualityItem(t, st, func(i *models.KnowledgeItem) {
		i.Embedding = []float32{0, 1, 0}
	})
	for i := 0; i < 5; i++ {
		require.NoError(t, st.CreateSignal(context.Background(), &models.QualitySignal{
			KnowledgeItemID: item.ID,
			SignalType:      models.SignalContradiction,
		}))
	}
}

func TestDistillerShortCircuitsWhenQuiet(t *testing.T) {
	st := store.NewMemoryStore()
	client := &scriptedLLM{available: true}
	d := newDistiller(t, st, client)

	require.NoError(t, d.Run(context.Background()))

	_, err := st.GetConfigValue(context.Background(), models.ConfigDistillationLastRun)
	var nf *store.ErrNotFound
	assert.ErrorAs(t, err, &nf, "watermark untouched on a skipped pass")
	assert.Zero(t, client.calls)
}

func TestDistillerMergesDuplicateGroups(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	d := newDistiller(t, st, &scriptedLLM{available: false})
	forceActivity(t, st)

	high := seedQualityItem(t, st, func(i *models.KnowledgeItem) {
		i.ContentHash = "same"
		i.QualityScore = 0.9
	})
	low := seedQualityItem(t, st, func(i *models.KnowledgeItem) {
		i.ContentHash = "same"
		i.QualityScore = 0.2
	})

	require.NoError(t, d.Run(ctx))

	survivor, err := st.GetItem(ctx, high.ID)
	require.NoError(t, err)
	assert.Nil(t, survivor.ExpiredAt)
	links, ok := survivor.Tags["provenance_links"].([]string)
	require.True(t, ok)
	assert.Contains(t, links, low.ID.String())

	superseded, err := st.GetItem(ctx, low.ID)
	require.NoError(t, err)
	assert.NotNil(t, superseded.ExpiredAt)
}

func TestDistillerSummarizesClusterWithPIIScan(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	client := &scriptedLLM{
		available: true,
		response: "Consolidated: size the pool at 20 connections, enable keepalives, " +
			"and set a five second acquire timeout. Contact maintainers at ops@example.com for rollout.",
	}
	d := newDistiller(t, st, client)
	forceActivity(t, st)

	// Three items, same (category, tenant), near-identical embeddings.
	for i := 0; i < 3; i++ {
		seedQualityItem(t, st, func(item *models.KnowledgeItem) {
			item.Embedding = []float32{1, float32(i) * 0.01, 0}
		})
	}

	require.NoError(t, d.Run(ctx))

	items, err := st.ListCurrentItems(ctx)
	require.NoError(t, err)

	var summary *models.KnowledgeItem
	for i := range items {
		if items[i].SourceAgentID == DistilledAgentID {
			summary = &items[i]
		}
	}
	require.NotNil(t, summary, "a summary item is inserted")
	assert.Equal(t, distilledConfidence, summary.Confidence)
	assert.Equal(t, distilledQualityScore, summary.QualityScore)
	assert.Equal(t, true, summary.Tags["distilled"])
	assert.NotContains(t, summary.Content, "ops@example.com", "summary is sanitized before insert")
	ids, ok := summary.Tags["source_item_ids"].([]string)
	require.True(t, ok)
	assert.Len(t, ids, 3)
}

func TestDistillerFlagsContradictionClusters(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	d := newDistiller(t, st, &scriptedLLM{available: false})

	a := seedQualityItem(t, st, nil)
	b := seedQualityItem(t, st, nil)
	for _, id := range []uuid.UUID{a.ID, b.ID} {
		for i := 0; i < 3; i++ {
			require.NoError(t, st.CreateSignal(ctx, &models.QualitySignal{
				KnowledgeItemID: id,
				SignalType:      models.SignalContradiction,
			}))
		}
	}

	require.NoError(t, d.Run(ctx))

	all := append(signalsFor(t, st, a.ID), signalsFor(t, st, b.ID)...)
	found := false
	for _, sig := range all {
		if sig.SignalType == models.SignalContradictionCluster {
			found = true
		}
	}
	assert.True(t, found, "a cluster signal anchors the contradiction group")
}

func signalsFor(t *testing.T, st *store.MemoryStore, id uuid.UUID) []models.QualitySignal {
	t.Helper()
	sigs, err := st.ListSignalsForItem(context.Background(), id)
	require.NoError(t, err)
	return sigs
}

func TestDistillerPreScreensPending(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	d := newDistiller(t, st, &scriptedLLM{available: false})
	forceActivity(t, st)

	risky := &models.PendingContribution{
		TenantID:      "acme",
		SourceAgentID: "agent-1",
		Content:       "Low confidence guess about an API behavior, unverified.",
		ContentHash:   "h-risky",
		Category:      models.CategoryGeneral,
		Confidence:    0.05,
	}
	require.NoError(t, st.CreatePending(ctx, risky))

	require.NoError(t, d.Run(ctx))

	got, err := st.GetPending(ctx, risky.ID, "acme")
	require.NoError(t, err)
	assert.True(t, got.IsSensitiveFlagged)
	assert.Equal(t, true, got.Tags["low_quality_prescreened"])
}

func TestAggregatorRecomputesSignaledItems(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	recorder := NewRecorder(st)
	agg := NewAggregator(st, NewScorer(testQualityConfig()))

	item := seedQualityItem(t, st, func(i *models.KnowledgeItem) { i.QualityScore = 0.1 })
	_, err := recorder.RecordOutcome(ctx, item.ID, "agent-1", "run-1", true)
	require.NoError(t, err)

	require.NoError(t, agg.Run(ctx))

	updated, err := st.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Greater(t, updated.QualityScore, 0.1, "helpful outcome lifts the score")

	raw, err := st.GetConfigValue(ctx, models.ConfigAggregationLastRun)
	require.NoError(t, err)
	_, err = time.Parse(time.RFC3339Nano, raw)
	require.NoError(t, err)
}

func TestRecorderOutcomeIdempotentPerRun(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	recorder := NewRecorder(st)
	item := seedQualityItem(t, st, nil)

	first, err := recorder.RecordOutcome(ctx, item.ID, "agent-1", "run-1", true)
	require.NoError(t, err)

	dup, err := recorder.RecordOutcome(ctx, item.ID, "agent-1", "run-1", false)
	assert.ErrorIs(t, err, ErrOutcomeRecorded)
	assert.Equal(t, first.ID, dup.ID, "existing signal returned on replay")

	got, err := st.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.HelpfulCount)
	assert.Equal(t, 0, got.NotHelpfulCount)
}

func TestRecorderRetrievalsBumpCounts(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	recorder := NewRecorder(st)
	item := seedQualityItem(t, st, nil)

	recorder.RecordRetrievals(ctx, []uuid.UUID{item.ID}, "agent-1", "run-1")

	got, err := st.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetrievalCount)
	sigs := signalsFor(t, st, item.ID)
	require.Len(t, sigs, 1)
	assert.Equal(t, models.SignalRetrieval, sigs[0].SignalType)
}
