package dedup

import (
	"testing"

	"github.com/google/uuid"
	"github.com/hivemind/hivemind/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleContent = "When the payment gateway returns error 4003 the fix is to refresh " +
	"the OAuth token and retry the charge once with the idempotency key preserved."

func TestMinHashSignatureDeterministic(t *testing.T) {
	a := NewMinHashIndex(128, 0.95)
	b := NewMinHashIndex(128, 0.95)
	assert.Equal(t, a.Signature(sampleContent), b.Signature(sampleContent),
		"signatures are stable across index instances")
}

func TestMinHashIdenticalContentMatches(t *testing.T) {
	idx := NewMinHashIndex(128, 0.95)
	id := uuid.New()
	idx.Add(id, sampleContent)

	matches := idx.Query(sampleContent)
	require.Len(t, matches, 1)
	assert.Equal(t, id, matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Jaccard, 1e-9)
}

func TestMinHashDistinctContentDoesNotMatch(t *testing.T) {
	idx := NewMinHashIndex(128, 0.95)
	idx.Add(uuid.New(), sampleContent)

	matches := idx.Query("Completely different knowledge about configuring " +
		"Kubernetes liveness probes for slow starting Java services in production.")
	assert.Empty(t, matches)
}

func TestMinHashRemove(t *testing.T) {
	idx := NewMinHashIndex(128, 0.95)
	id := uuid.New()
	idx.Add(id, sampleContent)
	require.Equal(t, 1, idx.Len())

	idx.Remove(id)
	assert.Equal(t, 0, idx.Len())
	assert.Empty(t, idx.Query(sampleContent))
}

func TestMinHashRebuild(t *testing.T) {
	idx := NewMinHashIndex(128, 0.95)
	idx.Add(uuid.New(), "stale entry that should disappear after the rebuild completes")

	item := models.KnowledgeItem{ID: uuid.New(), Content: sampleContent}
	idx.Rebuild([]models.KnowledgeItem{item})

	require.Equal(t, 1, idx.Len())
	matches := idx.Query(sampleContent)
	require.Len(t, matches, 1)
	assert.Equal(t, item.ID, matches[0].ID)
}
