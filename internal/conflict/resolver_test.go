package conflict

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hivemind/hivemind/pkg/models"
	"github.com/stretchr/testify/assert"
)

type stubLLM struct {
	response  string
	err       error
	available bool
}

func (s *stubLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return s.response, s.err
}
func (s *stubLLM) Available() bool { return s.available }

func existingItem() *models.KnowledgeItem {
	return &models.KnowledgeItem{
		ID:            uuid.New(),
		Content:       "The billing API rate limit is 100 requests per minute.",
		Category:      models.CategoryConfig,
		Version:       "v1",
		ContributedAt: time.Now().Add(-48 * time.Hour),
	}
}

func TestResolveDirectConflictActions(t *testing.T) {
	cases := []struct {
		name     string
		response string
		want     Action
	}{
		{"update", `{"action": "UPDATE", "reason": "limit raised", "is_direct_conflict": true}`, ActionUpdate},
		{"noop", `{"action": "NOOP", "reason": "restates existing", "is_direct_conflict": true}`, ActionNoop},
		{"version fork", `{"action": "VERSION_FORK", "reason": "true per version", "is_direct_conflict": true}`, ActionVersionFork},
		{"add", `{"action": "ADD", "reason": "different endpoints", "is_direct_conflict": true}`, ActionAdd},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewResolver(&stubLLM{response: tc.response, available: true})
			res := r.Resolve(context.Background(), existingItem(),
				"The billing API rate limit is 500 requests per minute.", "v2")
			assert.Equal(t, tc.want, res.Action)
		})
	}
}

func TestResolveIndirectConflictIsFlagged(t *testing.T) {
	r := NewResolver(&stubLLM{
		response:  `{"action": "UPDATE", "reason": "related but tangential", "is_direct_conflict": false}`,
		available: true,
	})
	res := r.Resolve(context.Background(), existingItem(), "Tangentially related claim about billing.", "")
	assert.Equal(t, ActionFlagged, res.Action)
}

func TestResolveLLMFailureFallsBackToAdd(t *testing.T) {
	r := NewResolver(&stubLLM{err: errors.New("timeout"), available: true})
	res := r.Resolve(context.Background(), existingItem(), "Contradicting claim.", "")
	assert.Equal(t, ActionAdd, res.Action, "resolver failure never blocks ingestion")
}

func TestResolveUnavailableLLMFallsBackToAdd(t *testing.T) {
	r := NewResolver(&stubLLM{available: false})
	res := r.Resolve(context.Background(), existingItem(), "Contradicting claim.", "")
	assert.Equal(t, ActionAdd, res.Action)

	res = NewResolver(nil).Resolve(context.Background(), existingItem(), "Contradicting claim.", "")
	assert.Equal(t, ActionAdd, res.Action)
}

func TestResolveUnparseableOutputFallsBackToAdd(t *testing.T) {
	r := NewResolver(&stubLLM{response: "I cannot decide.", available: true})
	res := r.Resolve(context.Background(), existingItem(), "Contradicting claim.", "")
	assert.Equal(t, ActionAdd, res.Action)
}

func TestResolveUnknownActionFallsBackToAdd(t *testing.T) {
	r := NewResolver(&stubLLM{
		response:  `{"action": "MERGE", "reason": "made up", "is_direct_conflict": true}`,
		available: true,
	})
	res := r.Resolve(context.Background(), existingItem(), "Contradicting claim.", "")
	assert.Equal(t, ActionAdd, res.Action)
}
