package dedup

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hivemind/hivemind/internal/config"
	"github.com/hivemind/hivemind/internal/llm"
	"github.com/hivemind/hivemind/internal/store"
	"github.com/rs/zerolog/log"
)

// Decision is the pipeline verdict for one incoming contribution.
type Decision struct {
	IsDuplicate bool        `json:"is_duplicate"`
	DuplicateOf uuid.UUID   `json:"duplicate_of,omitempty"`
	Duplicates  []uuid.UUID `json:"duplicates,omitempty"`
	Confidence  float64     `json:"confidence"`
	Reason      string      `json:"reason"`
	StagesRun   []string    `json:"stages_run"`
}

// Pipeline narrows candidates through three filters: vector recall, MinHash
// intersection, LLM confirmation. Only the LLM stage ever declares a
// duplicate; an empty survivor set at any stage, and every failure mode,
// resolves to "not a duplicate". A false ADD is recoverable by distillation,
// a false DUPLICATE loses data.
type Pipeline struct {
	store   store.KnowledgeStore
	index   *MinHashIndex
	llm     llm.Client
	topK    int
	maxDist float64
	maxLLM  int
}

func NewPipeline(st store.KnowledgeStore, index *MinHashIndex, client llm.Client, cfg config.DedupConfig) *Pipeline {
	return &Pipeline{
		store:   st,
		index:   index,
		llm:     client,
		topK:    cfg.VectorTopK,
		maxDist: cfg.MaxVectorDistance,
		maxLLM:  cfg.MaxLLMCandidates,
	}
}

// Check classifies content against the tenant's visible current items.
func (p *Pipeline) Check(ctx context.Context, tenantID, content string, embedding []float32) (*Decision, error) {
	decision := &Decision{StagesRun: []string{"vector"}}

	candidates, err := p.store.VectorCandidates(ctx, tenantID, embedding, p.topK, p.maxDist)
	if err != nil {
		return nil, fmt.Errorf("vector candidates: %w", err)
	}
	if len(candidates) == 0 {
		decision.Reason = "no vector candidates within distance threshold"
		return decision, nil
	}

	decision.StagesRun = append(decision.StagesRun, "minhash")
	nearExact := map[uuid.UUID]bool{}
	for _, match := range p.index.Query(content) {
		nearExact[match.ID] = true
	}
	var survivors []store.DuplicateCandidate
	for _, c := range candidates {
		if nearExact[c.Item.ID] {
			survivors = append(survivors, c)
		}
	}
	if len(survivors) == 0 {
		decision.Reason = "no candidate survived minhash filtering"
		return decision, nil
	}

	if p.llm == nil || !p.llm.Available() {
		decision.Reason = "llm unavailable; treated as new"
		return decision, nil
	}

	decision.StagesRun = append(decision.StagesRun, "llm")
	limit := p.maxLLM
	if limit <= 0 || limit > len(survivors) {
		limit = len(survivors)
	}
	best := llmVerdict{}
	for _, candidate := range survivors[:limit] {
		v, err := p.askLLM(ctx, content, candidate.Item.Content)
		if err != nil {
			log.Warn().Err(err).Str("candidate_id", candidate.Item.ID.String()).
				Msg("LLM dedup check failed; candidate treated as distinct")
			continue
		}
		if !v.IsDuplicate {
			continue
		}
		decision.Duplicates = append(decision.Duplicates, candidate.Item.ID)
		if !best.IsDuplicate || v.Confidence > best.Confidence {
			best = v
			decision.DuplicateOf = candidate.Item.ID
		}
	}
	if best.IsDuplicate {
		decision.IsDuplicate = true
		decision.Confidence = best.Confidence
		decision.Reason = best.Reason
	} else {
		decision.Reason = "llm found no semantic duplicate"
	}
	return decision, nil
}

type llmVerdict struct {
	IsDuplicate bool    `json:"is_duplicate"`
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason"`
}

const dedupPrompt = `You are a deduplication judge for a shared knowledge base.
Decide whether the NEW entry states the same knowledge as the EXISTING entry.
Paraphrases and reformatted versions of the same fact are duplicates.
Different facts about the same topic are NOT duplicates.

EXISTING:
%s

NEW:
%s

Respond with JSON only: {"is_duplicate": bool, "confidence": 0.0-1.0, "reason": "short explanation"}`

func (p *Pipeline) askLLM(ctx context.Context, content, existing string) (llmVerdict, error) {
	raw, err := p.llm.Complete(ctx, fmt.Sprintf(dedupPrompt, existing, content))
	if err != nil {
		return llmVerdict{}, err
	}
	var v llmVerdict
	if err := llm.DecodeJSON(raw, &v); err != nil {
		return llmVerdict{}, fmt.Errorf("decode dedup verdict: %w", err)
	}
	return v, nil
}
