package quality

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hivemind/hivemind/internal/config"
	"github.com/hivemind/hivemind/internal/dedup"
	"github.com/hivemind/hivemind/internal/embeddings"
	"github.com/hivemind/hivemind/internal/guardrails"
	"github.com/hivemind/hivemind/internal/integrity"
	"github.com/hivemind/hivemind/internal/llm"
	"github.com/hivemind/hivemind/internal/store"
	"github.com/hivemind/hivemind/pkg/models"
	"github.com/rs/zerolog/log"
)

// DistilledAgentID marks items synthesized by the distillation worker.
const DistilledAgentID = "distillation"

const (
	distilledConfidence   = 0.8
	distilledQualityScore = 0.6
	minClusterSize        = 3
	preScreenFloor        = 0.2
)

// Distiller is the periodic maintenance worker: it merges exact duplicates,
// flags contradiction clusters, summarizes dense topic clusters, and
// pre-screens the review queue. Scheduled every 30 minutes.
type Distiller struct {
	store     store.Store
	scorer    *Scorer
	llm       llm.Client
	sanitizer *guardrails.Sanitizer
	embedder  embeddings.Provider
	index     *dedup.MinHashIndex
	cfg       config.DistillationConfig
}

func NewDistiller(st store.Store, scorer *Scorer, client llm.Client, sanitizer *guardrails.Sanitizer,
	embedder embeddings.Provider, index *dedup.MinHashIndex, cfg config.DistillationConfig) *Distiller {
	return &Distiller{
		store:     st,
		scorer:    scorer,
		llm:       client,
		sanitizer: sanitizer,
		embedder:  embedder,
		index:     index,
		cfg:       cfg,
	}
}

// Run executes one distillation pass.
func (d *Distiller) Run(ctx context.Context) error {
	lastRun := d.lastRun(ctx)
	now := time.Now().UTC()

	pending, err := d.store.CountPending(ctx)
	if err != nil {
		return fmt.Errorf("pending count: %w", err)
	}
	contradictions, err := d.store.CountContradictionsSince(ctx, lastRun)
	if err != nil {
		return fmt.Errorf("contradiction count: %w", err)
	}
	if pending < d.cfg.VolumeThreshold && contradictions < d.cfg.ConflictThreshold {
		log.Debug().Int("pending", pending).Int("contradictions", contradictions).
			Msg("Distillation skipped: below activity thresholds")
		return nil
	}

	merged := d.mergeDuplicates(ctx, now)
	flagged := d.flagContradictionClusters(ctx, lastRun)
	summarized := d.summarizeClusters(ctx)
	screened := d.preScreenPending(ctx, now)

	if err := d.store.SetConfigValue(ctx, models.ConfigDistillationLastRun, now.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("advance distillation watermark: %w", err)
	}
	log.Info().
		Int("merged_groups", merged).
		Int("contradiction_clusters", flagged).
		Int("summaries", summarized).
		Int("pre_screened", screened).
		Msg("Distillation pass complete")
	return nil
}

func (d *Distiller) lastRun(ctx context.Context) time.Time {
	raw, err := d.store.GetConfigValue(ctx, models.ConfigDistillationLastRun)
	if err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// mergeDuplicates collapses each (content_hash, tenant) group onto its
// highest quality member and supersedes the rest, recording provenance on
// the survivor.
func (d *Distiller) mergeDuplicates(ctx context.Context, now time.Time) int {
	groups, err := d.store.DuplicateGroups(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Duplicate group scan failed")
		return 0
	}

	merged := 0
	for _, g := range groups {
		if len(g.ItemIDs) < 2 {
			continue
		}
		canonical := g.ItemIDs[0]
		item, err := d.store.GetItem(ctx, canonical)
		if err != nil {
			log.Warn().Err(err).Str("item_id", canonical.String()).Msg("Merge canonical fetch failed")
			continue
		}

		var provenance []string
		for _, id := range g.ItemIDs[1:] {
			if err := d.store.SupersedeItem(ctx, id, g.TenantID, now); err != nil {
				log.Warn().Err(err).Str("item_id", id.String()).Msg("Merge supersede failed")
				continue
			}
			d.index.Remove(id)
			provenance = append(provenance, id.String())
		}
		if len(provenance) == 0 {
			continue
		}

		tags := item.Tags
		if tags == nil {
			tags = map[string]any{}
		}
		if prior, ok := tags["provenance_links"].([]any); ok {
			for _, p := range prior {
				if s, ok := p.(string); ok {
					provenance = append(provenance, s)
				}
			}
		}
		tags["provenance_links"] = provenance
		if err := d.store.UpdateItemTags(ctx, canonical, tags); err != nil {
			log.Warn().Err(err).Str("item_id", canonical.String()).Msg("Merge provenance update failed")
		}
		merged++
	}
	return merged
}

// flagContradictionClusters records a cluster signal on the anchor of each
// (category, tenant) group with two or more contradicted items.
func (d *Distiller) flagContradictionClusters(ctx context.Context, since time.Time) int {
	clusters, err := d.store.ContradictionClusters(ctx, since)
	if err != nil {
		log.Warn().Err(err).Msg("Contradiction cluster scan failed")
		return 0
	}

	flagged := 0
	for _, c := range clusters {
		ids := make([]string, len(c.ItemIDs))
		for i, id := range c.ItemIDs {
			ids[i] = id.String()
		}
		err := d.store.CreateSignal(ctx, &models.QualitySignal{
			KnowledgeItemID: c.ItemIDs[0],
			SignalType:      models.SignalContradictionCluster,
			AgentID:         DistilledAgentID,
			Metadata: map[string]any{
				"category": string(c.Category),
				"tenant":   c.TenantID,
				"item_ids": ids,
			},
		})
		if err != nil {
			log.Warn().Err(err).Msg("Contradiction cluster signal failed")
			continue
		}
		flagged++
	}
	return flagged
}

// summarizeClusters finds connected components of embedding neighbors and
// synthesizes one summary item per component of three or more members.
// Summaries pass through PII sanitization before insert, no exceptions.
func (d *Distiller) summarizeClusters(ctx context.Context) int {
	if d.llm == nil || !d.llm.Available() {
		return 0
	}
	pairs, err := d.store.EmbeddingNeighbors(ctx, d.cfg.ClusterThreshold)
	if err != nil {
		log.Warn().Err(err).Msg("Embedding neighbor scan failed")
		return 0
	}

	summarized := 0
	for _, component := range connectedComponents(pairs) {
		if len(component) < minClusterSize {
			continue
		}
		if d.summarizeComponent(ctx, component) {
			summarized++
		}
	}
	return summarized
}

func (d *Distiller) summarizeComponent(ctx context.Context, ids []uuid.UUID) bool {
	var items []*models.KnowledgeItem
	for _, id := range ids {
		item, err := d.store.GetItem(ctx, id)
		if err != nil {
			continue
		}
		if item.Tags != nil {
			if distilled, _ := item.Tags["distilled"].(bool); distilled {
				return false // never summarize summaries
			}
		}
		items = append(items, item)
	}
	if len(items) < minClusterSize {
		return false
	}

	var sb strings.Builder
	for i, item := range items {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, item.Content)
	}
	prompt := fmt.Sprintf(`The following knowledge base entries cover the same topic.
Write one consolidated entry that preserves every distinct fact, resolves
redundancy, and stays under 300 words. Respond with the entry text only.

%s`, sb.String())

	summary, err := d.llm.Complete(ctx, prompt)
	if err != nil {
		log.Warn().Err(err).Msg("Cluster summary failed")
		return false
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return false
	}

	clean, reject := d.sanitizer.Sanitize(summary)
	if reject {
		log.Warn().Msg("Cluster summary rejected by sanitizer")
		return false
	}

	embedding, err := d.embedder.Embed(ctx, clean)
	if err != nil {
		log.Warn().Err(err).Msg("Cluster summary embedding failed")
		return false
	}

	sourceIDs := make([]string, len(items))
	for i, item := range items {
		sourceIDs[i] = item.ID.String()
	}
	summaryItem := &models.KnowledgeItem{
		TenantID:      items[0].TenantID,
		SourceAgentID: DistilledAgentID,
		Content:       clean,
		ContentHash:   integrity.ComputeHash(clean),
		Category:      items[0].Category,
		Confidence:    distilledConfidence,
		QualityScore:  distilledQualityScore,
		Embedding:     embedding,
		Tags: map[string]any{
			"distilled":       true,
			"source_item_ids": sourceIDs,
		},
	}
	if err := d.store.CreateItem(ctx, summaryItem); err != nil {
		log.Warn().Err(err).Msg("Cluster summary insert failed")
		return false
	}
	d.index.Add(summaryItem.ID, summaryItem.Content)
	return true
}

// preScreenPending flags unflagged pending rows whose preliminary score falls
// below the review floor, so reviewers see the risky ones first.
func (d *Distiller) preScreenPending(ctx context.Context, now time.Time) int {
	pending, err := d.store.ListUnflaggedPending(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Pending pre-screen scan failed")
		return 0
	}
	screened := 0
	for i := range pending {
		score := d.scorer.PreliminaryScore(&pending[i], now)
		if score >= preScreenFloor {
			continue
		}
		if err := d.store.FlagPending(ctx, pending[i].ID, score); err != nil {
			log.Warn().Err(err).Str("pending_id", pending[i].ID.String()).Msg("Pending flag failed")
			continue
		}
		screened++
	}
	return screened
}

// connectedComponents unions neighbor pairs into clusters.
func connectedComponents(pairs []store.NeighborPair) [][]uuid.UUID {
	parent := map[uuid.UUID]uuid.UUID{}
	var find func(uuid.UUID) uuid.UUID
	find = func(x uuid.UUID) uuid.UUID {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	add := func(x uuid.UUID) {
		if _, ok := parent[x]; !ok {
			parent[x] = x
		}
	}
	for _, p := range pairs {
		add(p.A)
		add(p.B)
		ra, rb := find(p.A), find(p.B)
		if ra != rb {
			parent[ra] = rb
		}
	}

	groups := map[uuid.UUID][]uuid.UUID{}
	for node := range parent {
		root := find(node)
		groups[root] = append(groups[root], node)
	}
	out := make([][]uuid.UUID, 0, len(groups))
	for _, members := range groups {
		sort.Slice(members, func(i, j int) bool {
			return members[i].String() < members[j].String()
		})
		out = append(out, members)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i][0].String() < out[j][0].String()
	})
	return out
}
