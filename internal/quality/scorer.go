// Package quality implements behavioral scoring: the score formula, the
// signal recorder, the periodic aggregator, and the distillation worker.
package quality

import (
	"math"
	"time"

	"github.com/hivemind/hivemind/internal/config"
	"github.com/hivemind/hivemind/pkg/models"
)

// Inputs are the observable facts the score is derived from. LastAccess is
// the latest retrieval, falling back to approval time for items nobody has
// retrieved yet.
type Inputs struct {
	Helpful           int
	NotHelpful        int
	Retrievals        int
	ContradictionRate float64
	LastAccess        time.Time
	IsCurrent         bool
}

// Scorer computes quality scores from weighted behavioral components.
type Scorer struct {
	cfg config.QualityConfig
}

func NewScorer(cfg config.QualityConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score combines usefulness, popularity, freshness, contradiction penalty,
// and the currency bonus, clamped to [0, 1].
func (s *Scorer) Score(in Inputs, now time.Time) float64 {
	usefulness := float64(in.Helpful) / math.Max(float64(in.Helpful+in.NotHelpful), 1)
	popularity := math.Tanh(float64(in.Retrievals) / 50.0)

	days := now.Sub(in.LastAccess).Hours() / 24
	if days < 0 {
		days = 0
	}
	freshness := math.Exp(-math.Ln2 * days / s.cfg.HalfLifeDays)

	raw := s.cfg.UsefulnessWeight*usefulness +
		s.cfg.PopularityWeight*popularity +
		s.cfg.FreshnessWeight*freshness -
		s.cfg.ContradictionWeight*in.ContradictionRate
	if in.IsCurrent {
		raw += s.cfg.VersionBonus
	}
	return math.Min(1, math.Max(0, raw))
}

// InitialScore is the score assigned at ingestion, before any behavioral
// signals exist.
func InitialScore(confidence float64) float64 {
	return math.Min(1, confidence*0.5)
}

// ItemInputs derives score inputs from an item and its signal history. The
// contradiction rate runs over the whole signal log, retrievals included,
// so a heavily used item is not sunk by a single contradiction report.
func ItemInputs(item *models.KnowledgeItem, signals []models.QualitySignal) Inputs {
	contradictions := 0
	var lastAccess time.Time
	for _, sig := range signals {
		switch sig.SignalType {
		case models.SignalContradiction:
			contradictions++
		case models.SignalRetrieval:
			if sig.CreatedAt.After(lastAccess) {
				lastAccess = sig.CreatedAt
			}
		}
	}
	if lastAccess.IsZero() {
		if item.ApprovedAt != nil {
			lastAccess = *item.ApprovedAt
		} else {
			lastAccess = item.ContributedAt
		}
	}
	return Inputs{
		Helpful:           item.HelpfulCount,
		NotHelpful:        item.NotHelpfulCount,
		Retrievals:        item.RetrievalCount,
		ContradictionRate: float64(contradictions) / math.Max(float64(len(signals)), 1),
		LastAccess:        lastAccess,
		IsCurrent:         item.IsCurrent(),
	}
}

// PreliminaryScore pre-screens a pending contribution that has no behavioral
// history yet. Low confidence stands in for contradiction risk.
func (s *Scorer) PreliminaryScore(p *models.PendingContribution, now time.Time) float64 {
	return s.Score(Inputs{
		ContradictionRate: 1 - p.Confidence,
		LastAccess:        p.ContributedAt,
		IsCurrent:         true,
	}, now)
}
