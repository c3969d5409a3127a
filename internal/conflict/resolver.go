// Package conflict decides what happens when an incoming contribution
// semantically collides with an existing knowledge item.
package conflict

import (
	"context"
	"fmt"

	"github.com/hivemind/hivemind/internal/llm"
	"github.com/hivemind/hivemind/pkg/models"
	"github.com/rs/zerolog/log"
)

// Action is the resolver verdict.
type Action string

const (
	// ActionUpdate supersedes the existing item with the new content.
	ActionUpdate Action = "UPDATE"
	// ActionAdd keeps both items; they describe different facts.
	ActionAdd Action = "ADD"
	// ActionNoop discards the new content; the existing item already covers it.
	ActionNoop Action = "NOOP"
	// ActionVersionFork keeps both as version-scoped truths and closes the
	// old item's world-time validity.
	ActionVersionFork Action = "VERSION_FORK"
	// ActionFlagged routes the contribution to human review. Used only when
	// the collision is judged not to be a direct conflict.
	ActionFlagged Action = "FLAGGED_FOR_REVIEW"
)

// Resolution is the full resolver output.
type Resolution struct {
	Action           Action `json:"action"`
	Reason           string `json:"reason"`
	IsDirectConflict bool   `json:"is_direct_conflict"`
}

// Resolver wraps the LLM conflict judgment.
type Resolver struct {
	llm llm.Client
}

func NewResolver(client llm.Client) *Resolver {
	return &Resolver{llm: client}
}

const resolverPrompt = `Two knowledge entries in a shared agent knowledge base collide.
Decide how to resolve them.

EXISTING (category %s, version %q, contributed %s):
%s

NEW (version %q):
%s

Rules:
- UPDATE: the new entry corrects or obsoletes the existing one.
- ADD: they state different facts; keep both.
- NOOP: the new entry adds nothing over the existing one.
- VERSION_FORK: both are true, each for a different version of the subject.
Set is_direct_conflict to true only when the two entries make incompatible
claims about the same thing.

Respond with JSON only:
{"action": "UPDATE|ADD|NOOP|VERSION_FORK", "reason": "short explanation", "is_direct_conflict": bool}`

// Resolve judges the collision between existing and the new content. Any
// resolver failure comes back as ADD so ingestion never blocks on the LLM;
// only a judged non-direct conflict is flagged for human review.
func (r *Resolver) Resolve(ctx context.Context, existing *models.KnowledgeItem, newContent, newVersion string) Resolution {
	if r.llm == nil || !r.llm.Available() {
		return Resolution{
			Action: ActionAdd,
			Reason: "conflict resolver unavailable; kept both",
		}
	}

	prompt := fmt.Sprintf(resolverPrompt,
		existing.Category, existing.Version,
		existing.ContributedAt.Format("2006-01-02"),
		existing.Content, newVersion, newContent)

	raw, err := r.llm.Complete(ctx, prompt)
	if err != nil {
		log.Warn().Err(err).Str("existing_id", existing.ID.String()).
			Msg("Conflict resolution failed; keeping both items")
		return Resolution{Action: ActionAdd, Reason: "conflict resolver error; kept both"}
	}

	var res Resolution
	if err := llm.DecodeJSON(raw, &res); err != nil {
		log.Warn().Err(err).Msg("Unparseable conflict resolution; keeping both items")
		return Resolution{Action: ActionAdd, Reason: "unparseable resolver output; kept both"}
	}

	switch res.Action {
	case ActionUpdate, ActionAdd, ActionNoop, ActionVersionFork:
	default:
		return Resolution{Action: ActionAdd, Reason: "unknown resolver action; kept both"}
	}

	if !res.IsDirectConflict {
		res.Action = ActionFlagged
		if res.Reason == "" {
			res.Reason = "collision is not a direct conflict"
		}
	}
	return res
}
