package memory

import (
	"context"
	"fmt"

	"github.com/rcliao/story-engine/internal/generate"
	"github.com/rcliao/story-engine/internal/model"
)

// Summary modes.
const (
	ModeDeterministic = "deterministic"
	ModeGenerated     = "generated"
)

// Summarizer produces the free-text summary stored alongside the structured
// payload of a block. An empty summary is valid.
type Summarizer interface {
	SummarizeLock(ctx context.Context, sessionID string, cfg model.Config) (string, *model.Artifact, error)
	SummarizeTurns(ctx context.Context, sessionID string, from, to int, events []model.Event) (string, *model.Artifact, error)
}

// NewSummarizer returns the strategy for mode.
func NewSummarizer(mode string, gen generate.Generator, models generate.Models) (Summarizer, error) {
	switch mode {
	case ModeDeterministic:
		return Deterministic{}, nil
	case "", ModeGenerated:
		if gen == nil {
			return nil, fmt.Errorf("summary mode %q requires a generator", ModeGenerated)
		}
		return &Generated{gen: gen, models: models}, nil
	default:
		return nil, fmt.Errorf("unknown summary mode %q (valid: %s, %s)", mode, ModeDeterministic, ModeGenerated)
	}
}

// Deterministic never calls out; blocks carry only the aggregation.
type Deterministic struct{}

func (Deterministic) SummarizeLock(context.Context, string, model.Config) (string, *model.Artifact, error) {
	return "", nil, nil
}

func (Deterministic) SummarizeTurns(context.Context, string, int, int, []model.Event) (string, *model.Artifact, error) {
	return "", nil, nil
}

// Generated asks the generation capability for the summary text.
type Generated struct {
	gen    generate.Generator
	models generate.Models
}

func (g *Generated) SummarizeLock(ctx context.Context, sessionID string, cfg model.Config) (string, *model.Artifact, error) {
	return generate.Call(ctx, g.gen, generate.Request{
		SessionID: sessionID,
		Purpose:   model.PurposeLockSummary,
		Model:     g.models.For(model.PurposeLockSummary),
		Input: map[string]any{
			"world_text":                  cfg.WorldText,
			"chapter_text":                cfg.ChapterText,
			"selected_agent_slots":        cfg.SelectedAgentSlots,
			"agent_names":                 cfg.AgentNames,
			"agent_identity_text_by_slot": cfg.AgentIdentityTextBySlot,
		},
	})
}

func (g *Generated) SummarizeTurns(ctx context.Context, sessionID string, from, to int, events []model.Event) (string, *model.Artifact, error) {
	type eventInput struct {
		PromptIndex int        `json:"prompt_index"`
		Role        model.Role `json:"role"`
		AgentSlot   *int       `json:"agent_slot"`
		Text        string     `json:"text"`
	}
	in := make([]eventInput, 0, len(events))
	for _, ev := range events {
		if ev.PromptIndex < from || ev.PromptIndex > to {
			continue
		}
		in = append(in, eventInput{PromptIndex: ev.PromptIndex, Role: ev.Role, AgentSlot: ev.AgentSlot, Text: ev.Text})
	}
	return generate.Call(ctx, g.gen, generate.Request{
		SessionID: sessionID,
		Purpose:   model.PurposeTurnSummary,
		Model:     g.models.For(model.PurposeTurnSummary),
		Input: map[string]any{
			"from_prompt_index": from,
			"to_prompt_index":   to,
			"events":            in,
		},
	})
}
