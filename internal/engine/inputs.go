package engine

import (
	"strings"

	"github.com/rcliao/story-engine/internal/model"
)

func (e *Engine) characterInput(sess *model.Session, slot int, text string, history []model.Event, blocks []model.MemoryBlock) map[string]any {
	lines := e.transcript(sess, history).Lines
	recent := make([]string, len(lines))
	for i, l := range lines {
		recent[i] = l.Text
	}
	return map[string]any{
		"agent_slot":   slot,
		"prompt_index": sess.PromptIndex,
		"agent_identity": map[string]any{
			"slot":          slot,
			"name":          sess.Config.AgentName(slot),
			"identity_text": sess.Config.AgentIdentityTextBySlot[slot],
		},
		"structured_memory": structuredMemory(blocks),
		"recent_context":    recent,
		"user_prompt":       text,
	}
}

func narrativeInput(sess *model.Session, events []model.Event, blocks []model.MemoryBlock) map[string]any {
	type eventInput struct {
		PromptIndex int        `json:"prompt_index"`
		Role        model.Role `json:"role"`
		AgentName   string     `json:"agent_name,omitempty"`
		Text        string     `json:"text"`
	}
	log := make([]eventInput, 0, len(events))
	for _, ev := range events {
		in := eventInput{PromptIndex: ev.PromptIndex, Role: ev.Role, Text: ev.Text}
		if ev.AgentSlot != nil {
			in.AgentName = sess.Config.AgentName(*ev.AgentSlot)
		}
		log = append(log, in)
	}
	return map[string]any{
		"world_text":                      sess.Config.WorldText,
		"chapter_text":                    sess.Config.ChapterText,
		"narrative_agent_definition_text": sess.NarrativeAgentDefinition,
		"structured_memory":               structuredMemory(blocks),
		"events":                          log,
	}
}

func structuredMemory(blocks []model.MemoryBlock) []map[string]any {
	out := make([]map[string]any, len(blocks))
	for i, b := range blocks {
		out[i] = map[string]any{
			"type":              b.Type,
			"from_prompt_index": b.FromPromptIndex,
			"to_prompt_index":   b.ToPromptIndex,
			"payload":           b.Payload,
		}
	}
	return out
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
