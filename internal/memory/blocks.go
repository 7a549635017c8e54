// Package memory builds the durable memory blocks that replace raw transcript
// for long-term context: the world/chapter lock block and turn-delta blocks
// summarizing closed prompt ranges.
package memory

import (
	"sort"
	"strconv"
	"time"

	"github.com/rcliao/story-engine/internal/model"
)

// LockBlock snapshots the configuration at lock time. The range is always [0,0].
func LockBlock(sessionID string, cfg model.Config, summary string, now time.Time) model.MemoryBlock {
	payload := map[string]any{
		"world_text":                  cfg.WorldText,
		"chapter_text":                cfg.ChapterText,
		"selected_agent_slots":        append([]int(nil), cfg.SelectedAgentSlots...),
		"agent_names":                 stringKeyed(cfg.AgentNames),
		"agent_identity_text_by_slot": stringKeyed(cfg.AgentIdentityTextBySlot),
	}
	if summary != "" {
		payload["summary"] = summary
	}
	return model.MemoryBlock{
		SessionID:       sessionID,
		Type:            model.BlockWorldChapterLock,
		FromPromptIndex: 0,
		ToPromptIndex:   0,
		Payload:         payload,
		CreatedAt:       now,
	}
}

// DeltaBlock aggregates the events in [from, to]. It reports false when the
// range is empty and no block should be created.
func DeltaBlock(sessionID string, from, to int, events []model.Event, summary string, now time.Time) (model.MemoryBlock, bool) {
	if from > to {
		return model.MemoryBlock{}, false
	}
	payload := Aggregate(from, to, events)
	if summary != "" {
		payload["summary"] = summary
	}
	return model.MemoryBlock{
		SessionID:       sessionID,
		Type:            model.BlockTurnDelta,
		FromPromptIndex: from,
		ToPromptIndex:   to,
		Payload:         payload,
		CreatedAt:       now,
	}, true
}

// turn groups one prompt index.
type turn struct {
	PromptIndex int            `json:"prompt_index"`
	User        string         `json:"user,omitempty"`
	Replies     map[string]any `json:"replies,omitempty"`
}

// Aggregate is the deterministic structured summary of events in [from, to].
// Events outside the range are ignored.
func Aggregate(from, to int, events []model.Event) map[string]any {
	turns := map[int]*turn{}
	userTurns := 0
	agentTurns := map[string]int{}
	count := 0

	for _, ev := range events {
		if ev.PromptIndex < from || ev.PromptIndex > to {
			continue
		}
		count++
		t, ok := turns[ev.PromptIndex]
		if !ok {
			t = &turn{PromptIndex: ev.PromptIndex}
			turns[ev.PromptIndex] = t
		}
		switch ev.Role {
		case model.RoleUser:
			userTurns++
			t.User = ev.Text
		case model.RoleAgent:
			if ev.AgentSlot == nil {
				continue
			}
			key := strconv.Itoa(*ev.AgentSlot)
			agentTurns[key]++
			if t.Replies == nil {
				t.Replies = map[string]any{}
			}
			t.Replies[key] = ev.Text
		}
	}

	ordered := make([]turn, 0, len(turns))
	for _, t := range turns {
		ordered = append(ordered, *t)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].PromptIndex < ordered[j].PromptIndex })

	return map[string]any{
		"from_prompt_index":   from,
		"to_prompt_index":     to,
		"event_count":         count,
		"prompt_count":        to - from + 1,
		"user_turns":          userTurns,
		"agent_turns_by_slot": agentTurns,
		"turns":               ordered,
	}
}

func stringKeyed(m map[int]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strconv.Itoa(k)] = v
	}
	return out
}
