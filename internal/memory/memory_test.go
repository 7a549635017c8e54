package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rcliao/story-engine/internal/generate"
	"github.com/rcliao/story-engine/internal/model"
)

func slotPtr(s int) *int { return &s }

func TestLockBlock(t *testing.T) {
	cfg := model.Config{
		WorldText:               "World",
		ChapterText:             "Chapter",
		SelectedAgentSlots:      []int{1, 2},
		AgentNames:              map[int]string{1: "A", 2: "B"},
		AgentIdentityTextBySlot: map[int]string{1: "Warrior", 2: "Mage"},
	}
	b := LockBlock("s1", cfg, "", time.Now())

	if b.Type != model.BlockWorldChapterLock {
		t.Errorf("expected lock block type, got %s", b.Type)
	}
	if b.FromPromptIndex != 0 || b.ToPromptIndex != 0 {
		t.Errorf("expected range [0,0], got [%d,%d]", b.FromPromptIndex, b.ToPromptIndex)
	}
	if b.Payload["world_text"] != "World" {
		t.Errorf("expected world snapshot, got %v", b.Payload["world_text"])
	}
	if _, ok := b.Payload["summary"]; ok {
		t.Error("expected no summary key for empty summary")
	}
	names := b.Payload["agent_names"].(map[string]string)
	if names["2"] != "B" {
		t.Errorf("expected string-keyed names, got %v", names)
	}
}

func TestDeltaBlockEmptyRange(t *testing.T) {
	if _, ok := DeltaBlock("s1", 4, 3, nil, "", time.Now()); ok {
		t.Fatal("expected no block for empty range")
	}
}

func TestDeltaBlockAggregates(t *testing.T) {
	events := []model.Event{
		{PromptIndex: 1, Role: model.RoleUser, Text: "u1"},
		{PromptIndex: 1, Role: model.RoleAgent, AgentSlot: slotPtr(1), Text: "a1"},
		{PromptIndex: 2, Role: model.RoleUser, Text: "u2"},
		{PromptIndex: 2, Role: model.RoleAgent, AgentSlot: slotPtr(2), Text: "a2"},
		{PromptIndex: 3, Role: model.RoleUser, Text: "u3"},
		{PromptIndex: 4, Role: model.RoleUser, Text: "outside"},
	}
	b, ok := DeltaBlock("s1", 1, 3, events, "sum", time.Now())
	if !ok {
		t.Fatal("expected a block")
	}
	if b.Type != model.BlockTurnDelta || b.FromPromptIndex != 1 || b.ToPromptIndex != 3 {
		t.Fatalf("unexpected block header %+v", b)
	}
	if b.Payload["event_count"] != 5 {
		t.Errorf("expected 5 events in range, got %v", b.Payload["event_count"])
	}
	if b.Payload["user_turns"] != 3 {
		t.Errorf("expected 3 user turns, got %v", b.Payload["user_turns"])
	}
	if b.Payload["summary"] != "sum" {
		t.Errorf("expected summary, got %v", b.Payload["summary"])
	}
	turns := b.Payload["turns"].([]turn)
	if len(turns) != 3 || turns[0].PromptIndex != 1 || turns[2].PromptIndex != 3 {
		t.Fatalf("expected 3 ordered turns, got %+v", turns)
	}
	if turns[1].Replies["2"] != "a2" {
		t.Errorf("expected slot 2 reply on turn 2, got %v", turns[1].Replies)
	}
}

func TestNewSummarizer(t *testing.T) {
	if _, err := NewSummarizer(ModeDeterministic, nil, generate.Models{}); err != nil {
		t.Fatalf("deterministic: %v", err)
	}
	if _, err := NewSummarizer(ModeGenerated, nil, generate.Models{}); err == nil {
		t.Fatal("expected error without generator")
	}
	if _, err := NewSummarizer("bogus", generate.NewMockGenerator(), generate.Models{}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestGeneratedSummarizer(t *testing.T) {
	s, err := NewSummarizer(ModeGenerated, generate.NewMockGenerator(), generate.Models{Summary: "m"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	out, art, err := s.SummarizeTurns(context.Background(), "s1", 1, 7, nil)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if out != "Turn delta summary for prompts 1-7" {
		t.Errorf("unexpected summary %q", out)
	}
	if art == nil || art.Purpose != model.PurposeTurnSummary || art.Model != "m" || art.SessionID != "s1" {
		t.Errorf("unexpected artifact %+v", art)
	}
}

type failingGenerator struct{}

func (failingGenerator) Name() string { return "failing" }
func (failingGenerator) Generate(context.Context, generate.Request) (string, error) {
	return "", errors.New("boom")
}

func TestGeneratedSummarizerPropagatesFailure(t *testing.T) {
	s, _ := NewSummarizer(ModeGenerated, failingGenerator{}, generate.Models{})
	_, art, err := s.SummarizeLock(context.Background(), "s1", model.EmptyConfig())
	if err == nil {
		t.Fatal("expected error")
	}
	if art != nil {
		t.Error("expected no artifact on failure")
	}
}
