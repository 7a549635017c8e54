// Package model defines the story session data types.
package model

import "time"

// State is a session lifecycle state.
type State string

const (
	StateDraftTab1   State = "DRAFT_TAB1"
	StateLocking     State = "LOCKING"
	StateActive      State = "ACTIVE"
	StateSummarizing State = "SUMMARIZING"
	StateEnded       State = "ENDED"
	StateNarrating   State = "NARRATING"
	StateResetting   State = "RESETTING"
)

// ValidStates are the allowed lifecycle states.
var ValidStates = map[State]bool{
	StateDraftTab1:   true,
	StateLocking:     true,
	StateActive:      true,
	StateSummarizing: true,
	StateEnded:       true,
	StateNarrating:   true,
	StateResetting:   true,
}

// Valid reports whether s is a known lifecycle state.
func (s State) Valid() bool {
	return ValidStates[s]
}

// Transient reports whether the state only exists while an operation is in flight.
func (s State) Transient() bool {
	switch s {
	case StateLocking, StateSummarizing, StateNarrating, StateResetting:
		return true
	}
	return false
}

// Stable returns the state a transient state falls back to when its
// operation did not complete. Stable states return themselves.
func (s State) Stable() State {
	switch s {
	case StateLocking, StateResetting:
		return StateDraftTab1
	case StateSummarizing:
		return StateActive
	case StateNarrating:
		return StateEnded
	}
	return s
}

// Session is one story-writing engagement.
type Session struct {
	ID                        string    `json:"session_id"`
	State                     State     `json:"state"`
	PromptIndex               int       `json:"prompt_index"`
	LastSummarizedPromptIndex int       `json:"last_summarized_prompt_index"`
	Tab1Locked                bool      `json:"tab1_locked"`
	NarrativeAgentDefinition  string    `json:"narrative_agent_definition_text"`
	Config                    Config    `json:"tab1"`
	Version                   int       `json:"version"`
	CreatedAt                 time.Time `json:"created_at"`
	UpdatedAt                 time.Time `json:"updated_at"`
}

// Config is the Tab1 world/chapter/roster configuration. It is mutable only
// while the session is unlocked.
type Config struct {
	WorldText               string         `json:"world_text"`
	ChapterText             string         `json:"chapter_text"`
	SelectedAgentSlots      []int          `json:"selected_agent_slots"`
	AgentNames              map[int]string `json:"agent_names"`
	AgentIdentityTextBySlot map[int]string `json:"agent_identity_text_by_slot"`
}

// HasSlot reports whether slot is part of the selected roster.
func (c Config) HasSlot(slot int) bool {
	for _, s := range c.SelectedAgentSlots {
		if s == slot {
			return true
		}
	}
	return false
}

// AgentName returns the display name for slot, falling back to the default.
func (c Config) AgentName(slot int) string {
	if name := c.AgentNames[slot]; name != "" {
		return name
	}
	return DefaultAgentName(slot)
}

// Role identifies who produced an event.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Event is one immutable turn in the session log.
type Event struct {
	ID          string    `json:"event_id"`
	SessionID   string    `json:"session_id"`
	PromptIndex int       `json:"prompt_index"`
	Role        Role      `json:"role"`
	AgentSlot   *int      `json:"agent_slot"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
}

// BlockType is the kind of memory block.
type BlockType string

const (
	BlockWorldChapterLock BlockType = "world_chapter_lock"
	BlockTurnDelta        BlockType = "turn_delta"
)

// MemoryBlock is a durable summary of a closed prompt range.
type MemoryBlock struct {
	ID              string         `json:"block_id"`
	SessionID       string         `json:"session_id"`
	Type            BlockType      `json:"type"`
	FromPromptIndex int            `json:"from_prompt_index"`
	ToPromptIndex   int            `json:"to_prompt_index"`
	Payload         map[string]any `json:"json_payload"`
	CreatedAt       time.Time      `json:"created_at"`
}

// SourceSnapshot records what a narrative draft was built from.
type SourceSnapshot struct {
	MaxPromptIndexUsed int      `json:"max_prompt_index_used"`
	MemoryBlockIDsUsed []string `json:"memory_block_ids_used"`
}

// NarrativeDraft is a rendered prose artifact.
type NarrativeDraft struct {
	ID                       string         `json:"draft_id"`
	SessionID                string         `json:"session_id"`
	ChapterText              string         `json:"chapter_text"`
	NarrativeAgentDefinition string         `json:"narrative_agent_definition_text"`
	SourceSnapshot           SourceSnapshot `json:"source_snapshot"`
	CreatedAt                time.Time      `json:"created_at"`
}

// Purpose names why a generation call was made.
type Purpose string

const (
	PurposeLockSummary Purpose = "lock_summary"
	PurposeCharacter   Purpose = "character"
	PurposeTurnSummary Purpose = "turn_summary"
	PurposeNarrative   Purpose = "narrative"
)

// Artifact is the audit record of one successful generation call.
type Artifact struct {
	ID          string    `json:"artifact_id"`
	SessionID   string    `json:"session_id"`
	Purpose     Purpose   `json:"purpose"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	InputHash   string    `json:"input_hash"`
	InputChars  int       `json:"input_chars"`
	OutputChars int       `json:"output_chars"`
	RawInput    string    `json:"raw_input,omitempty"`
	RawOutput   string    `json:"raw_output,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
