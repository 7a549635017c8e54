package model

// Line is one rendered transcript line.
type Line struct {
	Text       string `json:"text"`
	Role       string `json:"role"`
	AgentSlot  int    `json:"agent_slot,omitempty"`
	ColorClass string `json:"color_class"`
	EventID    string `json:"event_id,omitempty"`
}

// Transcript is the bounded context rendering of the event log.
type Transcript struct {
	Lines     []Line `json:"lines"`
	CharCount int    `json:"char_count"`
	Budget    int    `json:"budget"`
}

// Detail is the full read view of a session.
type Detail struct {
	Session         Session          `json:"session"`
	Events          []Event          `json:"events"`
	MemoryBlocks    []MemoryBlock    `json:"memory_blocks"`
	NarrativeDrafts []NarrativeDraft `json:"narrative_drafts"`
	CurrentDraft    *NarrativeDraft  `json:"current_draft"`
	Transcript      Transcript       `json:"transcript"`
}
