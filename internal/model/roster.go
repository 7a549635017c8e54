package model

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	apperrors "github.com/rcliao/story-engine/internal/errors"
)

// MaxAgentSlots is the largest roster a session can select.
const MaxAgentSlots = 7

const (
	DefaultTextMaxChars = 5000
	DefaultNameMaxChars = 120
)

var defaultAgentNames = map[int]string{
	1: "Agent Red",
	2: "Agent Orange",
	3: "Agent Yellow",
	4: "Agent Green",
	5: "Agent Blue",
	6: "Agent Indigo",
	7: "Agent Violet",
}

// DefaultAgentName returns the fixed name for a slot.
func DefaultAgentName(slot int) string {
	if name, ok := defaultAgentNames[slot]; ok {
		return name
	}
	return fmt.Sprintf("Agent %d", slot)
}

// Limits bounds user-supplied text. Inputs over a bound are truncated.
type Limits struct {
	TextMaxChars int
	NameMaxChars int
}

// DefaultLimits returns the standard text bounds.
func DefaultLimits() Limits {
	return Limits{TextMaxChars: DefaultTextMaxChars, NameMaxChars: DefaultNameMaxChars}
}

// Truncate cuts s to at most max runes. max <= 0 leaves s untouched.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

// ValidateSlots checks that slots form {1..N} with 1 <= N <= 7 and returns
// them sorted and de-duplicated.
func ValidateSlots(slots []int) ([]int, error) {
	if len(slots) == 0 {
		return nil, apperrors.New(apperrors.CodeValidation, "at least one agent slot must be selected")
	}
	seen := make(map[int]bool, len(slots))
	out := make([]int, 0, len(slots))
	for _, s := range slots {
		if s < 1 || s > MaxAgentSlots {
			return nil, apperrors.Newf(apperrors.CodeValidation, "agent slot %d out of range 1..%d", s, MaxAgentSlots)
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Ints(out)
	for i, s := range out {
		if s != i+1 {
			return nil, apperrors.Newf(apperrors.CodeValidation, "agent slots must be contiguous from 1, missing slot %d", i+1)
		}
	}
	return out, nil
}

// NormalizeConfig validates the roster and applies defaults and truncation.
// Name and identity entries for unselected slots are dropped so that both
// maps are keyed by exactly the selected slots.
func NormalizeConfig(in Config, lim Limits) (Config, error) {
	slots, err := ValidateSlots(in.SelectedAgentSlots)
	if err != nil {
		return Config{}, err
	}

	out := Config{
		WorldText:               Truncate(in.WorldText, lim.TextMaxChars),
		ChapterText:             Truncate(in.ChapterText, lim.TextMaxChars),
		SelectedAgentSlots:      slots,
		AgentNames:              make(map[int]string, len(slots)),
		AgentIdentityTextBySlot: make(map[int]string, len(slots)),
	}
	for _, slot := range slots {
		name := strings.TrimSpace(in.AgentNames[slot])
		if name == "" {
			name = DefaultAgentName(slot)
		}
		out.AgentNames[slot] = Truncate(name, lim.NameMaxChars)
		out.AgentIdentityTextBySlot[slot] = Truncate(in.AgentIdentityTextBySlot[slot], lim.TextMaxChars)
	}
	return out, nil
}

// EmptyConfig is the configuration of a fresh or reset session.
func EmptyConfig() Config {
	return Config{
		SelectedAgentSlots:      []int{1},
		AgentNames:              map[int]string{1: DefaultAgentName(1)},
		AgentIdentityTextBySlot: map[int]string{1: ""},
	}
}
