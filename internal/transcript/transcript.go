// Package transcript assembles the bounded context transcript from a session
// event log. Assembly is a pure read-time derivation and is never persisted.
package transcript

import (
	"fmt"
	"unicode/utf8"

	"github.com/rcliao/story-engine/internal/model"
)

const (
	// DefaultBudget is the character budget used when none is configured.
	DefaultBudget = 60000

	// Separator marks the boundary between summarized history and live context.
	Separator = "-------------"

	// ClassNeutral is the color class for user lines and the separator.
	ClassNeutral = "neutral"

	// RoleSeparator tags the boundary marker line.
	RoleSeparator = "separator"
)

// Palette maps color classes to display colors.
var Palette = map[string]string{
	"agent-1":    "#ff4a4a",
	"agent-2":    "#ff9f43",
	"agent-3":    "#ffd93d",
	"agent-4":    "#3ddc84",
	"agent-5":    "#45aaf2",
	"agent-6":    "#6c5ce7",
	"agent-7":    "#b56cff",
	ClassNeutral: "#9ca3af",
}

// Options controls assembly.
type Options struct {
	LastSummarizedPromptIndex int
	AgentNames                map[int]string
	Budget                    int // max chars including one separator char per line
}

// AgentClass returns the color class for a slot. Seven classes cycle by slot.
func AgentClass(slot int) string {
	if slot < 1 {
		return ClassNeutral
	}
	return fmt.Sprintf("agent-%d", (slot-1)%model.MaxAgentSlots+1)
}

// Lines renders every event into display lines without applying the budget.
func Lines(events []model.Event, opts Options) []model.Line {
	lines := make([]model.Line, 0, len(events)+1)
	for _, ev := range events {
		switch ev.Role {
		case model.RoleUser:
			lines = append(lines, model.Line{
				Text:       fmt.Sprintf("%d) %s", ev.PromptIndex, ev.Text),
				Role:       string(model.RoleUser),
				ColorClass: ClassNeutral,
				EventID:    ev.ID,
			})
		case model.RoleAgent:
			slot := 0
			if ev.AgentSlot != nil {
				slot = *ev.AgentSlot
			}
			lines = append(lines, model.Line{
				Text:       fmt.Sprintf("%s: %s", agentName(opts.AgentNames, slot), ev.Text),
				Role:       string(model.RoleAgent),
				AgentSlot:  slot,
				ColorClass: AgentClass(slot),
				EventID:    ev.ID,
			})
			if ev.PromptIndex == opts.LastSummarizedPromptIndex {
				lines = append(lines, model.Line{
					Text:       Separator,
					Role:       RoleSeparator,
					ColorClass: ClassNeutral,
				})
			}
		}
		// system events are reserved and render nothing
	}
	return lines
}

// Assemble renders events and keeps the most recent lines that fit the
// budget. The result is always a contiguous suffix in chronological order.
func Assemble(events []model.Event, opts Options) model.Transcript {
	budget := opts.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}

	all := Lines(events, opts)

	// Walk backward from the newest line and stop at the first that overflows.
	start := len(all)
	used := 0
	for i := len(all) - 1; i >= 0; i-- {
		cost := utf8.RuneCountInString(all[i].Text) + 1
		if used+cost > budget {
			break
		}
		used += cost
		start = i
	}

	kept := make([]model.Line, len(all)-start)
	copy(kept, all[start:])
	return model.Transcript{Lines: kept, CharCount: used, Budget: budget}
}

func agentName(names map[int]string, slot int) string {
	if name := names[slot]; name != "" {
		return name
	}
	return model.DefaultAgentName(slot)
}
