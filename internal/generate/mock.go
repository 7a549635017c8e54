package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/rcliao/story-engine/internal/model"
)

// MockGenerator returns deterministic text without any network access.
type MockGenerator struct{}

// NewMockGenerator creates the offline generator.
func NewMockGenerator() *MockGenerator { return &MockGenerator{} }

func (MockGenerator) Name() string { return "mock" }

func (MockGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	switch req.Purpose {
	case model.PurposeLockSummary:
		var agents []string
		if names, ok := req.Input["agent_names"].(map[int]string); ok {
			slots, _ := req.Input["selected_agent_slots"].([]int)
			for _, s := range slots {
				agents = append(agents, fmt.Sprintf("%d:%s", s, names[s]))
			}
		}
		return "World/Chapter lock created. Agents: " + strings.Join(agents, ", ") + ".", nil
	case model.PurposeTurnSummary:
		return fmt.Sprintf("Turn delta summary for prompts %d-%d",
			intField(req.Input, "from_prompt_index"), intField(req.Input, "to_prompt_index")), nil
	case model.PurposeNarrative:
		return "Narrative draft generated from structured memory and the event log.", nil
	default:
		prompt := stringField(req.Input, "user_prompt")
		if r := []rune(prompt); len(r) > 120 {
			prompt = string(r[:120])
		}
		return fmt.Sprintf("Agent %d response to prompt %d: %s",
			intField(req.Input, "agent_slot"), intField(req.Input, "prompt_index"), prompt), nil
	}
}
