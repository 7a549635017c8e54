// Package generate provides a pluggable interface for the external text
// generation capability used for agent replies, summaries and narrative drafts.
package generate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rcliao/story-engine/internal/model"
)

// Request is one generation call.
type Request struct {
	SessionID string
	Purpose   model.Purpose
	Model     string
	Input     map[string]any
}

// Generator produces text for a request. Implementations must be safe for
// concurrent use and must not retry on their own.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	Name() string
}

// EncodeInput returns the canonical JSON encoding of the request input and
// its sha256 hex digest.
func EncodeInput(input map[string]any) (string, string) {
	b, err := json.Marshal(input) // map keys are emitted sorted
	if err != nil {
		b = []byte(fmt.Sprintf("%v", input))
	}
	sum := sha256.Sum256(b)
	return string(b), hex.EncodeToString(sum[:])
}

// SystemPrompt returns the instruction sent with a request of the given purpose.
func SystemPrompt(p model.Purpose) string {
	switch p {
	case model.PurposeLockSummary:
		return "Summarize the world and chapter setup into compact structured story memory."
	case model.PurposeTurnSummary:
		return "Summarize this range of turns into a concise memory delta containing only new information."
	case model.PurposeNarrative:
		return "Write a cohesive chapter draft. Treat structured memory as canon and the event log as detail."
	default:
		return "You are a character roleplay agent. Stay in your character identity and voice. " +
			"Never contradict structured memory. Respond only as your character."
	}
}

// UserPrompt renders the request input as the user message.
func UserPrompt(req Request) string {
	if req.Purpose != model.PurposeCharacter {
		s, _ := EncodeInput(req.Input)
		return s
	}

	identity, _ := json.Marshal(req.Input["agent_identity"])
	memory, _ := json.Marshal(req.Input["structured_memory"])

	var recent []string
	switch lines := req.Input["recent_context"].(type) {
	case []string:
		recent = lines
	case []any:
		for _, l := range lines {
			recent = append(recent, fmt.Sprint(l))
		}
	}

	var b strings.Builder
	b.WriteString("[Agent Identity]\n")
	b.Write(identity)
	b.WriteString("\n\n[Structured Memory]\n")
	b.Write(memory)
	b.WriteString("\n\n[Current Context]\n")
	b.WriteString(strings.Join(recent, "\n"))
	b.WriteString("\n\n[User Prompt]\n")
	b.WriteString(stringField(req.Input, "user_prompt"))
	return b.String()
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
