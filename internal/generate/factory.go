package generate

import (
	"fmt"
	"time"

	"github.com/rcliao/story-engine/internal/model"
)

// --- Factory ---

// Settings selects and configures a provider.
type Settings struct {
	Provider        string // "mock" | "openai" | "ollama"
	ExternalEnabled bool
	APIKey          string
	BaseURL         string
	Timeout         time.Duration
}

// Models names the model used for each purpose.
type Models struct {
	Character string
	Summary   string
	Narrative string
}

// For returns the model for a purpose.
func (m Models) For(p model.Purpose) string {
	switch p {
	case model.PurposeCharacter:
		return m.Character
	case model.PurposeNarrative:
		return m.Narrative
	default:
		return m.Summary
	}
}

// New creates a generator from settings. External providers must be
// explicitly enabled so a misconfigured deployment never calls out by accident.
func New(s Settings) (Generator, error) {
	switch s.Provider {
	case "", "mock":
		return NewMockGenerator(), nil
	case "openai":
		if !s.ExternalEnabled {
			return nil, fmt.Errorf("provider openai requires external generation to be enabled")
		}
		if s.APIKey == "" {
			return nil, fmt.Errorf("provider openai requires an api key")
		}
		return NewOpenAIGenerator(s.BaseURL, s.APIKey, s.Timeout), nil
	case "ollama":
		if !s.ExternalEnabled {
			return nil, fmt.Errorf("provider ollama requires external generation to be enabled")
		}
		return NewOllamaGenerator(s.BaseURL, s.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q (valid: mock, openai, ollama)", s.Provider)
	}
}
