package grading

import (
	"strings"

	"homework-grader/api/internal/config"
	"homework-grader/api/internal/grading/claude"
	"homework-grader/api/internal/grading/gemini"
	"homework-grader/api/internal/grading/gpt"
)

// FromConfig builds every engine that has a credential and returns the
// registry together with the configured default.
func FromConfig(cfg *config.Config) (*Engines, Engine, error) {
	engs := &Engines{}
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		engs.Gemini = gemini.New(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.Language)
	}
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		engs.OpenAI = gpt.New(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.Language)
	}
	if strings.TrimSpace(cfg.AnthropicAPIKey) != "" {
		engs.Claude = claude.New(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.Language)
	}
	def, err := engs.GetEngine(cfg.Engine)
	if err != nil {
		return nil, nil, err
	}
	return engs, def, nil
}
