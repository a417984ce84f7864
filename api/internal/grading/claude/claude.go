package claude

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	"homework-grader/api/internal/grading/prompt"
	"homework-grader/api/internal/grading/types"
	"homework-grader/api/internal/logger"
)

const DefaultModel = "claude-sonnet-4-5"

// system carries the output contract; Messages has no native schema mode here.
const system = "You grade photographed homework. Reply with a single JSON object and nothing else. " +
	"It must validate against this JSON Schema:\n" + prompt.SchemaJSON

type Engine struct {
	APIKey   string
	Model    string
	Language string

	// BaseURL overrides the API endpoint; empty uses the SDK default.
	BaseURL string
}

func New(apiKey, model, language string) *Engine {
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	return &Engine{APIKey: strings.TrimSpace(apiKey), Model: model, Language: language}
}

func (e *Engine) Name() string     { return "claude" }
func (e *Engine) GetModel() string { return e.Model }
func (e *Engine) SetModel(m string) {
	if m = strings.TrimSpace(m); m != "" {
		e.Model = m
	}
}

func (e *Engine) Grade(ctx context.Context, image []byte) (types.GradingResult, error) {
	if e.APIKey == "" {
		return types.GradingResult{}, &types.TransportError{Engine: e.Name(), Err: fmt.Errorf("ANTHROPIC_API_KEY is empty")}
	}
	opts := []option.RequestOption{option.WithAPIKey(e.APIKey), option.WithMaxRetries(0)}
	if e.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(e.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	start := time.Now()
	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.Model),
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(prompt.ImageMIME, base64.StdEncoding.EncodeToString(image)),
				anthropic.NewTextBlock(prompt.Instruction(e.Language)),
			),
		},
	})
	log := logger.WithFields(logrus.Fields{
		"engine":     e.Name(),
		"model":      e.Model,
		"image_size": len(image),
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		log.WithError(err).Warn("anthropic grade failed")
		return types.GradingResult{}, &types.TransportError{Engine: e.Name(), Err: err}
	}
	log = log.WithFields(logrus.Fields{
		"tokens_in":  message.Usage.InputTokens,
		"tokens_out": message.Usage.OutputTokens,
	})

	var txt string
	for _, block := range message.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			txt = block.Text
			break
		}
	}
	if txt == "" {
		log.Warn("anthropic grade: no text content")
		return types.GradingResult{}, fmt.Errorf("anthropic grade: %w", types.ErrEmptyResponse)
	}
	r, err := types.DecodeResult(txt)
	if err != nil {
		log.WithError(err).Warn("anthropic grade: undecodable response")
		return types.GradingResult{}, err
	}
	log.WithField("score", r.OverallScore).Info("anthropic grade done")
	return r, nil
}
