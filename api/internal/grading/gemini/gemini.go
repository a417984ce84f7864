package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"homework-grader/api/internal/grading/prompt"
	"homework-grader/api/internal/grading/types"
	"homework-grader/api/internal/logger"
)

const DefaultModel = "gemini-2.5-flash"

// generator is the part of *genai.GenerativeModel the engine needs.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type dialFunc func(ctx context.Context, e *Engine) (generator, func() error, error)

type Engine struct {
	APIKey   string
	Model    string
	Language string

	dial dialFunc
}

func New(apiKey, model, language string) *Engine {
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	return &Engine{
		APIKey:   strings.TrimSpace(apiKey),
		Model:    model,
		Language: language,
		dial:     dialGenAI,
	}
}

func (e *Engine) Name() string     { return "gemini" }
func (e *Engine) GetModel() string { return e.Model }
func (e *Engine) SetModel(m string) {
	if m = strings.TrimSpace(m); m != "" {
		e.Model = m
	}
}

// Grade sends the page with the fixed instruction and schema. One attempt only:
// any client failure is returned as *types.TransportError.
func (e *Engine) Grade(ctx context.Context, image []byte) (types.GradingResult, error) {
	m, closeFn, err := e.dial(ctx, e)
	if err != nil {
		return types.GradingResult{}, &types.TransportError{Engine: e.Name(), Err: err}
	}
	defer closeFn()

	parts := []genai.Part{
		genai.Blob{MIMEType: prompt.ImageMIME, Data: image},
		genai.Text(prompt.Instruction(e.Language)),
	}

	start := time.Now()
	resp, err := m.GenerateContent(ctx, parts...)
	log := logger.WithFields(logrus.Fields{
		"engine":     e.Name(),
		"model":      e.Model,
		"image_size": len(image),
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		log.WithError(err).Warn("gemini grade failed")
		return types.GradingResult{}, &types.TransportError{Engine: e.Name(), Err: err}
	}

	txt := firstText(resp)
	if strings.TrimSpace(txt) == "" {
		log.Warn("gemini grade: empty response")
		return types.GradingResult{}, fmt.Errorf("gemini grade: %w", types.ErrEmptyResponse)
	}
	r, err := types.DecodeResult(txt)
	if err != nil {
		log.WithError(err).Warn("gemini grade: undecodable response")
		return types.GradingResult{}, err
	}
	log.WithField("score", r.OverallScore).Info("gemini grade done")
	return r, nil
}

func dialGenAI(ctx context.Context, e *Engine) (generator, func() error, error) {
	if e.APIKey == "" {
		return nil, nil, errors.New("GEMINI_API_KEY is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.APIKey))
	if err != nil {
		return nil, nil, err
	}
	m := cl.GenerativeModel(e.Model)
	if m == nil {
		_ = cl.Close()
		return nil, nil, fmt.Errorf("gemini: model is nil")
	}
	configureModel(m)
	return m, cl.Close, nil
}

// configureModel asks for strict JSON following the grading schema.
func configureModel(m *genai.GenerativeModel) {
	m.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   prompt.GeminiSchema(),
	}
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}
