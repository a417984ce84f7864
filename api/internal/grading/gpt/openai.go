package gpt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"homework-grader/api/internal/grading/prompt"
	"homework-grader/api/internal/grading/types"
	"homework-grader/api/internal/logger"
	"homework-grader/api/internal/util"
)

const (
	DefaultModel   = "gpt-4o-mini"
	DefaultBaseURL = "https://api.openai.com/v1"
)

type Engine struct {
	APIKey   string
	Model    string
	Language string
	BaseURL  string
	httpc    *http.Client
}

func New(key, model, language string) *Engine {
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	return &Engine{
		APIKey:   strings.TrimSpace(key),
		Model:    model,
		Language: language,
		BaseURL:  DefaultBaseURL,
		httpc:    &http.Client{},
	}
}

func (e *Engine) Name() string { return "gpt" }

func (e *Engine) GetModel() string { return e.Model }

func (e *Engine) SetModel(m string) {
	if m = strings.TrimSpace(m); m != "" {
		e.Model = m
	}
}

// Grade calls the Responses API with the page as an input_image and a strict
// json_schema text format.
func (e *Engine) Grade(ctx context.Context, image []byte) (types.GradingResult, error) {
	if e.APIKey == "" {
		return types.GradingResult{}, &types.TransportError{Engine: e.Name(), Err: fmt.Errorf("OPENAI_API_KEY is empty")}
	}

	schema := prompt.Schema()
	util.FixJSONSchemaStrict(schema)

	body := map[string]any{
		"model": e.Model,
		"input": []any{
			map[string]any{
				"role": "user",
				"content": []any{
					map[string]any{"type": "input_image", "image_url": util.DataURL(prompt.ImageMIME, image)},
					map[string]any{"type": "input_text", "text": prompt.Instruction(e.Language)},
				},
			},
		},
		"temperature": 0,
		"text": map[string]any{
			"format": map[string]any{
				"type":   "json_schema",
				"name":   "homework_grade",
				"strict": true,
				"schema": schema,
			},
		},
	}
	if strings.Contains(e.Model, "gpt-5") {
		body["temperature"] = 1
	}

	payload, _ := json.Marshal(body)
	url := strings.TrimRight(e.BaseURL, "/") + "/responses"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return types.GradingResult{}, &types.TransportError{Engine: e.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.APIKey)

	start := time.Now()
	log := logger.WithFields(logrus.Fields{
		"engine":     e.Name(),
		"model":      e.Model,
		"image_size": len(image),
	})
	resp, err := e.httpc.Do(req)
	if err != nil {
		log.WithError(err).Warn("openai grade failed")
		return types.GradingResult{}, &types.TransportError{Engine: e.Name(), Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	log = log.WithField("elapsed_ms", time.Since(start).Milliseconds())
	if err != nil {
		log.WithError(err).Warn("openai grade: read body failed")
		return types.GradingResult{}, &types.TransportError{Engine: e.Name(), Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("openai grade %d: %s", resp.StatusCode, truncateBytes(bytes.TrimSpace(raw), 512))
		log.WithError(err).Warn("openai grade failed")
		return types.GradingResult{}, &types.TransportError{Engine: e.Name(), Err: err}
	}

	out := util.StripCodeFences(strings.TrimSpace(fallbackExtractResponsesText(raw)))
	if out == "" {
		log.WithField("body", truncateBytes(raw, 1024)).Warn("openai grade: empty output")
		return types.GradingResult{}, fmt.Errorf("openai grade: %w", types.ErrEmptyResponse)
	}
	r, err := types.DecodeResult(out)
	if err != nil {
		log.WithError(err).Warn("openai grade: undecodable response")
		return types.GradingResult{}, err
	}
	log.WithField("score", r.OverallScore).Info("openai grade done")
	return r, nil
}

// fallbackExtractResponsesText extracts model text from the Responses API envelope
// per https://platform.openai.com/docs/api-reference/responses/object.
// It prefers `output_text`, and otherwise concatenates any text segments
// found in `output[i].content[j].text` where `type` is `output_text` or `text`.
func fallbackExtractResponsesText(raw []byte) string {
	type content struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	type output struct {
		Content []content `json:"content"`
		Role    string    `json:"role,omitempty"`
	}
	var env struct {
		Output     []output `json:"output"`
		OutputText string   `json:"output_text"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return ""
	}

	if s := strings.TrimSpace(env.OutputText); s != "" {
		return s
	}

	var b strings.Builder
	for _, o := range env.Output {
		for _, c := range o.Content {
			if strings.TrimSpace(c.Text) == "" {
				continue
			}
			// Both `output_text` and `text` are seen in practice
			if c.Type == "output_text" || c.Type == "text" || c.Type == "" {
				if b.Len() > 0 {
					b.WriteByte('\n')
				}
				b.WriteString(c.Text)
			}
		}
	}
	return b.String()
}

func truncateBytes(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
