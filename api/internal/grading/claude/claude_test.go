package claude

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"homework-grader/api/internal/grading/types"
	"homework-grader/api/internal/logger"
)

func init() { logger.SetOutput(io.Discard) }

func messageJSON(blocks ...map[string]any) map[string]any {
	content := make([]any, 0, len(blocks))
	for _, b := range blocks {
		content = append(content, b)
	}
	return map[string]any{
		"id":            "msg_test",
		"type":          "message",
		"role":          "assistant",
		"model":         DefaultModel,
		"content":       content,
		"stop_reason":   "end_turn",
		"stop_sequence": nil,
		"usage":         map[string]any{"input_tokens": 10, "output_tokens": 20},
	}
}

func newTestEngine(t *testing.T, h http.HandlerFunc) *Engine {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	e := New("ak-test", "", "English")
	e.BaseURL = srv.URL
	return e
}

func TestGrade_Success(t *testing.T) {
	var req map[string]any
	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messageJSON(map[string]any{
			"type": "text",
			"text": `{"subject":"Science","overallScore":58.6,"summary":"Review","corrections":[]}`,
		}))
	})

	res, err := e.Grade(context.Background(), []byte{0xFF, 0xD8, 0xFF})
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if res.Subject != "Science" || res.OverallScore != 59 || res.Corrections == nil {
		t.Fatalf("unexpected result %+v", res)
	}

	msgs := req["messages"].([]any)
	parts := msgs[0].(map[string]any)["content"].([]any)
	if len(parts) != 2 {
		t.Fatalf("want image + text parts, got %d", len(parts))
	}
	img := parts[0].(map[string]any)
	src := img["source"].(map[string]any)
	if img["type"] != "image" || src["media_type"] != "image/jpeg" || src["type"] != "base64" {
		t.Fatalf("image part = %v", img)
	}
	if parts[1].(map[string]any)["type"] != "text" {
		t.Fatalf("second part must be the instruction: %v", parts[1])
	}
}

func TestGrade_Failures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     any
		wantKind string
	}{
		{"api error", http.StatusUnauthorized, map[string]any{"type": "error", "error": map[string]any{"type": "authentication_error", "message": "bad key"}}, types.KindTransport},
		{"no text", http.StatusOK, messageJSON(), types.KindEmptyResponse},
		{"prose", http.StatusOK, messageJSON(map[string]any{"type": "text", "text": "Sorry, the photo is blurry."}), types.KindDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(tt.body)
			})
			_, err := e.Grade(context.Background(), []byte("img"))
			if k := types.Kind(err); k != tt.wantKind {
				t.Fatalf("kind = %q (err %v), want %q", k, err, tt.wantKind)
			}
		})
	}
}

func TestGrade_MissingKey(t *testing.T) {
	_, err := New(" ", "", "").Grade(context.Background(), []byte("img"))
	if types.Kind(err) != types.KindTransport || !strings.Contains(err.Error(), "ANTHROPIC_API_KEY") {
		t.Fatalf("err = %v", err)
	}
}

func TestSystemPromptCarriesSchema(t *testing.T) {
	if !strings.Contains(system, `"overallScore"`) || !strings.Contains(system, `"corrections"`) {
		t.Fatalf("system prompt must embed the schema")
	}
}
