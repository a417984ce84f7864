package prompt

import (
	"reflect"
	"strings"
	"testing"

	"github.com/google/generative-ai-go/genai"
)

func TestInstruction(t *testing.T) {
	got := Instruction("")
	if !strings.Contains(got, "Return the response in "+DefaultLanguage+".") {
		t.Fatalf("default language missing from instruction:\n%s", got)
	}
	for _, want := range []string{"Subject", "0 to 100", "encouraging summary", "individual questions"} {
		if !strings.Contains(got, want) {
			t.Errorf("instruction does not mention %q", want)
		}
	}

	if got := Instruction("  English "); !strings.HasSuffix(got, "Return the response in English.") {
		t.Fatalf("custom language not applied: %q", got)
	}
}

func TestSchemaRequiredFields(t *testing.T) {
	s := Schema()
	if s["type"] != "object" {
		t.Fatalf("type = %v, want object", s["type"])
	}
	if got := toStrings(s["required"]); !reflect.DeepEqual(got, RequiredFields) {
		t.Fatalf("required = %v, want %v", got, RequiredFields)
	}
	props := s["properties"].(map[string]any)
	for _, f := range RequiredFields {
		if _, ok := props[f]; !ok {
			t.Errorf("property %q missing", f)
		}
	}
	items := props["corrections"].(map[string]any)["items"].(map[string]any)
	if got := toStrings(items["required"]); !reflect.DeepEqual(got, RequiredCorrectionFields) {
		t.Fatalf("item required = %v, want %v", got, RequiredCorrectionFields)
	}
}

func TestSchemaReturnsCopy(t *testing.T) {
	a := Schema()
	a["type"] = "mutated"
	if b := Schema(); b["type"] != "object" {
		t.Fatalf("Schema() shares state between calls")
	}
}

func TestGeminiSchemaMatchesJSON(t *testing.T) {
	g := GeminiSchema()
	if g.Type != genai.TypeObject {
		t.Fatalf("root type = %v", g.Type)
	}
	if !reflect.DeepEqual(g.Required, RequiredFields) {
		t.Fatalf("required = %v", g.Required)
	}
	if g.Properties["overallScore"].Type != genai.TypeNumber {
		t.Errorf("overallScore must be a number")
	}
	corr := g.Properties["corrections"]
	if corr.Type != genai.TypeArray || corr.Items == nil {
		t.Fatalf("corrections must be an array of objects")
	}
	if !reflect.DeepEqual(corr.Items.Required, RequiredCorrectionFields) {
		t.Fatalf("item required = %v", corr.Items.Required)
	}
	if corr.Items.Properties["isCorrect"].Type != genai.TypeBoolean {
		t.Errorf("isCorrect must be boolean")
	}
}

func toStrings(v any) []string {
	arr, _ := v.([]any)
	out := make([]string, 0, len(arr))
	for _, x := range arr {
		out = append(out, x.(string))
	}
	return out
}
