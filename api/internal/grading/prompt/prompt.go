// Package prompt holds the fixed request template of the grading call: the
// instruction given to the model and the output schema it must follow. The
// template is a contract with the model; bump Version whenever either changes.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
)

const Version = "grade.v1"

// DefaultLanguage is the language the model is asked to answer in.
const DefaultLanguage = "Chinese (Simplified)"

// ImageMIME is what every engine declares for the uploaded page.
const ImageMIME = "image/jpeg"

const instruction = `You are a strict but encouraging teacher. Analyze this image of a homework assignment.
1. Identify the Subject (Math, English, Science, etc.).
2. Give it a score from 0 to 100 based on accuracy.
3. Provide a brief encouraging summary.
4. Break down individual questions/parts you can identify. If you can't read the handwriting, mention it in the summary.

Return the response in %s.`

// Instruction returns the grading instruction for the given response language.
func Instruction(language string) string {
	language = strings.TrimSpace(language)
	if language == "" {
		language = DefaultLanguage
	}
	return fmt.Sprintf(instruction, language)
}

// RequiredFields of the top-level object, in schema order.
var RequiredFields = []string{"subject", "overallScore", "summary", "corrections"}

// RequiredCorrectionFields of every corrections[] item.
var RequiredCorrectionFields = []string{"questionIndex", "isCorrect", "studentAnswer", "correctAnswer", "explanation"}

// SchemaJSON is grade.schema.json.
const SchemaJSON = `{
  "type": "object",
  "properties": {
    "subject":      {"type": "string", "description": "The subject of the homework"},
    "overallScore": {"type": "number", "description": "Score from 0 to 100"},
    "summary":      {"type": "string", "description": "A brief summary of the performance"},
    "corrections": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "questionIndex": {"type": "string",  "description": "Question number or identifier (e.g. '1', 'Q2', 'Equation')"},
          "isCorrect":     {"type": "boolean", "description": "True if the answer is correct"},
          "studentAnswer": {"type": "string",  "description": "What the student wrote (transcribed)"},
          "correctAnswer": {"type": "string",  "description": "The correct answer"},
          "explanation":   {"type": "string",  "description": "Why it is right or wrong"}
        },
        "required": ["questionIndex", "isCorrect", "studentAnswer", "correctAnswer", "explanation"]
      }
    }
  },
  "required": ["subject", "overallScore", "summary", "corrections"]
}`

// Schema returns a fresh map copy of SchemaJSON; callers may mutate it.
func Schema() map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(SchemaJSON), &m); err != nil {
		panic(fmt.Sprintf("prompt: bad embedded schema: %v", err))
	}
	return m
}

// GeminiSchema is SchemaJSON expressed as a genai response schema.
func GeminiSchema() *genai.Schema {
	str := func(desc string) *genai.Schema { return &genai.Schema{Type: genai.TypeString, Description: desc} }
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"subject":      str("The subject of the homework"),
			"overallScore": {Type: genai.TypeNumber, Description: "Score from 0 to 100"},
			"summary":      str("A brief summary of the performance"),
			"corrections": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"questionIndex": str("Question number or identifier (e.g. '1', 'Q2', 'Equation')"),
						"isCorrect":     {Type: genai.TypeBoolean, Description: "True if the answer is correct"},
						"studentAnswer": str("What the student wrote (transcribed)"),
						"correctAnswer": str("The correct answer"),
						"explanation":   str("Why it is right or wrong"),
					},
					Required: append([]string(nil), RequiredCorrectionFields...),
				},
			},
		},
		Required: append([]string(nil), RequiredFields...),
	}
}
