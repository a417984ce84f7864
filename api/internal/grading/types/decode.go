package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"homework-grader/api/internal/util"
)

type wireCorrection struct {
	QuestionIndex *string `json:"questionIndex"`
	IsCorrect     *bool   `json:"isCorrect"`
	StudentAnswer *string `json:"studentAnswer"`
	CorrectAnswer *string `json:"correctAnswer"`
	Explanation   *string `json:"explanation"`
}

type wireResult struct {
	Subject      *string           `json:"subject"`
	OverallScore *float64          `json:"overallScore"`
	Summary      *string           `json:"summary"`
	Corrections  *[]wireCorrection `json:"corrections"`
}

// DecodeResult parses model output into a GradingResult. The object is accepted
// only as a whole: every required key must be present with the right JSON type.
// Values are not checked further: the score is not clamped, only rejected
// when it does not fit in an int32.
func DecodeResult(text string) (GradingResult, error) {
	text = util.StripCodeFences(text)
	if strings.TrimSpace(text) == "" {
		return GradingResult{}, ErrEmptyResponse
	}

	var w wireResult
	if err := json.Unmarshal([]byte(text), &w); err != nil {
		return GradingResult{}, &DecodeError{Err: err}
	}

	var missing []string
	if w.Subject == nil {
		missing = append(missing, "subject")
	}
	if w.OverallScore == nil {
		missing = append(missing, "overallScore")
	}
	if w.Summary == nil {
		missing = append(missing, "summary")
	}
	if w.Corrections == nil {
		missing = append(missing, "corrections")
	}
	if len(missing) > 0 {
		return GradingResult{}, &DecodeError{Err: fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))}
	}

	score := math.Round(*w.OverallScore)
	if score > math.MaxInt32 || score < math.MinInt32 {
		return GradingResult{}, &DecodeError{Err: fmt.Errorf("overallScore %g out of range", *w.OverallScore)}
	}

	out := GradingResult{
		Subject:      *w.Subject,
		OverallScore: int(score),
		Summary:      *w.Summary,
		Corrections:  make([]CorrectionItem, 0, len(*w.Corrections)),
	}
	for i, c := range *w.Corrections {
		if c.QuestionIndex == nil || c.IsCorrect == nil || c.StudentAnswer == nil ||
			c.CorrectAnswer == nil || c.Explanation == nil {
			return GradingResult{}, &DecodeError{Err: fmt.Errorf("corrections[%d]: missing required fields", i)}
		}
		out.Corrections = append(out.Corrections, CorrectionItem{
			QuestionIndex: *c.QuestionIndex,
			IsCorrect:     *c.IsCorrect,
			StudentAnswer: *c.StudentAnswer,
			CorrectAnswer: *c.CorrectAnswer,
			Explanation:   *c.Explanation,
		})
	}
	return out, nil
}
