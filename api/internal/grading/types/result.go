package types

// CorrectionItem is one graded sub-question as returned by the model.
type CorrectionItem struct {
	QuestionIndex string `json:"questionIndex"` // free-form: "1", "Q2", "Equation"
	IsCorrect     bool   `json:"isCorrect"`
	StudentAnswer string `json:"studentAnswer"` // may be empty if illegible
	CorrectAnswer string `json:"correctAnswer"`
	Explanation   string `json:"explanation"`
}

// GradingResult is produced once per submitted image and never mutated afterwards.
// Corrections keep the model's order; an empty slice is a valid result.
type GradingResult struct {
	Subject      string           `json:"subject"`
	OverallScore int              `json:"overallScore"`
	Summary      string           `json:"summary"`
	Corrections  []CorrectionItem `json:"corrections"`
}

// Score bands used by the front ends.
const (
	BandHigh = "high" // >= 80
	BandPass = "pass" // >= 60
	BandLow  = "low"

	PassingScore = 60
)

func (r GradingResult) Band() string {
	switch {
	case r.OverallScore >= 80:
		return BandHigh
	case r.OverallScore >= PassingScore:
		return BandPass
	default:
		return BandLow
	}
}

func (r GradingResult) Passing() bool { return r.OverallScore >= PassingScore }

func (r GradingResult) CorrectCount() int {
	n := 0
	for _, c := range r.Corrections {
		if c.IsCorrect {
			n++
		}
	}
	return n
}

// Clone returns a copy that shares no slice memory with r.
func (r GradingResult) Clone() GradingResult {
	out := r
	out.Corrections = make([]CorrectionItem, len(r.Corrections))
	copy(out.Corrections, r.Corrections)
	return out
}
