package controller

import "homework-grader/api/internal/grading/types"

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAnalyzing
	PhaseResult
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAnalyzing:
		return "analyzing"
	case PhaseResult:
		return "result"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// State is an immutable snapshot of one controller:
//
//	Idle | Analyzing{image} | Result{image, result} | Error
//
// The image exists only in Analyzing and Result, the result only in Result.
// The only constructors are the four below, so no other combination can be built.
type State struct {
	phase  Phase
	image  []byte
	mime   string
	result types.GradingResult
}

func idleState() State { return State{phase: PhaseIdle} }

func analyzingState(image []byte, mime string) State {
	return State{phase: PhaseAnalyzing, image: image, mime: mime}
}

func resultState(image []byte, mime string, r types.GradingResult) State {
	return State{phase: PhaseResult, image: image, mime: mime, result: r}
}

func errorState() State { return State{phase: PhaseError} }

func (s State) Phase() Phase { return s.phase }

// Image returns a copy of the submitted bytes and their MIME type.
// ok is false outside Analyzing and Result.
func (s State) Image() (data []byte, mime string, ok bool) {
	if s.phase != PhaseAnalyzing && s.phase != PhaseResult {
		return nil, "", false
	}
	return append([]byte(nil), s.image...), s.mime, true
}

// Result returns a copy of the grading result; ok is false outside Result.
func (s State) Result() (types.GradingResult, bool) {
	if s.phase != PhaseResult {
		return types.GradingResult{}, false
	}
	return s.result.Clone(), true
}
