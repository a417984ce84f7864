package grading

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"homework-grader/api/internal/grading/types"
)

// Engine performs the grading call against one provider. Implementations keep
// no state between calls and never retry.
type Engine interface {
	Name() string
	GetModel() string
	Grade(ctx context.Context, image []byte) (types.GradingResult, error)
}

// Engines holds the configured providers; nil fields are not available.
type Engines struct {
	Gemini Engine
	OpenAI Engine
	Claude Engine
}

var ErrUnknownEngine = errors.New("unknown engine; use gemini | gpt | claude")

func (e *Engines) GetEngine(name string) (Engine, error) {
	var eng Engine
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "gemini":
		eng = e.Gemini
	case "gpt", "openai":
		eng = e.OpenAI
	case "claude", "anthropic":
		eng = e.Claude
	default:
		return nil, ErrUnknownEngine
	}
	if eng == nil {
		return nil, fmt.Errorf("engine %q is not configured", name)
	}
	return eng, nil
}

// Names lists configured engines.
func (e *Engines) Names() []string {
	var out []string
	if e.Gemini != nil {
		out = append(out, "gemini")
	}
	if e.OpenAI != nil {
		out = append(out, "gpt")
	}
	if e.Claude != nil {
		out = append(out, "claude")
	}
	return out
}

// Manager picks the engine for a session: an explicit override or the default.
type Manager struct {
	def Engine
	m   sync.Map // key -> Engine
}

func NewManager(defaultEngine Engine) *Manager {
	return &Manager{def: defaultEngine}
}

func (m *Manager) Get(key string) Engine {
	if v, ok := m.m.Load(key); ok {
		return v.(Engine)
	}
	return m.def
}

func (m *Manager) Set(key string, e Engine) {
	if e == nil {
		m.m.Delete(key)
		return
	}
	m.m.Store(key, e)
}

func (m *Manager) Default() Engine { return m.def }

// For binds the manager to one key; the result satisfies controller.Grader.
// The engine is resolved on every call so /engine switches apply to the next photo.
func (m *Manager) For(key string) *Bound {
	return &Bound{m: m, key: key}
}

type Bound struct {
	m   *Manager
	key string
}

func (b *Bound) Grade(ctx context.Context, image []byte) (types.GradingResult, error) {
	eng := b.m.Get(b.key)
	if eng == nil {
		return types.GradingResult{}, errors.New("no grading engine configured")
	}
	return eng.Grade(ctx, image)
}
