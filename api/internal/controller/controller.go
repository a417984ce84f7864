package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"homework-grader/api/internal/grading/types"
	"homework-grader/api/internal/logger"
	"homework-grader/api/internal/util"
)

// Grader is the one outbound call the controller depends on.
type Grader interface {
	Grade(ctx context.Context, image []byte) (types.GradingResult, error)
}

var (
	ErrBusy       = errors.New("controller: a submission is already being graded")
	ErrNotIdle    = errors.New("controller: reset before submitting a new image")
	ErrEmptyImage = errors.New("controller: empty image")
)

// Controller owns the state of one capture session. It is the only writer of
// that state; transitions happen on SubmitImage, on resolution of the grading
// call and on Reset.
type Controller struct {
	grader   Grader
	ctx      context.Context
	name     string
	now      func() time.Time
	observer func(State)

	mu      sync.Mutex
	state   State
	seq     uint64        // bumped by every submit and reset; stale resolutions are dropped
	done    chan struct{} // closed when the current Analyzing period ends
	touched time.Time
}

type Option func(*Controller)

// WithContext sets the context grading calls run under. It is never cancelled
// by the controller itself.
func WithContext(ctx context.Context) Option { return func(c *Controller) { c.ctx = ctx } }

// WithName labels log lines (session key).
func WithName(name string) Option { return func(c *Controller) { c.name = name } }

// WithObserver is called after every transition, outside the lock.
func WithObserver(fn func(State)) Option { return func(c *Controller) { c.observer = fn } }

// WithClock replaces time.Now for activity tracking.
func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

func New(grader Grader, opts ...Option) *Controller {
	c := &Controller{
		grader: grader,
		ctx:    context.Background(),
		now:    time.Now,
		state:  idleState(),
	}
	for _, o := range opts {
		o(c)
	}
	c.touched = c.now()
	return c
}

// SubmitImage moves Idle -> Analyzing and starts grading in the background.
// No format validation is done on image.
func (c *Controller) SubmitImage(image []byte, mime string) error {
	if len(image) == 0 {
		return ErrEmptyImage
	}

	c.mu.Lock()
	switch c.state.phase {
	case PhaseAnalyzing:
		c.mu.Unlock()
		return ErrBusy
	case PhaseResult, PhaseError:
		c.mu.Unlock()
		return ErrNotIdle
	}
	img := append([]byte(nil), image...)
	if mime == "" {
		mime = util.SniffMimeHTTP(img)
	}
	c.seq++
	seq := c.seq
	c.done = make(chan struct{})
	notify := c.transitionLocked(analyzingState(img, mime), seq)
	c.mu.Unlock()
	notify()

	go c.run(seq, img)
	return nil
}

func (c *Controller) run(seq uint64, img []byte) {
	var (
		r   types.GradingResult
		err error
	)
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("grader panic: %v", p)
			}
		}()
		r, err = c.grader.Grade(c.ctx, img)
	}()
	c.resolve(seq, r, err)
}

func (c *Controller) resolve(seq uint64, r types.GradingResult, err error) {
	c.mu.Lock()
	if seq != c.seq || c.state.phase != PhaseAnalyzing {
		c.mu.Unlock()
		c.log().WithFields(logrus.Fields{"seq": seq, "error_kind": types.Kind(err)}).
			Info("grading outcome discarded: submission no longer current")
		return
	}

	var next State
	if err != nil {
		c.log().WithError(err).WithFields(logrus.Fields{
			"seq":        seq,
			"error_kind": types.Kind(err),
		}).Warn("grading failed")
		next = errorState()
	} else {
		next = resultState(c.state.image, c.state.mime, r.Clone())
	}
	notify := c.transitionLocked(next, seq)
	close(c.done)
	c.done = nil
	c.mu.Unlock()
	notify()
}

// Reset returns to Idle from any state and drops the held image and result.
// A grading call still in flight keeps running; its outcome is ignored.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.seq++
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	notify := c.transitionLocked(idleState(), c.seq)
	c.mu.Unlock()
	notify()
}

// State returns the current snapshot and counts as session activity.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touched = c.now()
	return c.state
}

// Peek is State without touching the activity clock.
func (c *Controller) Peek() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Wait blocks until the current Analyzing period ends (resolution or reset)
// and returns the state at that point. Outside Analyzing it returns at once.
func (c *Controller) Wait(ctx context.Context) (State, error) {
	c.mu.Lock()
	done, st := c.done, c.state
	c.mu.Unlock()
	if done == nil {
		return st, nil
	}
	select {
	case <-done:
		return c.State(), nil
	case <-ctx.Done():
		return c.State(), ctx.Err()
	}
}

// LastActivity is the time of the last transition or state read.
func (c *Controller) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.touched
}

func (c *Controller) transitionLocked(next State, seq uint64) func() {
	from := c.state.phase
	c.state = next
	c.touched = c.now()

	fields := logrus.Fields{"from": from.String(), "to": next.phase.String(), "seq": seq}
	if next.phase == PhaseResult {
		fields["score"] = next.result.OverallScore
		fields["corrections"] = len(next.result.Corrections)
	}
	c.log().WithFields(fields).Info("state transition")

	obs := c.observer
	if obs == nil {
		return func() {}
	}
	return func() { obs(next) }
}

func (c *Controller) log() *logrus.Entry {
	return logger.WithField("session", c.name)
}
