package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"homework-grader/api/internal/controller"
	"homework-grader/api/internal/logger"
)

// Factory builds the controller for a new session key.
type Factory func(key string) *controller.Controller

// Store keeps one controller per session (browser cookie or Telegram chat).
type Store struct {
	factory Factory
	ttl     time.Duration
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*controller.Controller

	cron *cron.Cron
}

func NewStore(factory Factory, ttl time.Duration) *Store {
	return &Store{
		factory:  factory,
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*controller.Controller),
	}
}

// NewID returns a fresh random session id.
func NewID() string { return uuid.NewString() }

// ValidID reports whether id looks like something NewID produced.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func WebKey(id string) string         { return "web:" + id }
func TelegramKey(chatID int64) string { return fmt.Sprintf("tg:%d", chatID) }

// Get returns the controller for key, creating it on first use.
func (s *Store) Get(key string) *controller.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.sessions[key]; ok {
		return c
	}
	c := s.factory(key)
	s.sessions[key] = c
	return c
}

// Lookup returns the controller for key without creating one.
func (s *Store) Lookup(key string) (*controller.Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.sessions[key]
	return c, ok
}

func (s *Store) Delete(key string) {
	s.mu.Lock()
	c, ok := s.sessions[key]
	delete(s.sessions, key)
	s.mu.Unlock()
	if ok {
		c.Reset()
	}
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops sessions inactive for longer than the TTL. Sessions waiting on a
// grading call are kept regardless of age.
func (s *Store) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	var dropped []*controller.Controller
	for key, c := range s.sessions {
		if c.Peek().Phase() == controller.PhaseAnalyzing {
			continue
		}
		if c.LastActivity().Before(cutoff) {
			dropped = append(dropped, c)
			delete(s.sessions, key)
		}
	}
	left := len(s.sessions)
	s.mu.Unlock()

	for _, c := range dropped {
		c.Reset()
	}
	if len(dropped) > 0 {
		logger.WithFields(logrus.Fields{"dropped": len(dropped), "left": left}).Info("session sweep")
	}
	return len(dropped)
}

// StartReaper runs Sweep on a cron schedule such as "@every 10m".
func (s *Store) StartReaper(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { s.Sweep() }); err != nil {
		return fmt.Errorf("session reaper schedule %q: %w", spec, err)
	}
	c.Start()
	s.cron = c
	logger.WithFields(logrus.Fields{"schedule": spec, "ttl": s.ttl.String()}).Info("session reaper started")
	return nil
}

func (s *Store) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}
