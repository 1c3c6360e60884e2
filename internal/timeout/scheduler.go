// Package timeout arms per-session response timers.
//
// Expiry runs inside the same exclusion scope as inbound messages and checks,
// under that scope, that its timer is still the armed one. A Cancel issued
// while holding the scope therefore always wins over a concurrent expiry.
package timeout

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aretw0/parley/internal/logging"
)

// Serializer runs fn while holding the exclusion scope of key.
type Serializer interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// ExpireFunc is called inside the key's scope with the token that fired.
type ExpireFunc func(ctx context.Context, token string)

type entry struct {
	token string
	timer Timer
}

// Scheduler keeps at most one timer per key.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry
	stopped bool

	clock      Clock
	serializer Serializer
	logger     *slog.Logger
}

// Option configures the Scheduler.
type Option func(*Scheduler)

func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithSerializer makes expiry run under the same scope as inbound turns.
func WithSerializer(ser Serializer) Option {
	return func(s *Scheduler) { s.serializer = ser }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler creates a scheduler on the wall clock.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		entries: make(map[string]*entry),
		clock:   RealClock(),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Arm schedules onExpire after d, replacing any timer already armed for key.
// It returns the token identifying this timer, or "" once the scheduler is stopped.
func (s *Scheduler) Arm(key string, d time.Duration, onExpire ExpireFunc) string {
	token := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ""
	}
	if prev, ok := s.entries[key]; ok {
		prev.timer.Stop()
	}
	s.entries[key] = &entry{
		token: token,
		timer: s.clock.AfterFunc(d, func() { s.fire(key, token, onExpire) }),
	}
	s.logger.Debug("Timeout armed", "session_id", key, "timeout", d)
	return token
}

// Cancel disarms the timer of key, if any.
func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.timer.Stop()
		delete(s.entries, key)
		s.logger.Debug("Timeout canceled", "session_id", key)
	}
}

// Pending returns the token armed for key.
func (s *Scheduler) Pending(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return "", false
	}
	return e.token, true
}

// Stop disarms every timer. Arm is a no-op afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, key)
	}
	s.stopped = true
}

func (s *Scheduler) fire(key, token string, onExpire ExpireFunc) {
	run := func(ctx context.Context) error {
		if !s.claim(key, token) {
			s.logger.Debug("Stale timeout ignored", "session_id", key)
			return nil
		}
		onExpire(ctx, token)
		return nil
	}

	ctx := context.Background()
	if s.serializer == nil {
		_ = run(ctx)
		return
	}
	if err := s.serializer.WithLock(ctx, key, run); err != nil {
		s.logger.Error("Timeout expiry could not acquire session", "session_id", key, "err", err)
	}
}

// claim removes the entry if token is still the armed one.
func (s *Scheduler) claim(key, token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.token != token {
		return false
	}
	delete(s.entries, key)
	return true
}
