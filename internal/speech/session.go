package speech

import (
	"sync"
	"time"

	"github.com/rbright/tospeak/internal/notification"
	"github.com/rbright/tospeak/internal/rules"
)

// Option configures a Session.
type Option func(*Session)

// WithClock overrides the time source used for duplicate detection.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// Session serializes compiles so the duplicate check and record update are
// atomic with respect to concurrent events.
type Session struct {
	mu       sync.Mutex
	settings rules.Settings
	last     *LastSpoken
	now      func() time.Time
}

// NewSession returns a session compiling against settings.
func NewSession(settings rules.Settings, opts ...Option) *Session {
	s := &Session{
		settings: settings.Clone(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process compiles msg and keeps the resulting last-spoken record.
func (s *Session) Process(msg notification.Message) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := CompileMessage(msg, s.settings, s.last, s.now())
	s.last = result.LastSpoken
	return result
}

// Preview compiles msg without touching the last-spoken record.
func (s *Session) Preview(msg notification.Message) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	return CompileMessage(msg, s.settings, s.last, s.now())
}

// Update swaps the settings snapshot used by later compiles.
func (s *Session) Update(settings rules.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings.Clone()
}

// Settings returns a copy of the current snapshot.
func (s *Session) Settings() rules.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.Clone()
}

// LastSpoken returns a copy of the last-spoken record, if any.
func (s *Session) LastSpoken() (LastSpoken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return LastSpoken{}, false
	}
	return *s.last, true
}
