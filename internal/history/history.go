// Package history keeps the recent notification log shown to control clients.
package history

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rbright/tospeak/internal/logging"
	"github.com/rbright/tospeak/internal/notification"
)

// DefaultLimit caps the in-memory log when no limit is configured.
const DefaultLimit = 1000

// Entry is one logged message. Spoken holds the sentence handed to speech, if any.
type Entry struct {
	ID      string            `json:"id"`
	Type    notification.Type `json:"type"`
	Source  string            `json:"source,omitempty"`
	App     string            `json:"app,omitempty"`
	AppID   string            `json:"app_id,omitempty"`
	Title   string            `json:"title,omitempty"`
	Text    string            `json:"text,omitempty"`
	Message string            `json:"message,omitempty"`
	Spoken  string            `json:"spoken,omitempty"`
	Outcome string            `json:"outcome,omitempty"`
	At      time.Time         `json:"at"`
}

// Backend persists entries beyond the process lifetime.
type Backend interface {
	Append(ctx context.Context, entries []Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Clear(ctx context.Context) error
	Close() error
}

// Log is a bounded, concurrency-safe ring of entries with optional persistence
// and live subscribers.
type Log struct {
	limit   int
	backend Backend
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries []Entry
	start   int

	subsMu sync.Mutex
	subs   map[chan Entry]struct{}
}

// Option customizes a Log.
type Option func(*Log)

// WithBackend persists entries through b.
func WithBackend(b Backend) Option {
	return func(l *Log) { l.backend = b }
}

// WithLogger reports backend failures to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// WithClock overrides the time source used for entries without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New returns a log holding at most limit entries. With a backend, the most
// recent entries are loaded from it.
func New(ctx context.Context, limit int, opts ...Option) (*Log, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	l := &Log{
		limit: limit,
		now:   time.Now,
		subs:  make(map[chan Entry]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = logging.OrDiscard(l.logger)

	if l.backend != nil {
		recent, err := l.backend.Recent(ctx, limit)
		if err != nil {
			return nil, err
		}
		for _, e := range recent {
			l.push(e)
		}
	}
	return l, nil
}

// Record logs msg with its compile outcome and returns the stored entries.
// Debug messages are not kept. past_notifications expands into one entry per item.
func (l *Log) Record(ctx context.Context, msg notification.Message, outcome, spoken string) []Entry {
	if msg.Type == notification.TypeDebug {
		return nil
	}

	var entries []Entry
	if msg.Type == notification.TypePastNotifications {
		for _, past := range msg.Notifications {
			e := l.entryFor(past.Message())
			e.Type = notification.TypePastNotifications
			e.Source = msg.Source
			entries = append(entries, e)
		}
	} else {
		e := l.entryFor(msg)
		e.Outcome = outcome
		e.Spoken = spoken
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		return nil
	}

	l.mu.Lock()
	for _, e := range entries {
		l.push(e)
	}
	l.mu.Unlock()

	if l.backend != nil {
		if err := l.backend.Append(ctx, entries); err != nil {
			l.logger.Warn("persist history failed", "count", len(entries), "error", err.Error())
		}
	}
	for _, e := range entries {
		l.publish(e)
	}
	return entries
}

// List returns up to limit of the newest entries, oldest first. limit <= 0 returns all.
func (l *Log) List(limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	for i := n - limit; i < n; i++ {
		out = append(out, l.entries[(l.start+i)%n])
	}
	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Clear drops every entry, including persisted ones.
func (l *Log) Clear(ctx context.Context) error {
	l.mu.Lock()
	l.entries = nil
	l.start = 0
	l.mu.Unlock()

	if l.backend != nil {
		return l.backend.Clear(ctx)
	}
	return nil
}

// Close releases the backend.
func (l *Log) Close() error {
	l.subsMu.Lock()
	for ch := range l.subs {
		delete(l.subs, ch)
		close(ch)
	}
	l.subsMu.Unlock()

	if l.backend != nil {
		return l.backend.Close()
	}
	return nil
}

// Subscribe streams new entries. Entries are dropped for a subscriber whose
// buffer is full. The returned func unsubscribes.
func (l *Log) Subscribe(buffer int) (<-chan Entry, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Entry, buffer)
	l.subsMu.Lock()
	l.subs[ch] = struct{}{}
	l.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.subsMu.Lock()
			defer l.subsMu.Unlock()
			if _, ok := l.subs[ch]; ok {
				delete(l.subs, ch)
				close(ch)
			}
		})
	}
}

func (l *Log) publish(e Entry) {
	l.subsMu.Lock()
	defer l.subsMu.Unlock()
	for ch := range l.subs {
		select {
		case ch <- e:
		default:
			l.logger.Debug("history subscriber lagging; entry dropped", "id", e.ID)
		}
	}
}

// push appends e, overwriting the oldest entry once the ring is full. Callers hold mu
// or own l exclusively.
func (l *Log) push(e Entry) {
	if len(l.entries) < l.limit {
		l.entries = append(l.entries, e)
		return
	}
	l.entries[l.start] = e
	l.start = (l.start + 1) % l.limit
}

func (l *Log) entryFor(msg notification.Message) Entry {
	id := strings.TrimSpace(msg.NotificationID)
	if id == "" {
		id = uuid.NewString()
	}
	at := notification.ParseTimestamp(msg.Timestamp)
	if at.IsZero() {
		at = l.now()
	}
	return Entry{
		ID:      id,
		Type:    msg.Type,
		Source:  msg.Source,
		App:     msg.App,
		AppID:   msg.AppID,
		Title:   msg.Title,
		Text:    msg.Text,
		Message: msg.Message,
		At:      at,
	}
}
