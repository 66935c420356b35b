// Package settings persists the rule store and publishes every new snapshot.
package settings

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/rbright/tospeak/internal/logging"
	"github.com/rbright/tospeak/internal/rules"
)

var (
	// ErrIndexOutOfRange is returned when an edit targets a missing list entry.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrEmptyBlockRule is returned when a block rule with no fields is added.
	ErrEmptyBlockRule = rules.ErrEmptyBlockRule
)

// Store owns the current settings snapshot and its file.
type Store struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	current  rules.Settings
	lastHash uint64

	// subsMu also prevents sends on a channel closed by Unsubscribe.
	subsMu sync.Mutex
	subs   []chan rules.Settings
}

// Open loads path, creating it with defaults when it does not exist yet.
func Open(path string, logger *slog.Logger) (*Store, error) {
	s := &Store{path: path, logger: logging.OrDiscard(logger)}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.current = rules.Default()
		if err := s.persistLocked(s.current); err != nil {
			return nil, err
		}
		s.logger.Info("settings created", "path", path)
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}

	loaded, err := decodeBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.current = loaded
	s.lastHash = hashSettings(loaded)
	for _, w := range rules.Lint(loaded) {
		s.logger.Warn("settings rule warning", "path", path, "message", w)
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Get returns a copy of the current snapshot.
func (s *Store) Get() rules.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Update applies fn to a copy of the snapshot, then persists and publishes the result.
func (s *Store) Update(fn func(*rules.Settings) error) (rules.Settings, error) {
	s.mu.Lock()
	next := s.current.Clone()
	if err := fn(&next); err != nil {
		s.mu.Unlock()
		return rules.Settings{}, err
	}
	next = next.Sanitized()
	if err := s.persistLocked(next); err != nil {
		s.mu.Unlock()
		return rules.Settings{}, err
	}
	s.current = next
	s.mu.Unlock()

	s.publish(next)
	return next.Clone(), nil
}

// Replace swaps the whole snapshot.
func (s *Store) Replace(next rules.Settings) (rules.Settings, error) {
	return s.Update(func(cur *rules.Settings) error {
		*cur = next.Clone()
		return nil
	})
}

// AddReplacement appends one replacement rule.
func (s *Store) AddReplacement(r rules.Replacement) (rules.Settings, error) {
	if err := rules.ValidateReplacement(r); err != nil {
		return rules.Settings{}, err
	}
	return s.Update(func(cur *rules.Settings) error {
		cur.Replacements = append(cur.Replacements, r)
		return nil
	})
}

// UpdateReplacement overwrites the replacement rule at index.
func (s *Store) UpdateReplacement(index int, r rules.Replacement) (rules.Settings, error) {
	if err := rules.ValidateReplacement(r); err != nil {
		return rules.Settings{}, err
	}
	return s.Update(func(cur *rules.Settings) error {
		if index < 0 || index >= len(cur.Replacements) {
			return fmt.Errorf("replacement %d: %w", index, ErrIndexOutOfRange)
		}
		cur.Replacements[index] = r
		return nil
	})
}

// RemoveReplacement deletes the replacement rule at index.
func (s *Store) RemoveReplacement(index int) (rules.Settings, error) {
	return s.Update(func(cur *rules.Settings) error {
		if index < 0 || index >= len(cur.Replacements) {
			return fmt.Errorf("replacement %d: %w", index, ErrIndexOutOfRange)
		}
		cur.Replacements = append(cur.Replacements[:index], cur.Replacements[index+1:]...)
		return nil
	})
}

// AddBlockRule appends one block rule.
func (s *Store) AddBlockRule(r rules.BlockRule) (rules.Settings, error) {
	if err := rules.ValidateBlockRule(r); err != nil {
		return rules.Settings{}, err
	}
	return s.Update(func(cur *rules.Settings) error {
		cur.BlockedApps = append(cur.BlockedApps, r.Compact())
		return nil
	})
}

// UpdateBlockRule overwrites the block rule at index.
func (s *Store) UpdateBlockRule(index int, r rules.BlockRule) (rules.Settings, error) {
	if err := rules.ValidateBlockRule(r); err != nil {
		return rules.Settings{}, err
	}
	return s.Update(func(cur *rules.Settings) error {
		if index < 0 || index >= len(cur.BlockedApps) {
			return fmt.Errorf("block rule %d: %w", index, ErrIndexOutOfRange)
		}
		cur.BlockedApps[index] = r.Compact()
		return nil
	})
}

// RemoveBlockRule deletes the block rule at index.
func (s *Store) RemoveBlockRule(index int) (rules.Settings, error) {
	return s.Update(func(cur *rules.Settings) error {
		if index < 0 || index >= len(cur.BlockedApps) {
			return fmt.Errorf("block rule %d: %w", index, ErrIndexOutOfRange)
		}
		cur.BlockedApps = append(cur.BlockedApps[:index], cur.BlockedApps[index+1:]...)
		return nil
	})
}

// Import replaces the snapshot with a document merged over the defaults.
// Rules that will degrade at match time are reported but kept.
func (s *Store) Import(r io.Reader) (rules.Settings, []string, error) {
	imported, err := Decode(r)
	if err != nil {
		return rules.Settings{}, nil, err
	}
	next, err := s.Replace(imported)
	if err != nil {
		return rules.Settings{}, nil, err
	}
	return next, rules.Lint(next), nil
}

// Patch merges a partial document over the current snapshot. Keys absent from
// the document keep their current values.
func (s *Store) Patch(r io.Reader) (rules.Settings, []string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return rules.Settings{}, nil, fmt.Errorf("read settings patch: %w", err)
	}
	next, err := s.Update(func(cur *rules.Settings) error {
		merged, err := decodeOnto(*cur, data)
		if err != nil {
			return err
		}
		*cur = merged
		return nil
	})
	if err != nil {
		return rules.Settings{}, nil, err
	}
	return next, rules.Lint(next), nil
}

// Export writes the current snapshot in its persisted form.
func (s *Store) Export(w io.Writer) error {
	return Encode(w, s.Get())
}

// Reset restores the defaults.
func (s *Store) Reset() (rules.Settings, error) {
	return s.Replace(rules.Default())
}

// Reload re-reads the file and publishes when its content changed.
func (s *Store) Reload() (rules.Settings, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return rules.Settings{}, false, fmt.Errorf("read settings %s: %w", s.path, err)
	}
	loaded, err := decodeBytes(data)
	if err != nil {
		return rules.Settings{}, false, fmt.Errorf("%s: %w", s.path, err)
	}

	h := hashSettings(loaded)
	s.mu.Lock()
	if h != 0 && h == s.lastHash {
		s.mu.Unlock()
		return loaded, false, nil
	}
	s.current = loaded
	s.lastHash = h
	s.mu.Unlock()

	s.publish(loaded)
	return loaded.Clone(), true, nil
}

// persistLocked writes next atomically. Callers hold s.mu.
func (s *Store) persistLocked(next rules.Settings) error {
	data, err := encodeBytes(next)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("write settings %s: %w", s.path, err)
	}
	s.lastHash = hashSettings(next)
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// Subscribe returns a channel receiving every published snapshot.
func (s *Store) Subscribe(buffer int) <-chan rules.Settings {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan rules.Settings, buffer)
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()
	return ch
}

// Unsubscribe stops delivery to ch and closes it.
func (s *Store) Unsubscribe(ch <-chan rules.Settings) {
	if ch == nil {
		return
	}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for i, sub := range s.subs {
		if sub == ch {
			last := len(s.subs) - 1
			s.subs[i] = s.subs[last]
			s.subs[last] = nil
			s.subs = s.subs[:last]
			close(sub)
			return
		}
	}
}

func (s *Store) publish(next rules.Settings) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		snapshot := next.Clone()
		select {
		case ch <- snapshot:
			continue
		default:
		}
		// Slow subscriber: drop the oldest queued snapshot, keep the newest.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snapshot:
		default:
			s.logger.Debug("settings update dropped", "queue_len", len(ch), "queue_cap", cap(ch))
		}
	}
}
