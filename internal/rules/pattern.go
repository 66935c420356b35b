package rules

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
	"unicode/utf8"
)

// MaxPatternLength bounds user-supplied regular expressions accepted at edit time.
const MaxPatternLength = 1024

const maxCachedPatterns = 512

var (
	// ErrPatternTooLong is returned by ValidatePattern for oversized expressions.
	ErrPatternTooLong = errors.New("pattern too long")
	// ErrEmptyBlockRule is returned for a block rule with no field set.
	ErrEmptyBlockRule = errors.New("block rule must set at least one of app, app_id, title, text")
	// ErrInvalidPattern is returned by ValidatePattern for expressions that do not compile.
	ErrInvalidPattern = errors.New("invalid regular expression")
	// ErrEmptyReplacement is returned for a replacement rule without from.
	ErrEmptyReplacement = errors.New("replacement must set from")
)

type compiledPattern struct {
	re  *regexp.Regexp
	err error
}

var patterns = struct {
	mu      sync.Mutex
	entries map[string]compiledPattern
}{entries: make(map[string]compiledPattern)}

// compile returns a cached RE2 program for expr. Failures are cached too.
func compile(expr string) (*regexp.Regexp, error) {
	patterns.mu.Lock()
	defer patterns.mu.Unlock()

	if cached, ok := patterns.entries[expr]; ok {
		return cached.re, cached.err
	}
	if len(patterns.entries) >= maxCachedPatterns {
		patterns.entries = make(map[string]compiledPattern)
	}
	re, err := regexp.Compile(expr)
	patterns.entries[expr] = compiledPattern{re: re, err: err}
	return re, err
}

// compileFold compiles pattern with case-insensitive matching.
func compileFold(pattern string) (*regexp.Regexp, error) {
	return compile("(?i)" + pattern)
}

// literalFold matches pattern literally, ignoring case.
func literalFold(pattern string) *regexp.Regexp {
	re, err := compile("(?i)" + regexp.QuoteMeta(pattern))
	if err != nil {
		// QuoteMeta output always compiles.
		panic(err)
	}
	return re
}

// ValidatePattern rejects expressions that fail to compile or exceed MaxPatternLength.
//
// RE2 matching is linear in the input, so compile success is the only runtime
// safety requirement; the length cap keeps program size bounded.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return nil
	}
	if n := utf8.RuneCountInString(pattern); n > MaxPatternLength {
		return fmt.Errorf("%w: %d > %d characters", ErrPatternTooLong, n, MaxPatternLength)
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidPattern, pattern, err)
	}
	return nil
}

// ValidateBlockRule checks an edited block rule before it is stored.
func ValidateBlockRule(r BlockRule) error {
	if r.Empty() {
		return ErrEmptyBlockRule
	}
	fields := []struct {
		name    string
		pattern string
		isRegex bool
	}{
		{"app", r.App, r.AppIsRegex},
		{"app_id", r.AppID, r.AppIDIsRegex},
		{"title", r.Title, r.TitleIsRegex},
		{"text", r.Text, r.TextIsRegex},
	}
	for _, f := range fields {
		if !f.isRegex {
			continue
		}
		if err := ValidatePattern(f.pattern); err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
	}
	return nil
}

// ValidateReplacement checks an edited replacement rule before it is stored.
func ValidateReplacement(r Replacement) error {
	if r.From == "" {
		return ErrEmptyReplacement
	}
	if r.IsRegex {
		if err := ValidatePattern(r.From); err != nil {
			return fmt.Errorf("from: %w", err)
		}
	}
	return nil
}

// Lint reports rules that will silently degrade at match time.
func Lint(s Settings) []string {
	warnings := make([]string, 0)
	for i, r := range s.Replacements {
		if err := ValidateReplacement(r); err != nil {
			warnings = append(warnings, fmt.Sprintf("replacements[%d]: %v", i, err))
		}
	}
	for i, r := range s.BlockedApps {
		if err := ValidateBlockRule(r); err != nil {
			warnings = append(warnings, fmt.Sprintf("blockedApps[%d]: %v", i, err))
		}
	}
	return warnings
}
