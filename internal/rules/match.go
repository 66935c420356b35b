package rules

import "github.com/rbright/tospeak/internal/notification"

// MatchField tests one event field against one rule field.
//
// An empty pattern does not constrain the match. An invalid regular expression
// degrades to literal equality.
func MatchField(value, pattern string, isRegex bool) bool {
	if pattern == "" {
		return true
	}
	if value == "" {
		return false
	}
	if !isRegex {
		return value == pattern
	}
	re, err := compile(pattern)
	if err != nil {
		return value == pattern
	}
	return re.MatchString(value)
}

// Matches reports whether every field set on the rule matches the event.
// A rule with no fields set never matches.
func (r BlockRule) Matches(ev notification.Event) bool {
	if r.Empty() {
		return false
	}
	return MatchField(ev.App, r.App, r.AppIsRegex) &&
		MatchField(ev.AppID, r.AppID, r.AppIDIsRegex) &&
		MatchField(ev.Title, r.Title, r.TitleIsRegex) &&
		MatchField(ev.Text, r.Text, r.TextIsRegex)
}

// IsBlocked reports whether any rule suppresses the event.
func IsBlocked(ev notification.Event, blocked []BlockRule) bool {
	for _, r := range blocked {
		if r.Matches(ev) {
			return true
		}
	}
	return false
}
