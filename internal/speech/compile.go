// Package speech turns notification events into the sentence handed to a speech engine.
package speech

import (
	"time"

	"github.com/rbright/tospeak/internal/notification"
	"github.com/rbright/tospeak/internal/rules"
)

// Outcome classifies one compile.
type Outcome string

const (
	OutcomeSpoken    Outcome = "spoken"
	OutcomeBlocked   Outcome = "blocked"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// LastSpoken records the most recently spoken notification. It lives for the
// process lifetime only.
type LastSpoken struct {
	App      string
	AppID    string
	Title    string
	Text     string
	SpokenAt time.Time
}

// Result is the output of Compile. Text is empty unless Outcome is OutcomeSpoken.
type Result struct {
	Text       string
	Outcome    Outcome
	LastSpoken *LastSpoken
}

// Speak reports whether the result carries a sentence.
func (r Result) Speak() bool {
	return r.Outcome == OutcomeSpoken
}

// Compile runs the full pipeline for one event. It is pure: the returned
// LastSpoken is the record the caller should keep afterwards.
func Compile(ev notification.Event, s rules.Settings, last *LastSpoken, now time.Time) Result {
	if isDuplicate(ev, s.DuplicateNotificationIgnoreSeconds, last, now) {
		return Result{Outcome: OutcomeDuplicate, LastSpoken: last}
	}
	if rules.IsBlocked(ev, s.BlockedApps) {
		return Result{Outcome: OutcomeBlocked, LastSpoken: last}
	}

	text := Sentence(ev, s)
	return Result{
		Text:    text,
		Outcome: OutcomeSpoken,
		LastSpoken: &LastSpoken{
			App:      ev.App,
			AppID:    ev.AppID,
			Title:    ev.Title,
			Text:     ev.Text,
			SpokenAt: now,
		},
	}
}

// CompileMessage compiles msg, ignoring every type other than notification.
func CompileMessage(msg notification.Message, s rules.Settings, last *LastSpoken, now time.Time) Result {
	if !msg.IsNotification() {
		return Result{Outcome: OutcomeIgnored, LastSpoken: last}
	}
	return Compile(msg.Event(), s, last, now)
}

// Sentence builds the spoken text without the duplicate or block checks.
func Sentence(ev notification.Event, s rules.Settings) string {
	text := renderTemplate(s.SpeechTemplate, ev.App, ev.Title, ev.Text)
	text = rules.ApplyReplacements(text, s.Replacements)
	text = CompactRuns(text, s.ConsecutiveCharMinLength)
	text = Normalize(text)
	text = Truncate(text, s.MaxTextLength)
	if text == "" {
		return FallbackText
	}
	return text
}

func isDuplicate(ev notification.Event, windowSeconds int, last *LastSpoken, now time.Time) bool {
	if windowSeconds <= 0 || last == nil {
		return false
	}
	if last.App != ev.App || last.AppID != ev.AppID || last.Title != ev.Title || last.Text != ev.Text {
		return false
	}
	return now.Sub(last.SpokenAt) <= time.Duration(windowSeconds)*time.Second
}
