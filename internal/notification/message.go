// Package notification defines the messages exchanged with notification sources.
package notification

import (
	"strings"
	"time"
)

// Type tags one message from a notification source.
type Type string

const (
	TypeNotification      Type = "notification"
	TypeReady             Type = "ready"
	TypeInfo              Type = "info"
	TypeError             Type = "error"
	TypeDebug             Type = "debug"
	TypePastNotifications Type = "past_notifications"
	TypeAvailableVoices   Type = "available_voices"
)

// Event is the compiler-facing view of one live notification.
type Event struct {
	App       string
	AppID     string
	Title     string
	Text      string
	Timestamp time.Time
}

// PastNotification is one notification that already existed when the source started.
type PastNotification struct {
	App            string `json:"app"`
	AppID          string `json:"app_id"`
	Title          string `json:"title"`
	Text           string `json:"text"`
	NotificationID string `json:"notification_id"`
	Timestamp      string `json:"timestamp"`
}

// Message is one JSON line emitted by a notification source.
type Message struct {
	Type           Type               `json:"type"`
	Source         string             `json:"source,omitempty"`
	App            string             `json:"app,omitempty"`
	AppID          string             `json:"app_id,omitempty"`
	Title          string             `json:"title,omitempty"`
	Text           string             `json:"text,omitempty"`
	NotificationID string             `json:"notification_id,omitempty"`
	Timestamp      string             `json:"timestamp,omitempty"`
	Message        string             `json:"message,omitempty"`
	Notifications  []PastNotification `json:"notifications,omitempty"`
	Voices         []string           `json:"voices,omitempty"`
	Volume         *int               `json:"volume,omitempty"`
}

// IsNotification reports whether the message should enter the speech pipeline.
func (m Message) IsNotification() bool {
	return m.Type == TypeNotification
}

// Event converts the message into compiler input.
func (m Message) Event() Event {
	return Event{
		App:       m.App,
		AppID:     m.AppID,
		Title:     m.Title,
		Text:      m.Text,
		Timestamp: ParseTimestamp(m.Timestamp),
	}
}

// Summary renders the short text used in logs for any message type.
func (m Message) Summary() string {
	switch m.Type {
	case TypeNotification:
		app := m.App
		if app == "" {
			app = "Unknown"
		}
		title := m.Title
		if title == "" {
			title = "No title"
		}
		return app + " - " + title
	case TypePastNotifications:
		if m.Text != "" {
			return m.Text
		}
	}
	if m.Message != "" {
		return m.Message
	}
	return strings.TrimSpace(m.Title + " " + m.Text)
}

// Message reconstructs a notification message for a replayed item.
func (p PastNotification) Message() Message {
	return Message{
		Type:           TypeNotification,
		App:            p.App,
		AppID:          p.AppID,
		Title:          p.Title,
		Text:           p.Text,
		NotificationID: p.NotificationID,
		Timestamp:      p.Timestamp,
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts RFC 3339 or zone-less ISO timestamps (read as local time).
// It returns the zero time when raw is empty or unparseable.
func ParseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for i, layout := range timestampLayouts {
		var (
			ts  time.Time
			err error
		)
		if i == 0 {
			ts, err = time.Parse(layout, raw)
		} else {
			ts, err = time.ParseInLocation(layout, raw, time.Local)
		}
		if err == nil {
			return ts
		}
	}
	return time.Time{}
}
