package notification

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMessageDecodesHelperLine(t *testing.T) {
	line := `{"type":"notification","source":"toast_bridge","app":"Google Chrome","app_id":"Chrome","title":"Notification #7","text":"line one\nline two","notification_id":"42","timestamp":"2026-03-01T09:15:00.250000"}`

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(line), &msg))
	require.True(t, msg.IsNotification())

	ev := msg.Event()
	require.Equal(t, "Google Chrome", ev.App)
	require.Equal(t, "Chrome", ev.AppID)
	require.Equal(t, "Notification #7", ev.Title)
	require.Equal(t, "line one\nline two", ev.Text)
	require.Equal(t, time.Date(2026, 3, 1, 9, 15, 0, 250000000, time.Local), ev.Timestamp)
}

func TestMessageDecodesVoicesAndPastNotifications(t *testing.T) {
	line := `{"type":"past_notifications","text":"2 items","notifications":[{"app":"Mail","app_id":"mail","title":"a","text":"b","notification_id":"1","timestamp":""},{"app":"Chat","title":"c"}]}`

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(line), &msg))
	require.False(t, msg.IsNotification())
	require.Len(t, msg.Notifications, 2)

	replay := msg.Notifications[0].Message()
	require.Equal(t, TypeNotification, replay.Type)
	require.Equal(t, "Mail", replay.App)
	require.Equal(t, "1", replay.NotificationID)
	require.Equal(t, "2 items", msg.Summary())

	var voices Message
	require.NoError(t, json.Unmarshal([]byte(`{"type":"available_voices","voices":["CeVIO Sato","Haruka"]}`), &voices))
	require.Equal(t, []string{"CeVIO Sato", "Haruka"}, voices.Voices)
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{name: "empty", raw: "", want: time.Time{}},
		{name: "garbage", raw: "yesterday", want: time.Time{}},
		{name: "rfc3339", raw: "2026-03-01T09:15:00Z", want: time.Date(2026, 3, 1, 9, 15, 0, 0, time.UTC)},
		{name: "zone-less", raw: "2026-03-01T09:15:00", want: time.Date(2026, 3, 1, 9, 15, 0, 0, time.Local)},
		{name: "space separated", raw: "2026-03-01 09:15:00.5", want: time.Date(2026, 3, 1, 9, 15, 0, 500000000, time.Local)},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got := ParseTimestamp(tc.raw)
			require.True(t, tc.want.Equal(got), "got %v want %v", got, tc.want)
		})
	}
}

func TestSummaryFallbacks(t *testing.T) {
	require.Equal(t, "Unknown - No title", Message{Type: TypeNotification}.Summary())
	require.Equal(t, "boom", Message{Type: TypeError, Message: "boom"}.Summary())
	require.Equal(t, "お知らせ ready", Message{Type: TypeReady, Title: "お知らせ", Text: "ready"}.Summary())
}
