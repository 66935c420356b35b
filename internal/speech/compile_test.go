package speech

import (
	"testing"
	"time"

	"github.com/rbright/tospeak/internal/notification"
	"github.com/rbright/tospeak/internal/rules"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func settingsWith(mut func(*rules.Settings)) rules.Settings {
	s := rules.Default()
	if mut != nil {
		mut(&s)
	}
	return s
}

func TestCompileDefaultTemplate(t *testing.T) {
	ev := notification.Event{App: "Chrome", Title: "New mail", Text: "Hello\nWorld"}

	got := Compile(ev, rules.Default(), nil, t0)
	require.Equal(t, OutcomeSpoken, got.Outcome)
	require.Equal(t, "Chrome、New mail、Hello World", got.Text)
	require.NotNil(t, got.LastSpoken)
	require.Equal(t, t0, got.LastSpoken.SpokenAt)
	require.Equal(t, "Hello\nWorld", got.LastSpoken.Text)
}

func TestCompileLineBreakVariants(t *testing.T) {
	s := settingsWith(func(s *rules.Settings) { s.SpeechTemplate = "{text}" })
	got := Compile(notification.Event{Text: " a\r\nb\rc\nd "}, s, nil, t0)
	require.Equal(t, "a b c d", got.Text)
}

func TestCompileMissingFieldsCollapseSeparators(t *testing.T) {
	got := Compile(notification.Event{Title: "Reminder"}, rules.Default(), nil, t0)
	require.Equal(t, "Reminder", got.Text)
}

func TestCompileTemplateValuesAreNotReexpanded(t *testing.T) {
	s := settingsWith(func(s *rules.Settings) { s.SpeechTemplate = "{app} {title}" })
	got := Compile(notification.Event{App: "{title}", Title: "x"}, s, nil, t0)
	require.Equal(t, "{title} x", got.Text)
}

func TestCompileReplacementsChain(t *testing.T) {
	s := settingsWith(func(s *rules.Settings) {
		s.SpeechTemplate = "{text}"
		s.Replacements = []rules.Replacement{{From: "a", To: "b"}, {From: "b", To: "c"}}
	})
	require.Equal(t, "c", Compile(notification.Event{Text: "a"}, s, nil, t0).Text)
}

func TestCompileCompaction(t *testing.T) {
	s := settingsWith(func(s *rules.Settings) { s.SpeechTemplate = "{text}" })
	require.Equal(t, "===", Compile(notification.Event{Text: "========="}, s, nil, t0).Text)

	s.ConsecutiveCharMinLength = 0
	require.Equal(t, "=========", Compile(notification.Event{Text: "========="}, s, nil, t0).Text)
}

func TestCompactRuns(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "disabled", in: "aaaaaa", n: 0, want: "aaaaaa"},
		{name: "run of three untouched", in: "aaab", n: 3, want: "aaab"},
		{name: "run of four", in: "aaaab", n: 3, want: "aaab"},
		{name: "threshold above run", in: "ああああ", n: 5, want: "ああああ"},
		{name: "threshold met multibyte", in: "ああああああ", n: 5, want: "あああ"},
		{name: "small threshold never expands", in: "ww", n: 1, want: "ww"},
		{name: "several runs", in: "!!!!!??????ok", n: 4, want: "!!!???ok"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, CompactRuns(tc.in, tc.n))
		})
	}
}

func TestCompileTruncation(t *testing.T) {
	s := settingsWith(func(s *rules.Settings) {
		s.SpeechTemplate = "{text}"
		s.MaxTextLength = 5
	})
	require.Equal(t, "Hello"+TruncationSuffix, Compile(notification.Event{Text: "HelloWorld"}, s, nil, t0).Text)
	require.Equal(t, "Hello", Compile(notification.Event{Text: "Hello"}, s, nil, t0).Text)
	require.Equal(t, "こんにちは"+TruncationSuffix, Compile(notification.Event{Text: "こんにちは世界"}, s, nil, t0).Text)

	s.MaxTextLength = 0
	require.Equal(t, "HelloWorld", Compile(notification.Event{Text: "HelloWorld"}, s, nil, t0).Text)
}

func TestCompileFallback(t *testing.T) {
	s := settingsWith(func(s *rules.Settings) { s.SpeechTemplate = "{title}" })
	got := Compile(notification.Event{App: "Chrome"}, s, nil, t0)
	require.Equal(t, OutcomeSpoken, got.Outcome)
	require.Equal(t, FallbackText, got.Text)

	s.SpeechTemplate = ""
	require.Equal(t, FallbackText, Compile(notification.Event{App: "Chrome"}, s, nil, t0).Text)

	s.SpeechTemplate = "{text}"
	s.Replacements = []rules.Replacement{{From: "secret", To: ""}}
	require.Equal(t, FallbackText, Compile(notification.Event{Text: "secret"}, s, nil, t0).Text)
}

func TestCompileBlockedSpeaksNothing(t *testing.T) {
	s := settingsWith(func(s *rules.Settings) {
		s.BlockedApps = []rules.BlockRule{{App: "Slack"}}
	})
	prev := &LastSpoken{App: "Mail", SpokenAt: t0.Add(-time.Hour)}

	got := Compile(notification.Event{App: "Slack", Title: "hi"}, s, prev, t0)
	require.Equal(t, OutcomeBlocked, got.Outcome)
	require.Empty(t, got.Text)
	require.Same(t, prev, got.LastSpoken)
}

func TestCompileDuplicateWindow(t *testing.T) {
	s := rules.Default()
	ev := notification.Event{App: "Mail", AppID: "mail", Title: "New", Text: "body"}

	first := Compile(ev, s, nil, t0)
	require.Equal(t, OutcomeSpoken, first.Outcome)

	again := Compile(ev, s, first.LastSpoken, t0.Add(10*time.Second))
	require.Equal(t, OutcomeDuplicate, again.Outcome)
	require.Empty(t, again.Text)
	require.Same(t, first.LastSpoken, again.LastSpoken)

	edge := Compile(ev, s, first.LastSpoken, t0.Add(30*time.Second))
	require.Equal(t, OutcomeDuplicate, edge.Outcome)

	later := Compile(ev, s, first.LastSpoken, t0.Add(40*time.Second))
	require.Equal(t, OutcomeSpoken, later.Outcome)
	require.Equal(t, t0.Add(40*time.Second), later.LastSpoken.SpokenAt)

	changed := ev
	changed.Text = "other body"
	require.Equal(t, OutcomeSpoken, Compile(changed, s, first.LastSpoken, t0.Add(time.Second)).Outcome)

	s.DuplicateNotificationIgnoreSeconds = 0
	require.Equal(t, OutcomeSpoken, Compile(ev, s, first.LastSpoken, t0.Add(time.Second)).Outcome)
}

func TestCompileDuplicateCheckedBeforeBlock(t *testing.T) {
	ev := notification.Event{App: "Slack", Title: "hi"}
	first := Compile(ev, rules.Default(), nil, t0)

	blocked := settingsWith(func(s *rules.Settings) { s.BlockedApps = []rules.BlockRule{{App: "Slack"}} })
	require.Equal(t, OutcomeDuplicate, Compile(ev, blocked, first.LastSpoken, t0.Add(time.Second)).Outcome)
	require.Equal(t, OutcomeBlocked, Compile(ev, blocked, first.LastSpoken, t0.Add(time.Minute)).Outcome)
}

func TestCompileMessageIgnoresNonNotifications(t *testing.T) {
	for _, typ := range []notification.Type{
		notification.TypeReady,
		notification.TypeInfo,
		notification.TypeError,
		notification.TypeDebug,
		notification.TypePastNotifications,
		notification.TypeAvailableVoices,
	} {
		got := CompileMessage(notification.Message{Type: typ, App: "Chrome", Title: "x"}, rules.Default(), nil, t0)
		require.Equal(t, OutcomeIgnored, got.Outcome, typ)
		require.Empty(t, got.Text)
		require.Nil(t, got.LastSpoken)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "  a   b\t c ", want: "a b c"},
		{in: "a、、b", want: "a、b"},
		{in: "a,，、b", want: "a、b"},
		{in: "、a、", want: "a"},
		{in: " 、、a , b，、 ", want: "a 、 b"},
		{in: "、 、", want: ""},
		{in: "", want: ""},
	}

	for _, tc := range tests {
		got := Normalize(tc.in)
		require.Equal(t, tc.want, got, "input %q", tc.in)
		require.Equal(t, got, Normalize(got), "not idempotent for %q", tc.in)
	}
}
