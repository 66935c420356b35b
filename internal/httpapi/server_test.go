package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rbright/tospeak/internal/history"
	"github.com/rbright/tospeak/internal/ipc"
	"github.com/rbright/tospeak/internal/notification"
	"github.com/rbright/tospeak/internal/observability"
	"github.com/rbright/tospeak/internal/rules"
	"github.com/rbright/tospeak/internal/settings"
	"github.com/rbright/tospeak/internal/speech"
)

type fakeService struct {
	store   *settings.Store
	history *history.Log

	mu     sync.Mutex
	spoken []string
}

func (f *fakeService) Status() ipc.Status {
	return ipc.Status{PID: 42, HelperState: "running", Backend: "helper"}
}

func (f *fakeService) Voices() []string { return []string{"Haruka", "Ichiro"} }

func (f *fakeService) Speak(_ context.Context, text string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, text)
	return "ok"
}

func (f *fakeService) Preview(msg notification.Message) speech.Result {
	return speech.Compile(msg.Event(), f.store.Get(), nil, time.Now())
}

func (f *fakeService) Notify(ctx context.Context, msg notification.Message) (speech.Result, string) {
	res := speech.CompileMessage(msg, f.store.Get(), nil, time.Now())
	f.history.Record(ctx, msg, string(res.Outcome), res.Text)
	if !res.Speak() {
		return res, ""
	}
	return res, f.Speak(ctx, res.Text)
}

type fixture struct {
	server  *httptest.Server
	store   *settings.Store
	history *history.Log
	service *fakeService
}

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()

	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.json"), nil)
	if err != nil {
		t.Fatalf("open settings: %v", err)
	}
	hist, err := history.New(context.Background(), 100)
	if err != nil {
		t.Fatalf("new history: %v", err)
	}
	svc := &fakeService{store: store, history: hist}
	srv := New(cfg, store, hist, svc, observability.NewMetrics("tospeak"), nil)
	srv.now = func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return fixture{server: ts, store: store, history: hist, service: svc}
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func decodeBody[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func expectStatus(t *testing.T, res *http.Response, want int) {
	t.Helper()
	if res.StatusCode != want {
		body, _ := io.ReadAll(res.Body)
		t.Fatalf("status = %d, want %d (body %s)", res.StatusCode, want, body)
	}
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t, Config{})

	res := doJSON(t, http.MethodGet, f.server.URL+"/healthz", nil)
	expectStatus(t, res, http.StatusOK)

	res = doJSON(t, http.MethodGet, f.server.URL+"/v1/status", nil)
	expectStatus(t, res, http.StatusOK)
	status := decodeBody[ipc.Status](t, res)
	if status.PID != 42 || status.HelperState != "running" {
		t.Fatalf("unexpected status: %+v", status)
	}

	res = doJSON(t, http.MethodGet, f.server.URL+"/metrics", nil)
	expectStatus(t, res, http.StatusOK)
	body, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(body), "tospeak_helper_restarts_total") {
		t.Fatalf("metrics output missing helper restarts counter")
	}
}

func TestSettingsPatchReplaceAndReset(t *testing.T) {
	f := newFixture(t, Config{})

	res := doJSON(t, http.MethodPatch, f.server.URL+"/v1/settings", `{"voiceName":"Haruka","volume":150}`)
	expectStatus(t, res, http.StatusOK)
	patched := decodeBody[settingsResponse](t, res)
	if patched.Settings.VoiceName != "Haruka" || patched.Settings.Volume != 100 {
		t.Fatalf("unexpected patched settings: %+v", patched.Settings)
	}

	res = doJSON(t, http.MethodPut, f.server.URL+"/v1/settings", `{"speechTemplate":"{title}","replacements":[{"from":"(","to":"x","isRegex":true}]}`)
	expectStatus(t, res, http.StatusOK)
	replaced := decodeBody[settingsResponse](t, res)
	if replaced.Settings.VoiceName != "" {
		t.Fatalf("replace should not keep voiceName, got %q", replaced.Settings.VoiceName)
	}
	if len(replaced.Warnings) != 1 {
		t.Fatalf("warnings = %v, want one invalid pattern warning", replaced.Warnings)
	}

	res = doJSON(t, http.MethodPatch, f.server.URL+"/v1/settings", `{"volume":`)
	expectStatus(t, res, http.StatusBadRequest)
	apiErr := decodeBody[errorResponse](t, res)
	if apiErr.Code != "invalid_settings" {
		t.Fatalf("code = %q, want invalid_settings", apiErr.Code)
	}

	res = doJSON(t, http.MethodPost, f.server.URL+"/v1/settings/reset", nil)
	expectStatus(t, res, http.StatusOK)
	if got := f.store.Get(); got.SpeechTemplate != rules.DefaultSpeechTemplate {
		t.Fatalf("template after reset = %q", got.SpeechTemplate)
	}
}

func TestExportSetsAttachmentName(t *testing.T) {
	f := newFixture(t, Config{})

	res := doJSON(t, http.MethodGet, f.server.URL+"/v1/settings/export", nil)
	expectStatus(t, res, http.StatusOK)
	if got := res.Header.Get("Content-Disposition"); got != `attachment; filename="tospeak-settings-2026-03-14.json"` {
		t.Fatalf("content disposition = %q", got)
	}
	doc := decodeBody[map[string]any](t, res)
	if doc["speechTemplate"] != rules.DefaultSpeechTemplate {
		t.Fatalf("export missing template: %v", doc)
	}
}

func TestRuleEdits(t *testing.T) {
	f := newFixture(t, Config{})

	res := doJSON(t, http.MethodPost, f.server.URL+"/v1/replacements", rules.Replacement{From: "Slack", To: "スラック"})
	expectStatus(t, res, http.StatusCreated)

	res = doJSON(t, http.MethodPut, f.server.URL+"/v1/replacements/0", rules.Replacement{From: "Teams", To: "チームズ"})
	expectStatus(t, res, http.StatusOK)
	if got := f.store.Get().Replacements[0].From; got != "Teams" {
		t.Fatalf("replacement from = %q", got)
	}

	res = doJSON(t, http.MethodDelete, f.server.URL+"/v1/replacements/3", nil)
	expectStatus(t, res, http.StatusNotFound)

	res = doJSON(t, http.MethodDelete, f.server.URL+"/v1/replacements/x", nil)
	expectStatus(t, res, http.StatusBadRequest)

	res = doJSON(t, http.MethodPost, f.server.URL+"/v1/blocked", rules.BlockRule{})
	expectStatus(t, res, http.StatusBadRequest)
	apiErr := decodeBody[errorResponse](t, res)
	if apiErr.Code != "invalid_rule" {
		t.Fatalf("code = %q, want invalid_rule", apiErr.Code)
	}

	res = doJSON(t, http.MethodPost, f.server.URL+"/v1/blocked", rules.BlockRule{Title: "(", TitleIsRegex: true})
	expectStatus(t, res, http.StatusBadRequest)

	res = doJSON(t, http.MethodPost, f.server.URL+"/v1/blocked", rules.BlockRule{App: "Slack"})
	expectStatus(t, res, http.StatusCreated)

	res = doJSON(t, http.MethodDelete, f.server.URL+"/v1/blocked/0", nil)
	expectStatus(t, res, http.StatusOK)
	if n := len(f.store.Get().BlockedApps); n != 0 {
		t.Fatalf("blocked rules = %d, want 0", n)
	}
}

func TestNotifyPreviewAndLogs(t *testing.T) {
	f := newFixture(t, Config{})

	msg := notification.Message{App: "Mail", Title: "Hello", Text: "line1\nline2"}
	res := doJSON(t, http.MethodPost, f.server.URL+"/v1/preview", msg)
	expectStatus(t, res, http.StatusOK)
	preview := decodeBody[compileResponse](t, res)
	if preview.Text != "Mail、Hello、line1 line2" {
		t.Fatalf("preview text = %q", preview.Text)
	}
	if f.history.Len() != 0 {
		t.Fatalf("preview must not touch history")
	}

	res = doJSON(t, http.MethodPost, f.server.URL+"/v1/notifications", msg)
	expectStatus(t, res, http.StatusAccepted)
	notified := decodeBody[compileResponse](t, res)
	if notified.Outcome != speech.OutcomeSpoken || notified.Speech != "ok" {
		t.Fatalf("unexpected notify response: %+v", notified)
	}

	res = doJSON(t, http.MethodGet, f.server.URL+"/v1/logs?limit=5", nil)
	expectStatus(t, res, http.StatusOK)
	logs := decodeBody[logsResponse](t, res)
	if len(logs.Entries) != 1 || logs.Entries[0].Source != "http" {
		t.Fatalf("unexpected logs: %+v", logs.Entries)
	}

	res = doJSON(t, http.MethodGet, f.server.URL+"/v1/logs?limit=-1", nil)
	expectStatus(t, res, http.StatusBadRequest)

	res = doJSON(t, http.MethodDelete, f.server.URL+"/v1/logs", nil)
	expectStatus(t, res, http.StatusNoContent)
	if f.history.Len() != 0 {
		t.Fatalf("history not cleared")
	}

	res = doJSON(t, http.MethodPost, f.server.URL+"/v1/notifications", nil)
	expectStatus(t, res, http.StatusBadRequest)
}

func TestSpeakAndVoices(t *testing.T) {
	f := newFixture(t, Config{})

	res := doJSON(t, http.MethodPost, f.server.URL+"/v1/speak", speakRequest{Text: "  テスト  "})
	expectStatus(t, res, http.StatusAccepted)
	if got := decodeBody[speakResponse](t, res); got.Result != "ok" {
		t.Fatalf("speak result = %q", got.Result)
	}
	if len(f.service.spoken) != 1 || f.service.spoken[0] != "テスト" {
		t.Fatalf("spoken = %v", f.service.spoken)
	}

	res = doJSON(t, http.MethodPost, f.server.URL+"/v1/speak", speakRequest{})
	expectStatus(t, res, http.StatusBadRequest)

	res = doJSON(t, http.MethodGet, f.server.URL+"/v1/voices", nil)
	expectStatus(t, res, http.StatusOK)
	voices := decodeBody[voicesResponse](t, res)
	if len(voices.Voices) != 2 || voices.Selected != "" {
		t.Fatalf("unexpected voices: %+v", voices)
	}
}

func TestLogStreamDeliversEntries(t *testing.T) {
	f := newFixture(t, Config{})

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/logs/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial log stream: %v", err)
	}
	defer conn.Close()

	// The server subscribes after the upgrade completes, so keep recording until one arrives.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				f.history.Record(context.Background(), notification.Message{Type: notification.TypeInfo, Message: "ping"}, "", "")
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var entry history.Entry
	if err := conn.ReadJSON(&entry); err != nil {
		t.Fatalf("read streamed entry: %v", err)
	}
	if entry.Message != "ping" || entry.Type != notification.TypeInfo {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestLogStreamRejectsCrossOrigin(t *testing.T) {
	f := newFixture(t, Config{})

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/logs/ws"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, res, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatalf("expected cross-origin dial to fail")
	}
	if res == nil || res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", res)
	}

	open := newFixture(t, Config{AllowAnyOrigin: true})
	wsURL = "ws" + strings.TrimPrefix(open.server.URL, "http") + "/v1/logs/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("allow_any_origin dial: %v", err)
	}
	_ = conn.Close()
}
