// Package httpapi serves the local control API used by settings UIs and scripts.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/rbright/tospeak/internal/history"
	"github.com/rbright/tospeak/internal/ipc"
	"github.com/rbright/tospeak/internal/logging"
	"github.com/rbright/tospeak/internal/notification"
	"github.com/rbright/tospeak/internal/observability"
	"github.com/rbright/tospeak/internal/rules"
	"github.com/rbright/tospeak/internal/speech"
)

// SettingsStore is the rule store surface the API edits.
type SettingsStore interface {
	Get() rules.Settings
	Patch(r io.Reader) (rules.Settings, []string, error)
	Import(r io.Reader) (rules.Settings, []string, error)
	Export(w io.Writer) error
	Reset() (rules.Settings, error)
	AddReplacement(r rules.Replacement) (rules.Settings, error)
	UpdateReplacement(index int, r rules.Replacement) (rules.Settings, error)
	RemoveReplacement(index int) (rules.Settings, error)
	AddBlockRule(r rules.BlockRule) (rules.Settings, error)
	UpdateBlockRule(index int, r rules.BlockRule) (rules.Settings, error)
	RemoveBlockRule(index int) (rules.Settings, error)
}

// HistoryLog is the notification log surface the API reads and streams.
type HistoryLog interface {
	List(limit int) []history.Entry
	Clear(ctx context.Context) error
	Subscribe(buffer int) (<-chan history.Entry, func())
}

// Service is the daemon surface behind the speech and status endpoints.
type Service interface {
	Status() ipc.Status
	Voices() []string
	// Speak queues text verbatim and reports the dispatch result.
	Speak(ctx context.Context, text string) string
	Preview(msg notification.Message) speech.Result
	// Notify runs msg through the pipeline; the string is the dispatch result
	// when the message was spoken.
	Notify(ctx context.Context, msg notification.Message) (speech.Result, string)
}

// Config tunes the API server.
type Config struct {
	AllowAnyOrigin bool
}

type Server struct {
	cfg      Config
	store    SettingsStore
	history  HistoryLog
	service  Service
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
	now      func() time.Time
}

func New(cfg Config, store SettingsStore, hist HistoryLog, service Service, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if metrics == nil {
		metrics = observability.Nop()
	}
	return &Server{
		cfg:     cfg,
		store:   store,
		history: hist,
		service: service,
		metrics: metrics,
		logger:  logging.OrDiscard(logger),
		now:     time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return cfg.AllowAnyOrigin || sameOrigin(r)
			},
		},
	}
}

// sameOrigin accepts requests without an Origin header (non-browser clients)
// and browser requests whose origin host matches the request host.
func sameOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})
	r.Get("/v1/status", s.handleStatus)

	r.Get("/v1/settings", s.handleGetSettings)
	r.Put("/v1/settings", s.handleReplaceSettings)
	r.Patch("/v1/settings", s.handlePatchSettings)
	r.Post("/v1/settings/reset", s.handleResetSettings)
	r.Get("/v1/settings/export", s.handleExportSettings)

	r.Post("/v1/replacements", s.handleAddReplacement)
	r.Put("/v1/replacements/{index}", s.handleUpdateReplacement)
	r.Delete("/v1/replacements/{index}", s.handleRemoveReplacement)
	r.Post("/v1/blocked", s.handleAddBlockRule)
	r.Put("/v1/blocked/{index}", s.handleUpdateBlockRule)
	r.Delete("/v1/blocked/{index}", s.handleRemoveBlockRule)

	r.Get("/v1/logs", s.handleListLogs)
	r.Delete("/v1/logs", s.handleClearLogs)
	r.Get("/v1/logs/ws", s.handleLogsWS)

	r.Get("/v1/voices", s.handleVoices)
	r.Post("/v1/speak", s.handleSpeak)
	r.Post("/v1/preview", s.handlePreview)
	r.Post("/v1/notifications", s.handleNotify)

	return r
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, lis)
}

// ServeListener serves on lis until ctx is done.
func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(lis)
	}()
	s.logger.Info("http api listening", "addr", lis.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.service.Status())
}

type voicesResponse struct {
	Voices   []string `json:"voices"`
	Selected string   `json:"selected"`
}

func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	voices := s.service.Voices()
	if voices == nil {
		voices = []string{}
	}
	respondJSON(w, http.StatusOK, voicesResponse{Voices: voices, Selected: s.store.Get().VoiceName})
}

type speakRequest struct {
	Text string `json:"text"`
}

type speakResponse struct {
	Result string `json:"result"`
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		respondError(w, http.StatusBadRequest, "missing_text", "text is required")
		return
	}
	respondJSON(w, http.StatusAccepted, speakResponse{Result: s.service.Speak(r.Context(), text)})
}

type compileResponse struct {
	Outcome speech.Outcome `json:"outcome"`
	Text    string         `json:"text,omitempty"`
	Speech  string         `json:"speech,omitempty"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.decodeMessage(w, r)
	if !ok {
		return
	}
	res := s.service.Preview(msg)
	respondJSON(w, http.StatusOK, compileResponse{Outcome: res.Outcome, Text: res.Text})
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.decodeMessage(w, r)
	if !ok {
		return
	}
	res, dispatched := s.service.Notify(r.Context(), msg)
	respondJSON(w, http.StatusAccepted, compileResponse{Outcome: res.Outcome, Text: res.Text, Speech: dispatched})
}

func (s *Server) decodeMessage(w http.ResponseWriter, r *http.Request) (notification.Message, bool) {
	var msg notification.Message
	if err := decodeJSON(r, &msg); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "missing_body", "a notification message is required")
		} else {
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		}
		return notification.Message{}, false
	}
	if msg.Type == "" {
		msg.Type = notification.TypeNotification
	}
	if msg.Source == "" {
		msg.Source = "http"
	}
	return msg, true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
