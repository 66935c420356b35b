// Package daemon wires the rule store, speech pipeline, helper bridge and
// control surfaces into one long-running process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rbright/tospeak/internal/bridge"
	"github.com/rbright/tospeak/internal/chime"
	"github.com/rbright/tospeak/internal/config"
	"github.com/rbright/tospeak/internal/history"
	"github.com/rbright/tospeak/internal/httpapi"
	"github.com/rbright/tospeak/internal/ipc"
	"github.com/rbright/tospeak/internal/logging"
	"github.com/rbright/tospeak/internal/notification"
	"github.com/rbright/tospeak/internal/observability"
	"github.com/rbright/tospeak/internal/rules"
	"github.com/rbright/tospeak/internal/settings"
	"github.com/rbright/tospeak/internal/speech"
	"github.com/rbright/tospeak/internal/tts"
)

// Daemon owns every runtime component. Build it with New, then call Run once.
type Daemon struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *observability.Metrics

	store      *settings.Store
	session    *speech.Session
	history    *history.Log
	dispatcher *tts.Dispatcher
	bridge     *bridge.Bridge
	closers    []io.Closer

	startedAt time.Time

	mu     sync.Mutex
	voices []string
	cancel context.CancelFunc
}

// New opens the settings store and history, and builds the speech backend.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, metrics *observability.Metrics) (*Daemon, error) {
	logger = logging.OrDiscard(logger)
	if metrics == nil {
		metrics = observability.NewMetrics("tospeak")
	}

	store, err := settings.Open(cfg.SettingsPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}

	d := &Daemon{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		store:     store,
		session:   speech.NewSession(store.Get()),
		startedAt: time.Now(),
	}

	histOpts := []history.Option{history.WithLogger(logger)}
	var histBackend history.Backend
	if cfg.History.Driver == config.HistorySQLite {
		histBackend, err = history.OpenSQLite(ctx, cfg.History.Path, cfg.History.Limit)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		histOpts = append(histOpts, history.WithBackend(histBackend))
	}
	d.history, err = history.New(ctx, cfg.History.Limit, histOpts...)
	if err != nil {
		if histBackend != nil {
			_ = histBackend.Close()
		}
		return nil, fmt.Errorf("load history: %w", err)
	}
	d.closers = append(d.closers, d.history)

	if len(cfg.Helper.Command.Argv) > 0 {
		d.bridge = bridge.New(bridge.Config{
			Argv:         cfg.Helper.Command.Argv,
			Workdir:      cfg.Helper.Workdir,
			RestartDelay: time.Duration(cfg.Helper.RestartDelayMS) * time.Millisecond,
		}, d.handleHelperMessage, logger.With("component", "bridge"), metrics)
	}

	speaker, err := d.buildSpeaker()
	if err != nil {
		_ = d.Close()
		return nil, err
	}

	var cue tts.Cue
	if cfg.Chime.Enable {
		cue = chime.New(cfg.Chime.File)
	}
	d.dispatcher = tts.NewDispatcher(speaker, cue, tts.DispatcherConfig{
		QueueSize: cfg.Speech.QueueSize,
		Timeout:   time.Duration(cfg.Speech.TimeoutMS) * time.Millisecond,
	}, logger.With("component", "speech"), metrics)

	current := store.Get()
	d.dispatcher.Configure(current.VoiceName, current.Volume)
	return d, nil
}

func (d *Daemon) buildSpeaker() (tts.Speaker, error) {
	switch d.cfg.Speech.Backend {
	case config.BackendHelper:
		if d.bridge == nil {
			return nil, errors.New("speech.backend=helper requires helper.command")
		}
		return d.bridge, nil
	case config.BackendCommand:
		return tts.NewCommand(d.cfg.Speech.Command.Argv), nil
	case config.BackendGRPC:
		g := tts.NewGRPC(d.cfg.Speech.GRPC, d.cfg.Speech.GRPCMethod, 3*time.Second)
		d.closers = append(d.closers, g)
		return g, nil
	case config.BackendNone:
		return tts.Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown speech backend %q", d.cfg.Speech.Backend)
	}
}

// Store exposes the rule store, e.g. for the HTTP API.
func (d *Daemon) Store() *settings.Store { return d.store }

// History exposes the notification log.
func (d *Daemon) History() *history.Log { return d.history }

// Run starts every component and blocks until ctx is done or a stop command
// arrives. ready, if set, is called once the components are running.
func (d *Daemon) Run(ctx context.Context, ready func()) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	var wg sync.WaitGroup
	errCh := make(chan error, 8)
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				d.logger.Error("component failed", "component", name, "error", err.Error())
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	updates := d.store.Subscribe(1)
	defer d.store.Unsubscribe(updates)

	spawn("settings-watch", d.store.Watch)
	spawn("speech", d.dispatcher.Run)
	spawn("settings-apply", func(ctx context.Context) error {
		d.applySettings(ctx, updates)
		return nil
	})
	if d.bridge != nil {
		spawn("helper", d.bridge.Run)
	}
	if d.cfg.HTTP.Listen != "" {
		api := httpapi.New(httpapi.Config{AllowAnyOrigin: d.cfg.HTTP.AllowAnyOrigin},
			d.store, d.history, d, d.metrics, d.logger.With("component", "http"))
		spawn("http", func(ctx context.Context) error {
			return api.Serve(ctx, d.cfg.HTTP.Listen)
		})
	}

	d.logger.Info("daemon running",
		"backend", d.cfg.Speech.Backend,
		"helper", d.bridge != nil,
		"http", d.cfg.HTTP.Listen,
		"settings", d.store.Path(),
	)
	if ready != nil {
		ready()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		cancel()
	}
	wg.Wait()
	return runErr
}

// Stop asks a running daemon to shut down.
func (d *Daemon) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close releases history storage and backend connections.
func (d *Daemon) Close() error {
	var errs []error
	for _, c := range d.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Daemon) applySettings(ctx context.Context, updates <-chan rules.Settings) {
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-updates:
			if !ok {
				return
			}
			d.session.Update(next)
			d.dispatcher.Configure(next.VoiceName, next.Volume)
			d.logger.Debug("settings applied", "voice", next.VoiceName, "volume", next.Volume)
		}
	}
}

// handleHelperMessage is the bridge callback for every stdout message.
func (d *Daemon) handleHelperMessage(msg notification.Message) {
	_, _ = d.Notify(context.Background(), msg)
}

// Notify runs one message from any source through the pipeline and logs it.
// The string is the dispatch result when the message was spoken.
func (d *Daemon) Notify(ctx context.Context, msg notification.Message) (speech.Result, string) {
	source := msg.Source
	if source == "" {
		source = "helper"
	}

	switch msg.Type {
	case notification.TypeReady:
		d.logger.Info("helper ready", "source", source, "message", msg.Message)
		d.dispatcher.Resync()
	case notification.TypeAvailableVoices:
		d.mu.Lock()
		d.voices = append([]string(nil), msg.Voices...)
		d.mu.Unlock()
		d.logger.Info("voices available", "count", len(msg.Voices))
	case notification.TypeError:
		d.logger.Error("helper reported error", "source", source, "message", msg.Message)
	case notification.TypeInfo:
		d.logger.Info("helper info", "source", source, "message", msg.Message)
	case notification.TypeDebug:
		d.logger.Debug("helper debug", "source", source, "message", msg.Message)
	case notification.TypePastNotifications:
		d.logger.Info("past notifications received", "count", len(msg.Notifications))
	}

	res := d.session.Process(msg)
	dispatched := ""
	if msg.IsNotification() {
		d.metrics.Notifications.WithLabelValues(string(res.Outcome)).Inc()
		d.logger.Info("notification", "summary", msg.Summary(), "outcome", string(res.Outcome))
		if res.Speak() {
			dispatched = d.dispatcher.Enqueue(res.Text)
		}
	}

	outcome := ""
	if msg.IsNotification() {
		outcome = string(res.Outcome)
	}
	d.history.Record(ctx, msg, outcome, res.Text)
	return res, dispatched
}

// Preview compiles msg without touching the duplicate record.
func (d *Daemon) Preview(msg notification.Message) speech.Result {
	return d.session.Preview(msg)
}

// Speak queues text verbatim, bypassing the compiler.
func (d *Daemon) Speak(_ context.Context, text string) string {
	return d.dispatcher.Enqueue(text)
}

// Voices returns the voices last reported by the helper.
func (d *Daemon) Voices() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.voices...)
}

// HelperState reports the bridge lifecycle state, or "disabled" without a helper.
func (d *Daemon) HelperState() string {
	if d.bridge == nil {
		return "disabled"
	}
	return string(d.bridge.State())
}

// Status snapshots the daemon for status clients.
func (d *Daemon) Status() ipc.Status {
	current := d.store.Get()
	st := ipc.Status{
		PID:         os.Getpid(),
		StartedAt:   d.startedAt.Format(time.RFC3339),
		HelperState: d.HelperState(),
		Backend:     d.cfg.Speech.Backend,
		VoiceName:   current.VoiceName,
		Volume:      current.Volume,
		QueueDepth:  d.dispatcher.Depth(),
		Voices:      len(d.Voices()),
		History:     d.history.Len(),
	}
	if last, ok := d.session.LastSpoken(); ok {
		st.LastSpoken = last.SpokenAt.Format(time.RFC3339)
	}
	return st
}

// Handle serves IPC commands.
func (d *Daemon) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	state := d.HelperState()
	switch req.Command {
	case ipc.CommandStatus:
		st := d.Status()
		return ipc.Response{OK: true, State: state, Status: &st}
	case ipc.CommandReload:
		_, changed, err := d.store.Reload()
		if err != nil {
			return ipc.Response{OK: false, State: state, Error: err.Error()}
		}
		if !changed {
			return ipc.Response{OK: true, State: state, Message: "settings unchanged"}
		}
		return ipc.Response{OK: true, State: state, Message: "settings reloaded"}
	case ipc.CommandSpeak:
		if req.Text == "" {
			return ipc.Response{OK: false, State: state, Error: "speak requires text"}
		}
		return ipc.Response{OK: true, State: state, Message: d.Speak(ctx, req.Text)}
	case ipc.CommandNotify:
		if req.Message == nil {
			return ipc.Response{OK: false, State: state, Error: "notify requires a message"}
		}
		msg := *req.Message
		if msg.Type == "" {
			msg.Type = notification.TypeNotification
		}
		if msg.Source == "" {
			msg.Source = "ipc"
		}
		res, dispatched := d.Notify(ctx, msg)
		return ipc.Response{OK: true, State: state, Outcome: string(res.Outcome), Text: res.Text, Message: dispatched}
	case ipc.CommandStop:
		d.Stop()
		return ipc.Response{OK: true, State: state, Message: "stopping"}
	default:
		return ipc.Response{OK: false, State: state, Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}
