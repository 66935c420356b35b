// Package bridge supervises the notification helper process and speaks its
// JSON-lines protocol.
package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rbright/tospeak/internal/fsm"
	"github.com/rbright/tospeak/internal/logging"
	"github.com/rbright/tospeak/internal/notification"
	"github.com/rbright/tospeak/internal/observability"
	"golang.org/x/time/rate"
)

const (
	maxLineBytes = 1 << 20
	stopGrace    = 2 * time.Second

	// At most restartBurst spawns run back to back; after that one per restartEvery.
	restartBurst = 5
	restartEvery = 12 * time.Second
)

var (
	// ErrNotRunning is returned when a command is written while no helper is attached.
	ErrNotRunning = errors.New("helper process is not running")

	utf8BOM = []byte("\ufeff")
)

// Handler receives each decoded helper message in arrival order.
type Handler func(notification.Message)

// Config describes the helper process.
type Config struct {
	Argv         []string
	Workdir      string
	RestartDelay time.Duration
	// Env entries are appended to the inherited environment.
	Env []string
}

// Command is one JSON line written to the helper's stdin.
type Command struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Volume    *int   `json:"volume,omitempty"`
	VoiceName string `json:"voice_name,omitempty"`
}

// Bridge runs the helper, restarts it after abnormal exits, and forwards its
// stdout messages to a Handler. It also implements tts.Speaker.
type Bridge struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger
	metrics *observability.Metrics
	limiter *rate.Limiter

	mu       sync.Mutex
	state    fsm.State
	stdin    io.WriteCloser
	pid      int
	restarts int

	writeMu sync.Mutex
}

// New returns a stopped bridge. handler may be nil.
func New(cfg Config, handler Handler, logger *slog.Logger, metrics *observability.Metrics) *Bridge {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 3 * time.Second
	}
	if handler == nil {
		handler = func(notification.Message) {}
	}
	if metrics == nil {
		metrics = observability.Nop()
	}
	return &Bridge{
		cfg:     cfg,
		handler: handler,
		logger:  logging.OrDiscard(logger),
		metrics: metrics,
		limiter: rate.NewLimiter(rate.Every(restartEvery), restartBurst),
		state:   fsm.StateStopped,
	}
}

// State returns the supervision state.
func (b *Bridge) State() fsm.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// PID returns the running helper's process id, or 0.
func (b *Bridge) PID() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pid
}

// Restarts returns how many times the helper was respawned.
func (b *Bridge) Restarts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.restarts
}

// Run supervises the helper until it exits cleanly or ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	if len(b.cfg.Argv) == 0 {
		return errors.New("helper command is empty")
	}
	defer b.apply(fsm.EventStop)

	for {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil
		}
		event := fsm.EventStart
		if b.State() == fsm.StateBackoff {
			event = fsm.EventRetry
			b.mu.Lock()
			b.restarts++
			b.mu.Unlock()
			b.metrics.HelperRestarts.Inc()
		}
		if err := b.apply(event); err != nil {
			return err
		}

		code, err := b.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil && code == 0 {
			_ = b.apply(fsm.EventExit)
			b.logger.Info("helper exited cleanly; supervision ended")
			return nil
		}

		_ = b.apply(fsm.EventCrash)
		attrs := []any{"exit_code", code, "restart_in", b.cfg.RestartDelay.String()}
		if err != nil {
			attrs = append(attrs, "error", err.Error())
		}
		b.logger.Warn("helper stopped abnormally", attrs...)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(b.cfg.RestartDelay):
		}
	}
}

// runOnce spawns the helper and waits for it. It reports the exit code (-1 when
// unknown) and any spawn or wait error other than a non-zero exit.
func (b *Bridge) runOnce(ctx context.Context) (int, error) {
	cmd := exec.CommandContext(ctx, b.cfg.Argv[0], b.cfg.Argv[1:]...)
	cmd.Dir = b.cfg.Workdir
	cmd.Env = append(os.Environ(), "PYTHONIOENCODING=utf-8")
	cmd.Env = append(cmd.Env, b.cfg.Env...)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = stopGrace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return -1, fmt.Errorf("open helper stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("open helper stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("open helper stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("start helper %s: %w", b.cfg.Argv[0], err)
	}

	b.mu.Lock()
	b.stdin = stdin
	b.pid = cmd.Process.Pid
	b.mu.Unlock()
	_ = b.apply(fsm.EventSpawned)
	b.logger.Info("helper started", "pid", cmd.Process.Pid, "argv0", b.cfg.Argv[0])

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		b.readStdout(stdout)
	}()
	go func() {
		defer wg.Done()
		b.readStderr(stderr)
	}()
	wg.Wait()

	b.writeMu.Lock()
	b.mu.Lock()
	b.stdin = nil
	b.pid = 0
	b.mu.Unlock()
	_ = stdin.Close()
	b.writeMu.Unlock()

	err = cmd.Wait()
	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		err = nil
	}
	return code, err
}

func (b *Bridge) readStdout(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(bytes.TrimPrefix(scanner.Bytes(), utf8BOM))
		if len(line) == 0 {
			continue
		}
		var msg notification.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			b.logger.Error("decode helper message failed", "error", err.Error(), "line", truncate(line, 200))
			continue
		}
		b.metrics.HelperMessages.WithLabelValues(messageLabel(msg.Type)).Inc()
		b.handler(msg)
	}
	if err := scanner.Err(); err != nil {
		b.logger.Error("helper stdout read failed", "error", err.Error())
		_, _ = io.Copy(io.Discard, r)
	}
}

func (b *Bridge) readStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for scanner.Scan() {
		if line := bytes.TrimSpace(scanner.Bytes()); len(line) > 0 {
			b.logger.Warn("helper stderr", "line", string(line))
		}
	}
	_, _ = io.Copy(io.Discard, r)
}

// Send writes one command line to the helper.
func (b *Bridge) Send(cmd Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode helper command: %w", err)
	}
	payload = append(payload, '\n')

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	b.mu.Lock()
	stdin := b.stdin
	b.mu.Unlock()
	if stdin == nil {
		return ErrNotRunning
	}
	if _, err := stdin.Write(payload); err != nil {
		return fmt.Errorf("write helper %s command: %w", cmd.Type, err)
	}
	return nil
}

// Speak asks the helper to read text aloud. It returns once the command is written.
func (b *Bridge) Speak(_ context.Context, text string) error {
	return b.Send(Command{Type: "speak", Text: text})
}

func (b *Bridge) SetVolume(_ context.Context, volume int) error {
	return b.Send(Command{Type: "set_volume", Volume: &volume})
}

func (b *Bridge) SetVoice(_ context.Context, voice string) error {
	return b.Send(Command{Type: "set_voice", VoiceName: voice})
}

func (b *Bridge) apply(event fsm.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	next, err := fsm.Transition(b.state, event)
	if err != nil {
		return err
	}
	b.state = next
	return nil
}

func messageLabel(t notification.Type) string {
	switch t {
	case notification.TypeNotification, notification.TypeReady, notification.TypeInfo,
		notification.TypeError, notification.TypeDebug, notification.TypePastNotifications,
		notification.TypeAvailableVoices:
		return string(t)
	default:
		return "unknown"
	}
}

func truncate(line []byte, n int) string {
	if len(line) <= n {
		return string(line)
	}
	return string(line[:n]) + "..."
}
