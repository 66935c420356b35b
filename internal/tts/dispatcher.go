package tts

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/tospeak/internal/logging"
	"github.com/rbright/tospeak/internal/observability"
)

// Speech result labels recorded in speech_total.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultTimeout = "timeout"
	ResultDropped = "dropped"
	ResultMuted   = "muted"
)

// Cue is played before each utterance.
type Cue interface {
	Play(ctx context.Context) error
}

// DispatcherConfig tunes queueing and per-utterance limits.
type DispatcherConfig struct {
	QueueSize int
	Timeout   time.Duration
}

// Dispatcher feeds a single Speaker from a bounded queue on one goroutine.
type Dispatcher struct {
	speaker Speaker
	cue     Cue
	logger  *slog.Logger
	metrics *observability.Metrics
	timeout time.Duration

	queue chan string
	wake  chan struct{}

	mu     sync.Mutex
	voice  string
	volume int
	dirty  bool
}

// NewDispatcher wires speaker behind a queue. cue and metrics may be nil.
func NewDispatcher(speaker Speaker, cue Cue, cfg DispatcherConfig, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	if speaker == nil {
		speaker = Nop{}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if metrics == nil {
		metrics = observability.Nop()
	}
	return &Dispatcher{
		speaker: speaker,
		cue:     cue,
		logger:  logging.OrDiscard(logger),
		metrics: metrics,
		timeout: cfg.Timeout,
		queue:   make(chan string, cfg.QueueSize),
		wake:    make(chan struct{}, 1),
	}
}

// Configure records the voice and volume to push to the backend. An empty voice
// mutes the dispatcher.
func (d *Dispatcher) Configure(voice string, volume int) {
	d.mu.Lock()
	changed := voice != d.voice || volume != d.volume
	d.voice = voice
	d.volume = volume
	if changed {
		d.dirty = true
	}
	d.mu.Unlock()
	if changed {
		d.poke()
	}
}

// Resync pushes the current voice and volume again, e.g. after the engine restarted.
func (d *Dispatcher) Resync() {
	d.mu.Lock()
	d.dirty = true
	d.mu.Unlock()
	d.poke()
}

// Muted reports whether no voice is selected.
func (d *Dispatcher) Muted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.voice == ""
}

// Depth returns the number of queued utterances.
func (d *Dispatcher) Depth() int {
	return len(d.queue)
}

// Enqueue queues text without blocking. It reports the speech_total result label.
func (d *Dispatcher) Enqueue(text string) string {
	if d.Muted() {
		d.metrics.Speech.WithLabelValues(ResultMuted).Inc()
		d.logger.Debug("speech muted; no voice selected")
		return ResultMuted
	}
	select {
	case d.queue <- text:
		d.metrics.QueueDepth.Set(float64(len(d.queue)))
		return ResultOK
	default:
		d.metrics.Speech.WithLabelValues(ResultDropped).Inc()
		d.logger.Warn("speech queue full; utterance dropped", "queue_cap", cap(d.queue))
		return ResultDropped
	}
}

// Run drains the queue until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.wake:
			d.applyConfig(ctx)
		case text := <-d.queue:
			d.metrics.QueueDepth.Set(float64(len(d.queue)))
			d.applyConfig(ctx)
			d.speak(ctx, text)
		}
	}
}

func (d *Dispatcher) poke() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) applyConfig(ctx context.Context) {
	d.mu.Lock()
	if !d.dirty {
		d.mu.Unlock()
		return
	}
	voice, volume := d.voice, d.volume
	d.dirty = false
	d.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.speaker.SetVolume(callCtx, volume); err != nil {
		d.logger.Warn("set speech volume failed", "volume", volume, "error", err.Error())
	}
	if voice == "" {
		return
	}
	if err := d.speaker.SetVoice(callCtx, voice); err != nil {
		d.logger.Warn("set speech voice failed", "voice", voice, "error", err.Error())
	}
}

func (d *Dispatcher) speak(ctx context.Context, text string) {
	if d.Muted() {
		d.metrics.Speech.WithLabelValues(ResultMuted).Inc()
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if d.cue != nil {
		if err := d.cue.Play(callCtx); err != nil {
			d.logger.Debug("chime failed", "error", err.Error())
		}
	}

	started := time.Now()
	err := d.speaker.Speak(callCtx, text)
	d.metrics.ObserveSpeechLatency(time.Since(started))

	switch {
	case err == nil:
		d.metrics.Speech.WithLabelValues(ResultOK).Inc()
		d.logger.Debug("spoke notification", "chars", len([]rune(text)))
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		d.metrics.Speech.WithLabelValues(ResultTimeout).Inc()
		d.logger.Warn("speech timed out", "timeout_ms", d.timeout.Milliseconds())
	case ctx.Err() != nil:
		d.logger.Debug("speech interrupted by shutdown")
	default:
		d.metrics.Speech.WithLabelValues(ResultError).Inc()
		d.logger.Error("speech failed", "error", err.Error())
	}
}
