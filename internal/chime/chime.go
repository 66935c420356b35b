// Package chime plays the short cue that precedes each spoken notification.
package chime

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jfreymuth/pulse"
)

const sampleRate = 16000

type toneSpec struct {
	frequencyHz float64
	duration    time.Duration
	volume      float64
}

var notifyCuePCM = synthesizeCue([]toneSpec{
	{frequencyHz: 988, duration: 60 * time.Millisecond, volume: 0.16},
	{frequencyHz: 1319, duration: 90 * time.Millisecond, volume: 0.16},
})

// Chime plays a configured sound file, or the built-in two-tone cue when no
// file is set or the file cannot be played.
type Chime struct {
	file string
	play func(ctx context.Context, path string) error
}

// New returns a chime for file. An empty file selects the synthesized cue.
func New(file string) *Chime {
	return &Chime{file: expandUserPath(file), play: playFile}
}

// File returns the resolved sound file path, if any.
func (c *Chime) File() string {
	return c.file
}

// Play blocks until the cue finished or ctx is done.
func (c *Chime) Play(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.file != "" {
		if err := c.play(ctx, c.file); err == nil {
			return nil
		}
	}
	return playSynth(ctx, notifyCuePCM)
}

// Probe connects to the PulseAudio (or pipewire-pulse) server and resolves the
// default sink.
func Probe(_ context.Context) (string, error) {
	client, err := newClient()
	if err != nil {
		return "", err
	}
	defer client.Close()

	sink, err := client.DefaultSink()
	if err != nil {
		return "", fmt.Errorf("read default sink: %w", err)
	}
	return sink.ID(), nil
}

func newClient() (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("tospeak"),
		pulse.ClientApplicationIconName("audio-speakers"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	return client, nil
}

func expandUserPath(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if raw != "~" && !strings.HasPrefix(raw, "~/") {
		return raw
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return raw
	}
	return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(raw, "~"), "/"))
}

func playFile(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("stat chime file %q: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "pw-play", "--media-role", "Notification", path)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("play chime file %q: %w", path, err)
	}
	return nil
}

func playSynth(ctx context.Context, samples []int16) error {
	if len(samples) == 0 {
		return nil
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	cursor := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if cursor >= len(samples) {
			return 0, pulse.EndOfData
		}

		n := copy(buf, samples[cursor:])
		cursor += n
		if cursor >= len(samples) {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	stream, err := client.NewPlayback(
		reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(0.02),
		pulse.PlaybackMediaName("tospeak notification chime"),
	)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		stream.Start()
		stream.Drain()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		stream.Stop()
		return ctx.Err()
	}
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play chime stream: %w", err)
	}
	return nil
}

func synthesizeCue(parts []toneSpec) []int16 {
	if len(parts) == 0 {
		return nil
	}
	gapSamples := samplesForDuration(22 * time.Millisecond)

	var pcm []int16
	for i, part := range parts {
		pcm = append(pcm, synthesizeTone(part)...)
		if i < len(parts)-1 && gapSamples > 0 {
			pcm = append(pcm, make([]int16, gapSamples)...)
		}
	}
	return pcm
}

func synthesizeTone(spec toneSpec) []int16 {
	n := samplesForDuration(spec.duration)
	if n <= 0 || spec.frequencyHz <= 0 || spec.volume <= 0 {
		return nil
	}

	ramp := min(n/10, sampleRate/200) // at most 5ms
	ramp = max(ramp, 1)

	pcm := make([]int16, n)
	for i := 0; i < n; i++ {
		envelope := 1.0
		if i < ramp {
			envelope = float64(i) / float64(ramp)
		}
		if tail := n - i - 1; tail < ramp {
			envelope = math.Min(envelope, float64(tail)/float64(ramp))
		}
		t := float64(i) / sampleRate
		pcm[i] = int16(math.Round(math.Sin(2*math.Pi*spec.frequencyHz*t) * spec.volume * envelope * 32767))
	}
	return pcm
}

func samplesForDuration(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * sampleRate))
}
