// Package tts delivers compiled sentences to an external speech engine.
package tts

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when a backend cannot reach its engine.
var ErrUnavailable = errors.New("speech backend unavailable")

// Speaker is one speech engine backend.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	SetVolume(ctx context.Context, volume int) error
	SetVoice(ctx context.Context, voice string) error
}

// Nop accepts everything and speaks nothing.
type Nop struct{}

func (Nop) Speak(context.Context, string) error    { return nil }
func (Nop) SetVolume(context.Context, int) error   { return nil }
func (Nop) SetVoice(context.Context, string) error { return nil }

// SpeakerFunc adapts a function to a Speaker that ignores voice and volume.
type SpeakerFunc func(context.Context, string) error

func (f SpeakerFunc) Speak(ctx context.Context, text string) error { return f(ctx, text) }
func (SpeakerFunc) SetVolume(context.Context, int) error             { return nil }
func (SpeakerFunc) SetVoice(context.Context, string) error           { return nil }
