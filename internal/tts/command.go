package tts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// Command speaks by running an argv template once per utterance.
//
// {text}, {voice} and {volume} are substituted into each argument. When no
// argument references {text} the sentence is written to stdin instead.
type Command struct {
	argv []string

	mu     sync.Mutex
	voice  string
	volume int
}

// NewCommand returns a command backend for argv.
func NewCommand(argv []string) *Command {
	return &Command{argv: append([]string(nil), argv...)}
}

func (c *Command) SetVolume(_ context.Context, volume int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volume = volume
	return nil
}

func (c *Command) SetVoice(_ context.Context, voice string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voice = voice
	return nil
}

func (c *Command) Speak(ctx context.Context, text string) error {
	argv, stdin := c.render(text)
	if err := runCommandWithInput(ctx, argv, stdin); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}
	return nil
}

func (c *Command) render(text string) ([]string, string) {
	c.mu.Lock()
	voice, volume := c.voice, c.volume
	c.mu.Unlock()

	r := strings.NewReplacer(
		"{text}", text,
		"{voice}", voice,
		"{volume}", strconv.Itoa(volume),
	)
	usesText := false
	argv := make([]string, 0, len(c.argv))
	for _, arg := range c.argv {
		if strings.Contains(arg, "{text}") {
			usesText = true
		}
		argv = append(argv, r.Replace(arg))
	}
	if usesText {
		return argv, ""
	}
	return argv, text
}

// runCommandWithInput executes argv and optionally writes input to stdin.
func runCommandWithInput(ctx context.Context, argv []string, input string) error {
	if len(argv) == 0 {
		return fmt.Errorf("command argv cannot be empty")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open stdin for %s: %w", argv[0], err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start command %s: %w", argv[0], err)
	}

	if input != "" {
		if _, err := stdin.Write([]byte(input)); err != nil {
			_ = stdin.Close()
			_ = cmd.Wait()
			return fmt.Errorf("write stdin for %s: %w", argv[0], err)
		}
	}
	_ = stdin.Close()

	if err := cmd.Wait(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("wait for %s: %w: %s", argv[0], err, msg)
		}
		return fmt.Errorf("wait for %s: %w", argv[0], err)
	}
	return nil
}
