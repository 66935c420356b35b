package app

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
	"strings"
	"time"

	"github.com/rbright/tospeak/internal/config"
	"github.com/rbright/tospeak/internal/ipc"
	"github.com/rbright/tospeak/internal/notification"
	"github.com/rbright/tospeak/internal/rules"
	"github.com/rbright/tospeak/internal/settings"
	"github.com/rbright/tospeak/internal/speech"
)

const maxStdinLine = 1 << 20

// commandNotify forwards each JSON line on stdin to the running daemon.
func (r Runner) commandNotify(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	scanner := bufio.NewScanner(r.stdin())
	scanner.Buffer(make([]byte, 0, 64*1024), maxStdinLine)

	exitCode := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		msg, err := decodeMessage(line, "cli")
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: line %d: %v\n", lineNo, err)
			exitCode = 1
			continue
		}

		resp, handled, err := tryForward(ctx, socketPath, ipc.Request{Command: ipc.CommandNotify, Message: &msg}, deliverTimeout)
		if !handled {
			fmt.Fprintf(r.Stderr, "error: tospeak daemon is not running\n")
			return 1
		}
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: line %d: %v\n", lineNo, err)
			exitCode = 1
			continue
		}
		fmt.Fprintln(r.Stdout, describeOutcome(speech.Outcome(resp.Outcome), resp.Text))
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(r.Stderr, "error: read stdin: %v\n", err)
		return 1
	}
	return exitCode
}

// commandCompile compiles one message locally against the rule file.
func (r Runner) commandCompile(cfg config.Config) int {
	data, err := io.ReadAll(io.LimitReader(r.stdin(), maxStdinLine))
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: read stdin: %v\n", err)
		return 1
	}
	msg, err := decodeMessage(bytes.TrimSpace(data), "cli")
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	current, err := loadRules(cfg.SettingsPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	res := speech.CompileMessage(msg, current, nil, time.Now())
	fmt.Fprintln(r.Stdout, describeOutcome(res.Outcome, res.Text))
	return 0
}

func (r Runner) commandSettings(cfg config.Config, logger *slog.Logger) int {
	store, err := settings.Open(cfg.SettingsPath, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if err := store.Export(r.Stdout); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	r.printLint(rules.Lint(store.Get()))
	return 0
}

func (r Runner) commandImport(cfg config.Config, path string, logger *slog.Logger) int {
	store, err := settings.Open(cfg.SettingsPath, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	src := r.stdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		defer f.Close()
		src = f
	}

	imported, warnings, err := store.Import(src)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: import %s: %v\n", path, err)
		return 1
	}
	r.printLint(warnings)
	fmt.Fprintf(r.Stdout, "imported %d replacements, %d block rules\n", len(imported.Replacements), len(imported.BlockedApps))
	logger.Info("settings imported", "source", path, "warnings", len(warnings))
	return 0
}

func (r Runner) commandExport(cfg config.Config, path string, logger *slog.Logger) int {
	store, err := settings.Open(cfg.SettingsPath, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	if path == "-" {
		if err := store.Export(r.Stdout); err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	var buf bytes.Buffer
	if err := store.Export(&buf); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		fmt.Fprintf(r.Stderr, "error: export %s: %v\n", path, err)
		return 1
	}
	fmt.Fprintf(r.Stdout, "exported settings to %s\n", path)
	return 0
}

func (r Runner) commandReset(cfg config.Config, logger *slog.Logger) int {
	store, err := settings.Open(cfg.SettingsPath, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if _, err := store.Reset(); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintln(r.Stdout, "settings reset to defaults")
	return 0
}

func (r Runner) printLint(warnings []string) {
	for _, w := range warnings {
		fmt.Fprintf(r.Stderr, "warning: %s\n", w)
	}
}

func (r Runner) stdin() io.Reader {
	if r.Stdin == nil {
		return strings.NewReader("")
	}
	return r.Stdin
}

// loadRules reads the rule file without creating it. A missing file means defaults.
func loadRules(path string) (rules.Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return rules.Default(), nil
		}
		return rules.Settings{}, err
	}
	defer f.Close()
	return settings.Decode(f)
}

func decodeMessage(data []byte, source string) (notification.Message, error) {
	if len(data) == 0 {
		return notification.Message{}, errors.New("empty message")
	}
	var msg notification.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return notification.Message{}, fmt.Errorf("decode message: %w", err)
	}
	if msg.Type == "" {
		msg.Type = notification.TypeNotification
	}
	if msg.Source == "" {
		msg.Source = source
	}
	return msg, nil
}

// describeOutcome prints the sentence for spoken results and the outcome otherwise.
func describeOutcome(outcome speech.Outcome, text string) string {
	if outcome == speech.OutcomeSpoken {
		return text
	}
	if outcome == "" {
		outcome = speech.OutcomeIgnored
	}
	return fmt.Sprintf("(silent: %s)", outcome)
}
