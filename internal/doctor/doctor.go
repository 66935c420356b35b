// Package doctor runs runtime readiness diagnostics for config, settings, helper, and speech.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rbright/tospeak/internal/chime"
	"github.com/rbright/tospeak/internal/config"
	"github.com/rbright/tospeak/internal/rules"
	"github.com/rbright/tospeak/internal/settings"
	"github.com/rbright/tospeak/internal/tts"
)

const probeTimeout = 3 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// probes are swapped in tests to avoid touching a real audio server or endpoint.
var (
	probeChime = chime.Probe
	probeGRPC  = func(ctx context.Context, endpoint, method string) error {
		client := tts.NewGRPC(endpoint, method, probeTimeout)
		defer client.Close()
		return client.Health(ctx)
	}
)

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	checks := []Check{}

	message := fmt.Sprintf("loaded %q", cfg.Path)
	if !cfg.Exists {
		message = fmt.Sprintf("%q not found; using defaults", cfg.Path)
	}
	checks = append(checks, Check{Name: "config", Pass: true, Message: message})

	current, settingsCheck := checkSettings(cfg.Config.SettingsPath)
	checks = append(checks, settingsCheck)

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "runtime dir is set", "XDG_RUNTIME_DIR is empty; the control socket cannot be created"))

	if len(cfg.Config.Helper.Command.Argv) > 0 {
		checks = append(checks, checkCommand(cfg.Config.Helper.Command.Argv, "helper.command"))
	}

	checks = append(checks, checkSpeechBackend(ctx, cfg.Config))

	if current.VoiceName != "" {
		checks = append(checks, Check{Name: "voice", Pass: true, Message: fmt.Sprintf("selected %q", current.VoiceName)})
	} else {
		checks = append(checks, Check{Name: "voice", Pass: false, Message: "no voice selected; speech is muted"})
	}

	if cfg.Config.Chime.Enable {
		checks = append(checks, checkChime(ctx, cfg.Config.Chime))
	}

	if cfg.Config.History.Driver == config.HistorySQLite {
		checks = append(checks, checkWritableDir(cfg.Config.History.Path, "history.path"))
	}

	return Report{Checks: checks}
}

// checkSettings parses the rule file without creating it and surfaces lint warnings.
func checkSettings(path string) (rules.Settings, Check) {
	name := "settings"
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return rules.Default(), Check{Name: name, Pass: true, Message: fmt.Sprintf("%q not created yet; defaults apply", path)}
		}
		return rules.Default(), Check{Name: name, Pass: false, Message: err.Error()}
	}
	defer f.Close()

	loaded, err := settings.Decode(f)
	if err != nil {
		return rules.Default(), Check{Name: name, Pass: false, Message: err.Error()}
	}
	if warnings := rules.Lint(loaded); len(warnings) > 0 {
		return loaded, Check{Name: name, Pass: false, Message: strings.Join(warnings, "; ")}
	}
	return loaded, Check{
		Name:    name,
		Pass:    true,
		Message: fmt.Sprintf("%d replacements, %d block rules", len(loaded.Replacements), len(loaded.BlockedApps)),
	}
}

// checkSpeechBackend validates the configured speech engine is reachable.
func checkSpeechBackend(ctx context.Context, cfg config.Config) Check {
	name := "speech." + cfg.Speech.Backend
	switch cfg.Speech.Backend {
	case config.BackendCommand:
		check := checkCommand(cfg.Speech.Command.Argv, "speech.command")
		check.Name = name
		return check
	case config.BackendGRPC:
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		if err := probeGRPC(probeCtx, cfg.Speech.GRPC, cfg.Speech.GRPCMethod); err != nil {
			return Check{Name: name, Pass: false, Message: err.Error()}
		}
		return Check{Name: name, Pass: true, Message: fmt.Sprintf("%s is serving", cfg.Speech.GRPC)}
	case config.BackendHelper:
		if len(cfg.Helper.Command.Argv) == 0 {
			return Check{Name: name, Pass: false, Message: "speech.backend is helper but helper.command is empty"}
		}
		return Check{Name: name, Pass: true, Message: "speech is routed through the helper"}
	case config.BackendNone:
		return Check{Name: name, Pass: true, Message: "speech output disabled"}
	default:
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("unknown backend %q", cfg.Speech.Backend)}
	}
}

// checkChime confirms an audio server answers when the chime is enabled.
func checkChime(ctx context.Context, cfg config.ChimeConfig) Check {
	if cfg.File != "" {
		if _, err := os.Stat(cfg.File); err != nil {
			return Check{Name: "chime", Pass: false, Message: fmt.Sprintf("chime file: %v", err)}
		}
	}
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	sink, err := probeChime(probeCtx)
	if err != nil {
		return Check{Name: "chime", Pass: false, Message: err.Error()}
	}
	return Check{Name: "chime", Pass: true, Message: fmt.Sprintf("default sink %q", sink)}
}

// checkWritableDir verifies path's directory exists (or can be created) and accepts writes.
func checkWritableDir(path, name string) Check {
	if strings.TrimSpace(path) == "" {
		return Check{Name: name, Pass: false, Message: "path is empty"}
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	f, err := os.CreateTemp(dir, ".tospeak-doctor-*")
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("%s is not writable: %v", dir, err)}
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("%s is writable", dir)}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}
