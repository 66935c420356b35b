package doctor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rbright/tospeak/internal/config"
	"github.com/stretchr/testify/require"
)

func stubProbes(t *testing.T, chimeErr, grpcErr error) {
	t.Helper()
	prevChime, prevGRPC := probeChime, probeGRPC
	probeChime = func(context.Context) (string, error) {
		if chimeErr != nil {
			return "", chimeErr
		}
		return "alsa_output.test", nil
	}
	probeGRPC = func(context.Context, string, string) error { return grpcErr }
	t.Cleanup(func() {
		probeChime, probeGRPC = prevChime, prevGRPC
	})
}

func findCheck(t *testing.T, report Report, name string) Check {
	t.Helper()
	for _, check := range report.Checks {
		if check.Name == name {
			return check
		}
	}
	t.Fatalf("check %q not in report:\n%s", name, report.String())
	return Check{}
}

func TestReportOKAndString(t *testing.T) {
	report := Report{Checks: []Check{
		{Name: "one", Pass: true, Message: "good"},
		{Name: "two", Pass: false, Message: "bad"},
	}}

	require.False(t, report.OK())
	text := report.String()
	require.Contains(t, text, "[OK] one: good")
	require.Contains(t, text, "[FAIL] two: bad")
}

func TestReportOKAllPassing(t *testing.T) {
	report := Report{Checks: []Check{{Name: "one", Pass: true}, {Name: "two", Pass: true}}}
	require.True(t, report.OK())
}

func TestCheckEnv(t *testing.T) {
	t.Setenv("TEST_DOCTOR_ENV", "/run/user/1000")

	check := checkEnv(
		"TEST_DOCTOR_ENV",
		func(v string) bool { return strings.HasPrefix(v, "/run/user") },
		"looks good",
		"unexpected",
	)

	require.True(t, check.Pass)
	require.Equal(t, "looks good", check.Message)
}

func TestCheckCommandEmpty(t *testing.T) {
	check := checkCommand(nil, "speech.command")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "command is empty")
}

func TestCheckBinaryFound(t *testing.T) {
	check := checkBinary("sh", "shell available")
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "shell available")
}

func TestCheckBinaryMissing(t *testing.T) {
	check := checkBinary("definitely-not-a-real-binary", "unused")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "binary not found")
}

func TestCheckCommandUsesBinaryFromPath(t *testing.T) {
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "fake-helper")
	require.NoError(t, os.WriteFile(scriptPath, []byte("#!/usr/bin/env bash\nexit 0\n"), 0o755))
	t.Setenv("PATH", dir+":"+os.Getenv("PATH"))

	check := checkCommand([]string{"fake-helper", "--stdio"}, "helper.command")
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "helper.command command is available")
}

func TestCheckSettingsMissingFileUsesDefaults(t *testing.T) {
	current, check := checkSettings(filepath.Join(t.TempDir(), "settings.json"))
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "defaults apply")
	require.Empty(t, current.VoiceName)
}

func TestCheckSettingsReportsParseErrorsAndLint(t *testing.T) {
	dir := t.TempDir()

	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte("{\n  \"volume\": ,\n}"), 0o600))
	_, check := checkSettings(broken)
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "line 2")

	linted := filepath.Join(dir, "linted.json")
	require.NoError(t, os.WriteFile(linted, []byte(`{"blockedApps":[{"title":"(","titleIsRegex":true}]}`), 0o600))
	_, check = checkSettings(linted)
	require.False(t, check.Pass)
	require.NotEmpty(t, check.Message)

	good := filepath.Join(dir, "good.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"voiceName":"Haruka","replacements":[{"from":"a","to":"b"}]}`), 0o600))
	current, check := checkSettings(good)
	require.True(t, check.Pass)
	require.Equal(t, "1 replacements, 0 block rules", check.Message)
	require.Equal(t, "Haruka", current.VoiceName)
}

func TestCheckSpeechBackend(t *testing.T) {
	stubProbes(t, nil, errors.New("connection refused"))

	cfg := config.Default()
	cfg.Speech.Backend = config.BackendGRPC
	check := checkSpeechBackend(context.Background(), cfg)
	require.False(t, check.Pass)
	require.Equal(t, "speech.grpc", check.Name)
	require.Contains(t, check.Message, "connection refused")

	cfg.Speech.Backend = config.BackendHelper
	check = checkSpeechBackend(context.Background(), cfg)
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "helper.command is empty")

	cfg.Speech.Backend = config.BackendNone
	require.True(t, checkSpeechBackend(context.Background(), cfg).Pass)

	cfg.Speech.Backend = config.BackendCommand
	cfg.Speech.Command = config.CommandConfig{Raw: "sh -c true", Argv: []string{"sh", "-c", "true"}}
	check = checkSpeechBackend(context.Background(), cfg)
	require.True(t, check.Pass)
	require.Equal(t, "speech.command", check.Name)
}

func TestCheckWritableDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "history.db")
	check := checkWritableDir(path, "history.path")
	require.True(t, check.Pass)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Empty(t, entries)

	require.False(t, checkWritableDir("", "history.path").Pass)
}

func TestRunCoversConfiguredSurfaces(t *testing.T) {
	stubProbes(t, errors.New("connect pulse server: refused"), nil)
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	dir := t.TempDir()
	settingsPath := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(settingsPath, []byte(`{"voiceName":"Haruka"}`), 0o600))

	cfg := config.Default()
	cfg.SettingsPath = settingsPath
	cfg.Speech.Backend = config.BackendGRPC
	cfg.Chime.Enable = true
	cfg.History.Driver = config.HistorySQLite
	cfg.History.Path = filepath.Join(dir, "history.db")
	cfg.Helper.Command = config.CommandConfig{Raw: "sh", Argv: []string{"sh"}}

	report := Run(context.Background(), config.Loaded{Path: filepath.Join(dir, "config.jsonc"), Config: cfg, Exists: true})

	require.True(t, findCheck(t, report, "config").Pass)
	require.True(t, findCheck(t, report, "settings").Pass)
	require.True(t, findCheck(t, report, "XDG_RUNTIME_DIR").Pass)
	require.True(t, findCheck(t, report, "sh").Pass)
	require.True(t, findCheck(t, report, "speech.grpc").Pass)
	require.Equal(t, `selected "Haruka"`, findCheck(t, report, "voice").Message)
	require.False(t, findCheck(t, report, "chime").Pass)
	require.True(t, findCheck(t, report, "history.path").Pass)
	require.False(t, report.OK())
}

func TestRunSkipsOptionalChecks(t *testing.T) {
	stubProbes(t, nil, nil)
	t.Setenv("XDG_RUNTIME_DIR", "")

	cfg := config.Default()
	cfg.SettingsPath = filepath.Join(t.TempDir(), "settings.json")
	cfg.Speech.Backend = config.BackendNone

	report := Run(context.Background(), config.Loaded{Path: "/tmp/config.jsonc", Config: cfg})

	require.Contains(t, findCheck(t, report, "config").Message, "not found")
	require.False(t, findCheck(t, report, "XDG_RUNTIME_DIR").Pass)
	require.False(t, findCheck(t, report, "voice").Pass)
	for _, check := range report.Checks {
		require.NotEqual(t, "chime", check.Name)
		require.NotEqual(t, "history.path", check.Name)
	}
}
