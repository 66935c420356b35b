// Package config resolves, parses, validates, and defaults tospeak daemon configuration.
package config

// Speech backend names accepted by speech.backend.
const (
	BackendHelper  = "helper"
	BackendCommand = "command"
	BackendGRPC    = "grpc"
	BackendNone    = "none"
)

// History driver names accepted by history.driver.
const (
	HistoryMemory = "memory"
	HistorySQLite = "sqlite"
)

// Config is the fully materialized runtime configuration used by tospeak.
type Config struct {
	SettingsPath string
	Helper       HelperConfig
	Speech       SpeechConfig
	Chime        ChimeConfig
	History      HistoryConfig
	HTTP         HTTPConfig
	Log          LogConfig
}

// HelperConfig controls the supervised notification helper process.
type HelperConfig struct {
	Command        CommandConfig
	Workdir        string
	RestartDelayMS int
}

// SpeechConfig selects and tunes the speech engine backend.
type SpeechConfig struct {
	Backend    string
	Command    CommandConfig
	GRPC       string
	GRPCMethod string
	TimeoutMS  int
	QueueSize  int
}

// ChimeConfig controls the cue played before each utterance.
type ChimeConfig struct {
	Enable bool
	File   string
}

// HistoryConfig controls the notification log buffer.
type HistoryConfig struct {
	Driver string
	Path   string
	Limit  int
}

// HTTPConfig controls the local control API.
type HTTPConfig struct {
	Listen         string
	AllowAnyOrigin bool
}

// LogConfig controls runtime log verbosity.
type LogConfig struct {
	Level string
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
