package config

import (
	"fmt"
	"net"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	switch cfg.Speech.Backend {
	case BackendHelper:
		if len(cfg.Helper.Command.Argv) == 0 {
			return nil, fmt.Errorf("speech.backend=helper requires helper.command")
		}
	case BackendCommand:
		if len(cfg.Speech.Command.Argv) == 0 {
			return nil, fmt.Errorf("speech.command must not be empty when speech.backend=command")
		}
	case BackendGRPC:
		if cfg.Speech.GRPC == "" {
			return nil, fmt.Errorf("speech.grpc must not be empty when speech.backend=grpc")
		}
		if !strings.HasPrefix(cfg.Speech.GRPCMethod, "/") || strings.Count(cfg.Speech.GRPCMethod, "/") != 2 {
			return nil, fmt.Errorf("speech.grpc_method must look like /package.Service/Method")
		}
	case BackendNone:
		warnings = append(warnings, Warning{Message: "speech.backend=none; notifications are logged but never spoken"})
	case "":
		return nil, fmt.Errorf("speech.backend must not be empty")
	default:
		return nil, fmt.Errorf("speech.backend must be one of: helper, command, grpc, none")
	}

	if cfg.Speech.TimeoutMS <= 0 {
		return nil, fmt.Errorf("speech.timeout_ms must be > 0")
	}
	if cfg.Speech.QueueSize <= 0 {
		return nil, fmt.Errorf("speech.queue_size must be > 0")
	}
	if cfg.Helper.RestartDelayMS < 0 {
		return nil, fmt.Errorf("helper.restart_delay_ms must be >= 0")
	}
	if cfg.Helper.Command.Raw != "" && len(cfg.Helper.Command.Argv) == 0 {
		return nil, fmt.Errorf("helper.command is configured but empty")
	}

	switch cfg.History.Driver {
	case HistoryMemory, HistorySQLite:
	default:
		return nil, fmt.Errorf("history.driver must be one of: memory, sqlite")
	}
	if cfg.History.Limit <= 0 {
		return nil, fmt.Errorf("history.limit must be > 0")
	}

	if cfg.HTTP.Listen != "" {
		host, _, err := net.SplitHostPort(cfg.HTTP.Listen)
		if err != nil {
			return nil, fmt.Errorf("http.listen: %w", err)
		}
		if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
			warnings = append(warnings, Warning{Message: fmt.Sprintf("http.listen %q is not a loopback address", cfg.HTTP.Listen)})
		}
	}

	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return nil, fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	if cfg.Chime.File != "" && !cfg.Chime.Enable {
		warnings = append(warnings, Warning{Message: "chime.file is set but chime.enable=false"})
	}

	return warnings, nil
}
