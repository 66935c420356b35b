package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	SettingsPath *string       `json:"settings_path"`
	Helper       *jsoncHelper  `json:"helper"`
	Speech       *jsoncSpeech  `json:"speech"`
	Chime        *jsoncChime   `json:"chime"`
	History      *jsoncHistory `json:"history"`
	HTTP         *jsoncHTTP    `json:"http"`
	Log          *jsoncLog     `json:"log"`
}

type jsoncHelper struct {
	Command        *string `json:"command"`
	Workdir        *string `json:"workdir"`
	RestartDelayMS *int    `json:"restart_delay_ms"`
}

type jsoncSpeech struct {
	Backend    *string `json:"backend"`
	Command    *string `json:"command"`
	GRPC       *string `json:"grpc"`
	GRPCMethod *string `json:"grpc_method"`
	TimeoutMS  *int    `json:"timeout_ms"`
	QueueSize  *int    `json:"queue_size"`
}

type jsoncChime struct {
	Enable *bool   `json:"enable"`
	File   *string `json:"file"`
}

type jsoncHistory struct {
	Driver *string `json:"driver"`
	Path   *string `json:"path"`
	Limit  *int    `json:"limit"`
}

type jsoncHTTP struct {
	Listen         *string `json:"listen"`
	AllowAnyOrigin *bool   `json:"allow_any_origin"`
}

type jsoncLog struct {
	Level *string `json:"level"`
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	warnings = append(warnings, validatedWarnings...)
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if payload.SettingsPath != nil {
		cfg.SettingsPath = strings.TrimSpace(*payload.SettingsPath)
	}

	if payload.Helper != nil {
		if payload.Helper.Command != nil {
			raw := *payload.Helper.Command
			argv, err := parseArgv(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid helper.command: %w", err)
			}
			cfg.Helper.Command = CommandConfig{Raw: raw, Argv: argv}
		}
		if payload.Helper.Workdir != nil {
			cfg.Helper.Workdir = strings.TrimSpace(*payload.Helper.Workdir)
		}
		if payload.Helper.RestartDelayMS != nil {
			cfg.Helper.RestartDelayMS = *payload.Helper.RestartDelayMS
		}
	}

	if payload.Speech != nil {
		if payload.Speech.Backend != nil {
			cfg.Speech.Backend = strings.ToLower(strings.TrimSpace(*payload.Speech.Backend))
		}
		if payload.Speech.Command != nil {
			raw := *payload.Speech.Command
			argv, err := parseArgv(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid speech.command: %w", err)
			}
			cfg.Speech.Command = CommandConfig{Raw: raw, Argv: argv}
		}
		if payload.Speech.GRPC != nil {
			cfg.Speech.GRPC = strings.TrimSpace(*payload.Speech.GRPC)
		}
		if payload.Speech.GRPCMethod != nil {
			cfg.Speech.GRPCMethod = strings.TrimSpace(*payload.Speech.GRPCMethod)
		}
		if payload.Speech.TimeoutMS != nil {
			cfg.Speech.TimeoutMS = *payload.Speech.TimeoutMS
		}
		if payload.Speech.QueueSize != nil {
			cfg.Speech.QueueSize = *payload.Speech.QueueSize
		}
	}

	if payload.Chime != nil {
		if payload.Chime.Enable != nil {
			cfg.Chime.Enable = *payload.Chime.Enable
		}
		if payload.Chime.File != nil {
			cfg.Chime.File = strings.TrimSpace(*payload.Chime.File)
		}
	}

	if payload.History != nil {
		if payload.History.Driver != nil {
			cfg.History.Driver = strings.ToLower(strings.TrimSpace(*payload.History.Driver))
		}
		if payload.History.Path != nil {
			cfg.History.Path = strings.TrimSpace(*payload.History.Path)
		}
		if payload.History.Limit != nil {
			cfg.History.Limit = *payload.History.Limit
		}
	}

	if payload.HTTP != nil {
		if payload.HTTP.Listen != nil {
			cfg.HTTP.Listen = strings.TrimSpace(*payload.HTTP.Listen)
		}
		if payload.HTTP.AllowAnyOrigin != nil {
			cfg.HTTP.AllowAnyOrigin = *payload.HTTP.AllowAnyOrigin
			if cfg.HTTP.AllowAnyOrigin {
				warnings = append(warnings, Warning{Message: "http.allow_any_origin disables the websocket same-origin check"})
			}
		}
	}

	if payload.Log != nil && payload.Log.Level != nil {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(*payload.Log.Level))
	}

	return warnings, nil
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
