package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/rbright/tospeak/internal/rules"
)

// ErrInvalidDocument marks settings input that is not a single valid JSON document.
var ErrInvalidDocument = errors.New("invalid settings document")

// filePayload mirrors rules.Settings with optional fields so absent keys keep defaults.
type filePayload struct {
	SpeechTemplate                     *string              `json:"speechTemplate"`
	Replacements                       *[]rules.Replacement `json:"replacements"`
	BlockedApps                        *[]rules.BlockRule   `json:"blockedApps"`
	MaxTextLength                      *int                 `json:"maxTextLength"`
	ConsecutiveCharMinLength           *int                 `json:"consecutiveCharMinLength"`
	VoiceName                          *string              `json:"voiceName"`
	Volume                             *int                 `json:"volume"`
	DuplicateNotificationIgnoreSeconds *int                 `json:"duplicateNotificationIgnoreSeconds"`
}

func (payload filePayload) applyTo(s *rules.Settings) {
	if payload.SpeechTemplate != nil {
		s.SpeechTemplate = *payload.SpeechTemplate
	}
	if payload.Replacements != nil {
		s.Replacements = append([]rules.Replacement{}, (*payload.Replacements)...)
	}
	if payload.BlockedApps != nil {
		s.BlockedApps = append([]rules.BlockRule{}, (*payload.BlockedApps)...)
	}
	if payload.MaxTextLength != nil {
		s.MaxTextLength = *payload.MaxTextLength
	}
	if payload.ConsecutiveCharMinLength != nil {
		s.ConsecutiveCharMinLength = *payload.ConsecutiveCharMinLength
	}
	if payload.VoiceName != nil {
		s.VoiceName = *payload.VoiceName
	}
	if payload.Volume != nil {
		s.Volume = *payload.Volume
	}
	if payload.DuplicateNotificationIgnoreSeconds != nil {
		s.DuplicateNotificationIgnoreSeconds = *payload.DuplicateNotificationIgnoreSeconds
	}
}

// Decode reads one settings document and merges it over the defaults.
// List fields present in the document replace the defaults entirely.
func Decode(r io.Reader) (rules.Settings, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return rules.Settings{}, fmt.Errorf("read settings: %w", err)
	}
	return decodeBytes(data)
}

func decodeBytes(data []byte) (rules.Settings, error) {
	return decodeOnto(rules.Default(), data)
}

// decodeOnto merges one document over base. An empty document yields base.
func decodeOnto(base rules.Settings, data []byte) (rules.Settings, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return base.Sanitized(), nil
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	var payload filePayload
	if err := decoder.Decode(&payload); err != nil {
		return rules.Settings{}, wrapDecodeError(data, err)
	}
	var extra struct{}
	if err := decoder.Decode(&extra); !errors.Is(err, io.EOF) {
		if err == nil {
			return rules.Settings{}, fmt.Errorf("%w: multiple JSON values are not allowed", ErrInvalidDocument)
		}
		return rules.Settings{}, wrapDecodeError(data, err)
	}

	s := base.Clone()
	payload.applyTo(&s)
	return s.Sanitized(), nil
}

func wrapDecodeError(data []byte, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(data, syntaxErr.Offset)
		return fmt.Errorf("%w: line %d column %d: %w", ErrInvalidDocument, line, col, err)
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(data, typeErr.Offset)
		return fmt.Errorf("%w: line %d column %d: %w", ErrInvalidDocument, line, col, err)
	}
	return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
}

func offsetToLineCol(data []byte, offset int64) (int, int) {
	line, col := 1, 1
	for i := int64(0); i < offset-1 && i < int64(len(data)); i++ {
		if data[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}

// compactSettings is the persisted form: defaults and unset rule fields are omitted.
type compactSettings struct {
	SpeechTemplate                     string              `json:"speechTemplate"`
	Replacements                       []rules.Replacement `json:"replacements"`
	BlockedApps                        []rules.BlockRule   `json:"blockedApps"`
	MaxTextLength                      *int                `json:"maxTextLength,omitempty"`
	ConsecutiveCharMinLength           *int                `json:"consecutiveCharMinLength,omitempty"`
	VoiceName                          string              `json:"voiceName,omitempty"`
	Volume                             *int                `json:"volume,omitempty"`
	DuplicateNotificationIgnoreSeconds *int                `json:"duplicateNotificationIgnoreSeconds,omitempty"`
}

func compact(s rules.Settings) compactSettings {
	defaults := rules.Default()
	out := compactSettings{
		SpeechTemplate: s.SpeechTemplate,
		Replacements:   append([]rules.Replacement{}, s.Replacements...),
		BlockedApps:    make([]rules.BlockRule, 0, len(s.BlockedApps)),
		VoiceName:      s.VoiceName,
	}
	for _, r := range s.BlockedApps {
		out.BlockedApps = append(out.BlockedApps, r.Compact())
	}
	out.MaxTextLength = unlessDefault(s.MaxTextLength, defaults.MaxTextLength)
	out.ConsecutiveCharMinLength = unlessDefault(s.ConsecutiveCharMinLength, defaults.ConsecutiveCharMinLength)
	out.Volume = unlessDefault(s.Volume, defaults.Volume)
	out.DuplicateNotificationIgnoreSeconds = unlessDefault(s.DuplicateNotificationIgnoreSeconds, defaults.DuplicateNotificationIgnoreSeconds)
	return out
}

func unlessDefault(v, def int) *int {
	if v == def {
		return nil
	}
	return &v
}

// Encode writes s in the compact, indented persisted form.
func Encode(w io.Writer, s rules.Settings) error {
	data, err := encodeBytes(s)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func encodeBytes(s rules.Settings) ([]byte, error) {
	data, err := json.MarshalIndent(compact(s), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	return append(data, '\n'), nil
}

func hashSettings(s rules.Settings) uint64 {
	data, err := encodeBytes(s)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(data)
}
