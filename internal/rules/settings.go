// Package rules holds the user-editable speech rules and their matching semantics.
package rules

// DefaultSpeechTemplate joins app, title and body with the Japanese list separator.
const DefaultSpeechTemplate = "{app}、{title}、{text}"

const (
	VolumeMin = 0
	VolumeMax = 100
)

// Replacement is one ordered find/replace transform applied to the spoken text.
type Replacement struct {
	From    string `json:"from"`
	To      string `json:"to"`
	IsRegex bool   `json:"isRegex,omitempty"`
}

// BlockRule suppresses speech for notifications whose specified fields all match.
type BlockRule struct {
	App          string `json:"app,omitempty"`
	AppID        string `json:"app_id,omitempty"`
	AppIsRegex   bool   `json:"appIsRegex,omitempty"`
	AppIDIsRegex bool   `json:"appIdIsRegex,omitempty"`
	Title        string `json:"title,omitempty"`
	TitleIsRegex bool   `json:"titleIsRegex,omitempty"`
	Text         string `json:"text,omitempty"`
	TextIsRegex  bool   `json:"textIsRegex,omitempty"`
}

// Empty reports whether the rule specifies no field at all.
func (r BlockRule) Empty() bool {
	return r.App == "" && r.AppID == "" && r.Title == "" && r.Text == ""
}

// Compact drops regex flags whose field is unset.
func (r BlockRule) Compact() BlockRule {
	if r.App == "" {
		r.AppIsRegex = false
	}
	if r.AppID == "" {
		r.AppIDIsRegex = false
	}
	if r.Title == "" {
		r.TitleIsRegex = false
	}
	if r.Text == "" {
		r.TextIsRegex = false
	}
	return r
}

// Settings is one immutable snapshot of the rule store.
type Settings struct {
	SpeechTemplate                     string        `json:"speechTemplate"`
	Replacements                       []Replacement `json:"replacements"`
	BlockedApps                        []BlockRule   `json:"blockedApps"`
	MaxTextLength                      int           `json:"maxTextLength"`
	ConsecutiveCharMinLength           int           `json:"consecutiveCharMinLength"`
	VoiceName                          string        `json:"voiceName,omitempty"`
	Volume                             int           `json:"volume"`
	DuplicateNotificationIgnoreSeconds int           `json:"duplicateNotificationIgnoreSeconds"`
}

// Default returns the first-run settings.
func Default() Settings {
	return Settings{
		SpeechTemplate:                     DefaultSpeechTemplate,
		Replacements:                       []Replacement{},
		BlockedApps:                        []BlockRule{},
		MaxTextLength:                      100,
		ConsecutiveCharMinLength:           3,
		VoiceName:                          "",
		Volume:                             20,
		DuplicateNotificationIgnoreSeconds: 30,
	}
}

// Clone returns a deep copy so callers can mutate without touching shared snapshots.
func (s Settings) Clone() Settings {
	out := s
	out.Replacements = append([]Replacement{}, s.Replacements...)
	out.BlockedApps = append([]BlockRule{}, s.BlockedApps...)
	return out
}

// Sanitized clamps numeric fields into their documented ranges.
func (s Settings) Sanitized() Settings {
	out := s.Clone()
	if out.MaxTextLength < 0 {
		out.MaxTextLength = 0
	}
	if out.ConsecutiveCharMinLength < 0 {
		out.ConsecutiveCharMinLength = 0
	}
	if out.DuplicateNotificationIgnoreSeconds < 0 {
		out.DuplicateNotificationIgnoreSeconds = 0
	}
	out.Volume = ClampVolume(out.Volume)
	return out
}

// ClampVolume bounds v to [VolumeMin, VolumeMax].
func ClampVolume(v int) int {
	if v < VolumeMin {
		return VolumeMin
	}
	if v > VolumeMax {
		return VolumeMax
	}
	return v
}

// SpeechEnabled reports whether a voice has been selected.
func (s Settings) SpeechEnabled() bool {
	return s.VoiceName != ""
}
