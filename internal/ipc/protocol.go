package ipc

import "github.com/rbright/tospeak/internal/notification"

// Commands understood by the daemon.
const (
	CommandStatus = "status"
	CommandReload = "reload"
	CommandSpeak  = "speak"
	CommandNotify = "notify"
	CommandStop   = "stop"
)

type Request struct {
	Command string                `json:"command"`
	Text    string                `json:"text,omitempty"`
	Message *notification.Message `json:"message,omitempty"`
}

type Response struct {
	OK      bool    `json:"ok"`
	State   string  `json:"state,omitempty"`
	Message string  `json:"message,omitempty"`
	Error   string  `json:"error,omitempty"`
	Outcome string  `json:"outcome,omitempty"`
	Text    string  `json:"text,omitempty"`
	Status  *Status `json:"status,omitempty"`
}

// Status is the daemon snapshot returned by the status command.
type Status struct {
	PID         int    `json:"pid"`
	StartedAt   string `json:"started_at"`
	HelperState string `json:"helper_state"`
	Backend     string `json:"backend"`
	VoiceName   string `json:"voice_name,omitempty"`
	Volume      int    `json:"volume"`
	QueueDepth  int    `json:"queue_depth"`
	Voices      int    `json:"voices"`
	History     int    `json:"history"`
	LastSpoken  string `json:"last_spoken,omitempty"`
}
