package config

// DefaultSpeechCommand speaks through speech-dispatcher and blocks until done.
const DefaultSpeechCommand = "spd-say --wait {text}"

// Default returns the canonical runtime configuration used when no file is present.
//
// SettingsPath and History.Path stay empty here; Load resolves them against XDG
// directories.
func Default() Config {
	return Config{
		Helper: HelperConfig{
			RestartDelayMS: 3000,
		},
		Speech: SpeechConfig{
			Backend:    BackendCommand,
			Command:    CommandConfig{Raw: DefaultSpeechCommand, Argv: mustParseArgv(DefaultSpeechCommand)},
			GRPC:       "127.0.0.1:50061",
			GRPCMethod: "/tospeak.v1.Speech/Speak",
			TimeoutMS:  30000,
			QueueSize:  16,
		},
		Chime: ChimeConfig{Enable: false},
		History: HistoryConfig{
			Driver: HistoryMemory,
			Limit:  1000,
		},
		HTTP: HTTPConfig{
			Listen: "127.0.0.1:38120",
		},
		Log: LogConfig{Level: "info"},
	}
}
