package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandRun      Command = "run"
	CommandStatus   Command = "status"
	CommandReload   Command = "reload"
	CommandSpeak    Command = "speak"
	CommandNotify   Command = "notify"
	CommandCompile  Command = "compile"
	CommandSettings Command = "settings"
	CommandImport   Command = "import"
	CommandExport   Command = "export"
	CommandReset    Command = "reset"
	CommandStop     Command = "stop"
	CommandDoctor   Command = "doctor"
	CommandVersion  Command = "version"
	CommandHelp     Command = "help"
)

// validCommands maps each command to whether it takes exactly one positional argument.
var validCommands = map[Command]bool{
	CommandRun:      false,
	CommandStatus:   false,
	CommandReload:   false,
	CommandSpeak:    true,
	CommandNotify:   false,
	CommandCompile:  false,
	CommandSettings: false,
	CommandImport:   true,
	CommandExport:   true,
	CommandReset:    false,
	CommandStop:     false,
	CommandDoctor:   false,
	CommandVersion:  false,
	CommandHelp:     false,
}

type Parsed struct {
	Command    Command
	Arg        string
	ConfigPath string
	ShowHelp   bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			wantsArg, ok := validCommands[cmd]
			if !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			rest := args[i+1:]
			if wantsArg {
				if len(rest) != 1 {
					return Parsed{}, fmt.Errorf("command %q requires exactly one argument", arg)
				}
				parsed.Arg = rest[0]
				return parsed, nil
			}
			if len(rest) != 0 {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}
			return parsed, nil
		}
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command> [arg]

Commands:
  run           Run the notification reader daemon
  status        Print daemon status
  reload        Re-read the settings file in the running daemon
  speak TEXT    Speak TEXT through the running daemon
  notify        Forward JSON notification lines from stdin to the daemon
  compile       Compile one JSON notification from stdin and print the sentence
  settings      Print the current settings and any rule warnings
  import PATH   Replace settings with the document at PATH ("-" for stdin)
  export PATH   Write settings to PATH ("-" for stdout)
  reset         Restore default settings
  stop          Stop the running daemon
  doctor        Run configuration and environment checks
  version       Print version information
  help          Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/tospeak/config.jsonc)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
