// Package cli parses consult's command line.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandStart         Command = "start"
	CommandStop          Command = "stop"
	CommandMute          Command = "mute"
	CommandTranscription Command = "transcription"
	CommandStatus        Command = "status"
	CommandTranscript    Command = "transcript"
	CommandProfiles      Command = "profiles"
	CommandDevices       Command = "devices"
	CommandDoctor        Command = "doctor"
	CommandVersion       Command = "version"
	CommandHelp          Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandStart:         {},
	CommandStop:          {},
	CommandMute:          {},
	CommandTranscription: {},
	CommandStatus:        {},
	CommandTranscript:    {},
	CommandProfiles:      {},
	CommandDevices:       {},
	CommandDoctor:        {},
	CommandVersion:       {},
	CommandHelp:          {},
}

// StartOptions are the flags accepted by start.
type StartOptions struct {
	Profile         string
	Name            string
	UID             string
	NoTranscription bool
	Muted           bool
}

type Parsed struct {
	Command    Command
	ConfigPath string
	ShowHelp   bool
	Start      StartOptions
}

// Parse reads global flags, one command, and the command's own flags.
func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	i := 0
	for ; i < len(args); i++ {
		arg := args[i]
		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
			continue
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
			continue
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
			continue
		}
		if strings.HasPrefix(arg, "-") {
			return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
		}

		cmd := Command(arg)
		if _, ok := validCommands[cmd]; !ok {
			return Parsed{}, fmt.Errorf("unknown command: %s", arg)
		}
		parsed.Command = cmd
		parsed.ShowHelp = cmd == CommandHelp
		i++
		break
	}

	rest := args[min(i, len(args)):]
	if parsed.Command == CommandStart {
		opts, err := parseStart(rest)
		if err != nil {
			return Parsed{}, err
		}
		parsed.Start = opts
		return parsed, nil
	}
	if len(rest) > 0 {
		return Parsed{}, fmt.Errorf("unexpected arguments after command %q", parsed.Command)
	}
	return parsed, nil
}

func parseStart(args []string) (StartOptions, error) {
	var opts StartOptions
	value := func(i int, flag string) (string, error) {
		if i >= len(args) || strings.TrimSpace(args[i]) == "" {
			return "", fmt.Errorf("%s requires a value", flag)
		}
		return args[i], nil
	}

	for i := 0; i < len(args); i++ {
		var err error
		switch flag := args[i]; flag {
		case "--profile":
			i++
			opts.Profile, err = value(i, flag)
		case "--name":
			i++
			opts.Name, err = value(i, flag)
		case "--uid":
			i++
			opts.UID, err = value(i, flag)
		case "--no-transcription":
			opts.NoTranscription = true
		case "--muted":
			opts.Muted = true
		default:
			err = fmt.Errorf("unknown start flag: %s", flag)
		}
		if err != nil {
			return StartOptions{}, err
		}
	}
	if opts.Name != "" && opts.UID != "" {
		return StartOptions{}, errors.New("--name and --uid are mutually exclusive")
	}
	return opts, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command> [flags]

Commands:
  start          Open a session and run until stopped
                   --profile ID         avatar profile (default: session.profile)
                   --name NAME          participant display name
                   --uid UID            look up the participant through the backend
                   --no-transcription   stream audio directly to the agent
                   --muted              start with the microphone muted
  stop           End the running session
  mute           Toggle microphone mute (deferred while the agent speaks)
  transcription  Toggle backend transcription for the next capture window
  status         Print the running session state
  transcript     Print the running session transcript
  profiles       List backend avatar profiles
  devices        List available input devices
  doctor         Run configuration and environment checks
  version        Print version information
  help           Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/consult/config.jsonc)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
