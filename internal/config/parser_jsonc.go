package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Backend       *jsoncBackend       `json:"backend"`
	Stream        *jsoncStream        `json:"stream"`
	Session       *jsoncSession       `json:"session"`
	Voice         *jsoncVoice         `json:"voice"`
	Audio         *jsoncAudio         `json:"audio"`
	Transcription *jsoncTranscription `json:"transcription"`
	Profiles      *jsoncProfiles      `json:"profiles"`
	Transcript    *jsoncTranscript    `json:"transcript"`
	Indicator     *jsoncIndicator     `json:"indicator"`
	Metrics       *jsoncMetrics       `json:"metrics"`
	Log           *jsoncLog           `json:"log"`
	Debug         *jsoncDebug         `json:"debug"`
}

type jsoncBackend struct {
	URL       *string `json:"url"`
	TimeoutMS *int    `json:"timeout_ms"`
}

type jsoncStream struct {
	URL           *string `json:"url"`
	DialTimeoutMS *int    `json:"dial_timeout_ms"`
}

type jsoncSession struct {
	Profile               *string `json:"profile"`
	Language              *string `json:"language"`
	DeterministicGreeting *bool   `json:"deterministic_greeting"`
	GreetingTemplate      *string `json:"greeting_template"`
	Quality               *string `json:"quality"`
	ResponseTimeoutMS     *int    `json:"response_timeout_ms"`
}

type jsoncVoice struct {
	ID    *string  `json:"id"`
	Speed *float64 `json:"speed"`
}

type jsoncAudio struct {
	Input        *string  `json:"input"`
	Fallback     *string  `json:"fallback"`
	ChunkMS      *int     `json:"chunk_ms"`
	VADThreshold *float64 `json:"vad_threshold"`
	VADStartMS   *int     `json:"vad_start_ms"`
	VADStopMS    *int     `json:"vad_stop_ms"`
}

type jsoncTranscription struct {
	Enable *bool `json:"enable"`
}

type jsoncProfiles struct {
	DoctorMap map[string]string `json:"doctor_map"`
	Fallback  *string           `json:"fallback"`
}

type jsoncTranscript struct {
	ClipboardCmd *string `json:"clipboard_cmd"`
	Summarize    *bool   `json:"summarize"`
}

type jsoncIndicator struct {
	Enable           *bool   `json:"enable"`
	Desktop          *bool   `json:"desktop"`
	DesktopAppName   *string `json:"desktop_app_name"`
	SoundEnable      *bool   `json:"sound_enable"`
	SoundConnectFile *string `json:"sound_connect_file"`
	SoundMuteFile    *string `json:"sound_mute_file"`
	SoundUnmuteFile  *string `json:"sound_unmute_file"`
	SoundEndFile     *string `json:"sound_end_file"`
}

type jsoncMetrics struct {
	Listen *string `json:"listen"`
}

type jsoncLog struct {
	Level *string `json:"level"`
}

type jsoncDebug struct {
	AudioDump *bool `json:"audio_dump"`
	MediaDump *bool `json:"media_dump"`
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

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func (payload jsoncConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if b := payload.Backend; b != nil {
		setString(&cfg.Backend.URL, b.URL)
		setInt(&cfg.Backend.TimeoutMS, b.TimeoutMS)
	}

	if s := payload.Stream; s != nil {
		setString(&cfg.Stream.URL, s.URL)
		setInt(&cfg.Stream.DialTimeoutMS, s.DialTimeoutMS)
	}

	if s := payload.Session; s != nil {
		setString(&cfg.Session.Profile, s.Profile)
		setString(&cfg.Session.Language, s.Language)
		setBool(&cfg.Session.DeterministicGreeting, s.DeterministicGreeting)
		if s.GreetingTemplate != nil {
			cfg.Session.GreetingTemplate = *s.GreetingTemplate
		}
		setString(&cfg.Session.Quality, s.Quality)
		setInt(&cfg.Session.ResponseTimeoutMS, s.ResponseTimeoutMS)
	}

	if v := payload.Voice; v != nil {
		setString(&cfg.Voice.ID, v.ID)
		setFloat(&cfg.Voice.Speed, v.Speed)
	}

	if a := payload.Audio; a != nil {
		setString(&cfg.Audio.Input, a.Input)
		setString(&cfg.Audio.Fallback, a.Fallback)
		setInt(&cfg.Audio.ChunkMS, a.ChunkMS)
		setFloat(&cfg.Audio.VADThreshold, a.VADThreshold)
		setInt(&cfg.Audio.VADStartMS, a.VADStartMS)
		setInt(&cfg.Audio.VADStopMS, a.VADStopMS)
	}

	if t := payload.Transcription; t != nil {
		setBool(&cfg.Transcription.Enable, t.Enable)
	}

	if p := payload.Profiles; p != nil {
		if p.DoctorMap != nil {
			mapped := make(map[string]string, len(p.DoctorMap))
			for name, profile := range p.DoctorMap {
				key := strings.ToLower(strings.TrimSpace(name))
				if key == "" {
					return nil, fmt.Errorf("profiles.doctor_map contains an empty doctor name")
				}
				mapped[key] = strings.TrimSpace(profile)
			}
			cfg.Profiles.DoctorMap = mapped
		}
		setString(&cfg.Profiles.Fallback, p.Fallback)
	}

	if t := payload.Transcript; t != nil {
		if t.ClipboardCmd != nil {
			raw := *t.ClipboardCmd
			argv, err := parseArgv(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid transcript.clipboard_cmd: %w", err)
			}
			cfg.Transcript.Clipboard = CommandConfig{Raw: raw, Argv: argv}
		}
		setBool(&cfg.Transcript.Summarize, t.Summarize)
	}

	if i := payload.Indicator; i != nil {
		setBool(&cfg.Indicator.Enable, i.Enable)
		setBool(&cfg.Indicator.Desktop, i.Desktop)
		setString(&cfg.Indicator.DesktopAppName, i.DesktopAppName)
		setBool(&cfg.Indicator.SoundEnable, i.SoundEnable)
		setString(&cfg.Indicator.SoundConnectFile, i.SoundConnectFile)
		setString(&cfg.Indicator.SoundMuteFile, i.SoundMuteFile)
		setString(&cfg.Indicator.SoundUnmuteFile, i.SoundUnmuteFile)
		setString(&cfg.Indicator.SoundEndFile, i.SoundEndFile)
	}

	if m := payload.Metrics; m != nil {
		setString(&cfg.Metrics.Listen, m.Listen)
	}

	if l := payload.Log; l != nil {
		setString(&cfg.Log.Level, l.Level)
		cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	}

	if d := payload.Debug; d != nil {
		setBool(&cfg.Debug.AudioDump, d.AudioDump)
		setBool(&cfg.Debug.MediaDump, d.MediaDump)
	}

	return warnings, nil
}

// jsoncScanner tracks whether the cursor sits inside a JSON string literal.
type jsoncScanner struct {
	inString bool
	escape   bool
}

// step consumes ch and reports whether it belongs to a string literal.
func (s *jsoncScanner) step(ch byte) bool {
	if s.inString {
		switch {
		case s.escape:
			s.escape = false
		case ch == '\\':
			s.escape = true
		case ch == '"':
			s.inString = false
		}
		return true
	}
	if ch == '"' {
		s.inString = true
		return true
	}
	return false
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

// stripJSONCComments blanks comments with spaces so decoder offsets keep pointing at the source.
func stripJSONCComments(content string) (string, error) {
	out := []byte(content)
	var scan jsoncScanner

	for i := 0; i < len(out); i++ {
		if scan.step(out[i]) || out[i] != '/' || i+1 >= len(out) {
			continue
		}

		switch out[i+1] {
		case '/':
			for i < len(out) && out[i] != '\n' && out[i] != '\r' {
				out[i] = ' '
				i++
			}
		case '*':
			out[i], out[i+1] = ' ', ' '
			i += 2
			closed := false
			for ; i < len(out); i++ {
				if out[i] == '*' && i+1 < len(out) && out[i+1] == '/' {
					out[i], out[i+1] = ' ', ' '
					i++
					closed = true
					break
				}
				if !isJSONWhitespace(out[i]) {
					out[i] = ' '
				}
			}
			if !closed {
				return "", fmt.Errorf("unterminated block comment in JSONC")
			}
		}
	}

	return string(out), nil
}

func stripJSONCTrailingCommas(content string) string {
	out := []byte(content)
	var scan jsoncScanner

	for i := 0; i < len(out); i++ {
		if scan.step(out[i]) || out[i] != ',' {
			continue
		}
		j := i + 1
		for j < len(out) && isJSONWhitespace(out[j]) {
			j++
		}
		if j < len(out) && (out[j] == '}' || out[j] == ']') {
			out[i] = ' '
		}
	}

	return string(out)
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

	limit := min(int(offset), len(content))
	prefix := content[:max(limit-1, 0)]
	line := strings.Count(prefix, "\n") + 1
	col := len(prefix) - strings.LastIndexByte(prefix, '\n')
	return line, col
}
