package config

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
)

var validQualities = map[string]struct{}{"low": {}, "medium": {}, "high": {}}

var validLogLevels = map[string]struct{}{"debug": {}, "info": {}, "warn": {}, "error": {}}

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if err := validateURL("backend.url", cfg.Backend.URL, "http", "https"); err != nil {
		return nil, err
	}
	if cfg.Backend.TimeoutMS <= 0 {
		return nil, fmt.Errorf("backend.timeout_ms must be > 0")
	}
	if err := validateURL("stream.url", cfg.Stream.URL, "ws", "wss"); err != nil {
		return nil, err
	}
	if cfg.Stream.DialTimeoutMS <= 0 {
		return nil, fmt.Errorf("stream.dial_timeout_ms must be > 0")
	}

	if strings.TrimSpace(cfg.Session.Profile) == "" {
		return nil, fmt.Errorf("session.profile must not be empty")
	}
	if _, ok := validQualities[strings.ToLower(cfg.Session.Quality)]; !ok {
		return nil, fmt.Errorf("session.quality must be one of: low, medium, high")
	}
	if cfg.Session.ResponseTimeoutMS < 0 {
		return nil, fmt.Errorf("session.response_timeout_ms must be >= 0")
	}
	if cfg.Session.GreetingTemplate != "" {
		if !cfg.Session.DeterministicGreeting {
			warnings = append(warnings, Warning{Message: "session.greeting_template is ignored when session.deterministic_greeting=false"})
		} else if !strings.Contains(cfg.Session.GreetingTemplate, "{user_name}") {
			warnings = append(warnings, Warning{Message: "session.greeting_template does not reference {user_name}"})
		}
	}

	if strings.TrimSpace(cfg.Voice.ID) == "" {
		return nil, fmt.Errorf("voice.id must not be empty")
	}
	if cfg.Voice.Speed < 0.5 || cfg.Voice.Speed > 1.5 {
		return nil, fmt.Errorf("voice.speed must be between 0.5 and 1.5")
	}

	if cfg.Audio.ChunkMS < 100 || cfg.Audio.ChunkMS > 10000 {
		return nil, fmt.Errorf("audio.chunk_ms must be between 100 and 10000")
	}
	if cfg.Audio.VADThreshold <= 0 || cfg.Audio.VADThreshold >= 1 {
		return nil, fmt.Errorf("audio.vad_threshold must be > 0 and < 1")
	}
	if cfg.Audio.VADStartMS < 0 {
		return nil, fmt.Errorf("audio.vad_start_ms must be >= 0")
	}
	if cfg.Audio.VADStopMS <= 0 {
		return nil, fmt.Errorf("audio.vad_stop_ms must be > 0")
	}

	if strings.TrimSpace(cfg.Profiles.Fallback) == "" {
		return nil, fmt.Errorf("profiles.fallback must not be empty")
	}
	names := make([]string, 0, len(cfg.Profiles.DoctorMap))
	for name := range cfg.Profiles.DoctorMap {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if strings.TrimSpace(cfg.Profiles.DoctorMap[name]) == "" {
			return nil, fmt.Errorf("profiles.doctor_map[%q] must not be empty", name)
		}
	}

	if cfg.Transcript.Clipboard.Raw != "" && len(cfg.Transcript.Clipboard.Argv) == 0 {
		return nil, fmt.Errorf("transcript.clipboard_cmd is configured but empty")
	}

	if cfg.Indicator.Desktop && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.desktop=true")
	}

	if listen := strings.TrimSpace(cfg.Metrics.Listen); listen != "" {
		host, _, err := net.SplitHostPort(listen)
		if err != nil {
			return nil, fmt.Errorf("metrics.listen %q: %w", listen, err)
		}
		if host == "" || host == "0.0.0.0" || host == "::" {
			warnings = append(warnings, Warning{Message: fmt.Sprintf("metrics.listen %q exposes metrics on all interfaces", listen)})
		}
	}

	if _, ok := validLogLevels[cfg.Log.Level]; !ok {
		return nil, fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	if !cfg.Transcription.Enable && cfg.Debug.AudioDump {
		warnings = append(warnings, Warning{Message: "debug.audio_dump only records windows sent for transcription"})
	}

	return warnings, nil
}

func validateURL(name string, raw string, schemes ...string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%s must not be empty", name)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	for _, scheme := range schemes {
		if parsed.Scheme == scheme {
			if parsed.Host == "" {
				return fmt.Errorf("%s must include a host", name)
			}
			return nil
		}
	}
	return fmt.Errorf("%s must use one of: %s", name, strings.Join(schemes, ", "))
}
