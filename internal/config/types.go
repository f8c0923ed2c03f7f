// Package config resolves, parses, validates, and defaults consult configuration.
package config

// Config is the fully materialized runtime configuration used by consult.
type Config struct {
	Backend       BackendConfig
	Stream        StreamConfig
	Session       SessionConfig
	Voice         VoiceConfig
	Audio         AudioConfig
	Transcription TranscriptionConfig
	Profiles      ProfilesConfig
	Transcript    TranscriptConfig
	Indicator     IndicatorConfig
	Metrics       MetricsConfig
	Log           LogConfig
	Debug         DebugConfig
}

// BackendConfig locates the HTTP backend that mints sessions and processes audio.
type BackendConfig struct {
	URL       string
	TimeoutMS int
}

// StreamConfig locates the remote avatar streaming service.
type StreamConfig struct {
	URL           string
	DialTimeoutMS int
}

// SessionConfig controls the session open request and turn pacing.
type SessionConfig struct {
	Profile               string
	Language              string
	DeterministicGreeting bool
	GreetingTemplate      string
	Quality               string
	ResponseTimeoutMS     int
}

// VoiceConfig selects the agent voice used for synthesis.
type VoiceConfig struct {
	ID    string
	Speed float64
}

// AudioConfig controls input-source selection, chunking, and local endpointing.
type AudioConfig struct {
	Input        string
	Fallback     string
	ChunkMS      int
	VADThreshold float64
	VADStartMS   int
	VADStopMS    int
}

// TranscriptionConfig controls whether captured audio goes through the backend transcriber.
type TranscriptionConfig struct {
	Enable bool
}

// ProfilesConfig maps assigned doctor names onto backend avatar profile IDs.
type ProfilesConfig struct {
	DoctorMap map[string]string
	Fallback  string
}

// TranscriptConfig controls what happens with the transcript when a session ends.
type TranscriptConfig struct {
	Clipboard CommandConfig
	Summarize bool
}

// IndicatorConfig controls status rendering and audio cue behavior.
type IndicatorConfig struct {
	Enable           bool
	Desktop          bool
	DesktopAppName   string
	SoundEnable      bool
	SoundConnectFile string
	SoundMuteFile    string
	SoundUnmuteFile  string
	SoundEndFile     string
}

// MetricsConfig controls the optional Prometheus exporter.
type MetricsConfig struct {
	Listen string
}

// LogConfig controls runtime log verbosity.
type LogConfig struct {
	Level string
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	AudioDump bool
	MediaDump bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
