package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			URL:       "http://127.0.0.1:8000",
			TimeoutMS: 20000,
		},
		Stream: StreamConfig{
			URL:           "ws://127.0.0.1:8001/v1/stream",
			DialTimeoutMS: 15000,
		},
		Session: SessionConfig{
			Profile:               "alpha",
			DeterministicGreeting: true,
			Quality:               "high",
			ResponseTimeoutMS:     15000,
		},
		Voice: VoiceConfig{
			ID:    "1bd001e7e50f421d891986aad5158bc8",
			Speed: 1.0,
		},
		Audio: AudioConfig{
			Input:        "default",
			Fallback:     "default",
			ChunkMS:      1000,
			VADThreshold: 0.02,
			VADStartMS:   120,
			VADStopMS:    900,
		},
		Transcription: TranscriptionConfig{Enable: true},
		Profiles: ProfilesConfig{
			DoctorMap: map[string]string{
				"sarah":   "alpha",
				"michael": "beta",
				"emily":   "gamma",
				"dexter":  "alpha",
				"ann":     "beta",
				"judy":    "gamma",
			},
			Fallback: "alpha",
		},
		Indicator: IndicatorConfig{
			Enable:         true,
			DesktopAppName: "consult",
			SoundEnable:    true,
		},
		Log: LogConfig{Level: "info"},
	}
}
