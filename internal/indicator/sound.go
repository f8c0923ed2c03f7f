package indicator

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jfreymuth/pulse"

	"github.com/rbright/consult/internal/config"
)

type cueKind int

const (
	cueConnect cueKind = iota + 1
	cueMute
	cueUnmute
	cueEnd
)

const (
	cueSampleRate = 16000
	cueVolume     = 0.16
	cueGap        = 22 * time.Millisecond
	cueRamp       = 5 * time.Millisecond
	cueFileLimit  = 4 * time.Second
)

type toneSpec struct {
	frequencyHz float64
	duration    time.Duration
	volume      float64
}

func tone(hz float64, ms int) toneSpec {
	return toneSpec{frequencyHz: hz, duration: time.Duration(ms) * time.Millisecond, volume: cueVolume}
}

// cue pairs a synthesized fallback with the config field that may override it.
type cue struct {
	pcm  []int16
	file func(config.IndicatorConfig) string
}

// Connect rises, end falls; mute and unmute are single tones a fifth apart.
var cues = map[cueKind]cue{
	cueConnect: {
		pcm:  synthesizeCue([]toneSpec{tone(660, 80), tone(880, 80), tone(1320, 110)}),
		file: func(c config.IndicatorConfig) string { return c.SoundConnectFile },
	},
	cueMute: {
		pcm:  synthesizeCue([]toneSpec{tone(520, 90)}),
		file: func(c config.IndicatorConfig) string { return c.SoundMuteFile },
	},
	cueUnmute: {
		pcm:  synthesizeCue([]toneSpec{tone(780, 90)}),
		file: func(c config.IndicatorConfig) string { return c.SoundUnmuteFile },
	},
	cueEnd: {
		pcm:  synthesizeCue([]toneSpec{tone(880, 80), tone(587, 80), tone(392, 140)}),
		file: func(c config.IndicatorConfig) string { return c.SoundEndFile },
	},
}

// emitCue plays the configured cue file, or the synthesized tone when no file
// is set or it cannot be played.
func emitCue(kind cueKind, cfg config.IndicatorConfig) error {
	if path := cuePath(kind, cfg); path != "" && playCueFile(path) == nil {
		return nil
	}
	if samples := cueSamples(kind); len(samples) > 0 {
		return playSynthCue(samples)
	}
	return nil
}

func cueSamples(kind cueKind) []int16 {
	return cues[kind].pcm
}

func cuePath(kind cueKind, cfg config.IndicatorConfig) string {
	c, ok := cues[kind]
	if !ok {
		return ""
	}
	return expandUserPath(c.file(cfg))
}

func expandUserPath(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw != "~" && !strings.HasPrefix(raw, "~/") {
		return raw
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return raw
	}
	return filepath.Join(home, strings.TrimPrefix(raw[1:], "/"))
}

func playCueFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("stat cue file %q: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cueFileLimit)
	defer cancel()
	if err := exec.CommandContext(ctx, "pw-play", "--media-role", "Notification", path).Run(); err != nil {
		return fmt.Errorf("play cue file %q: %w", path, err)
	}
	return nil
}

func playSynthCue(samples []int16) error {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("consult"),
		pulse.ClientApplicationIconName("call-start"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	remaining := samples
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		n := copy(buf, remaining)
		remaining = remaining[n:]
		if len(remaining) == 0 {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	stream, err := client.NewPlayback(reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(cueSampleRate),
		pulse.PlaybackLatency(0.02),
		pulse.PlaybackMediaName("consult session cue"),
	)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play cue stream: %w", err)
	}
	return nil
}

// synthesizeCue joins tones with a short silence between them.
func synthesizeCue(parts []toneSpec) []int16 {
	var pcm []int16
	gap := make([]int16, samplesForDuration(cueGap))
	for i, part := range parts {
		if i > 0 {
			pcm = append(pcm, gap...)
		}
		pcm = append(pcm, synthesizeTone(part)...)
	}
	return pcm
}

// synthesizeTone renders a sine with a linear ramp at both ends, so every
// tone starts and stops on a zero sample.
func synthesizeTone(spec toneSpec) []int16 {
	n := samplesForDuration(spec.duration)
	if n <= 0 || spec.frequencyHz <= 0 || spec.volume <= 0 {
		return nil
	}
	ramp := max(1, min(n/10, samplesForDuration(cueRamp)))

	pcm := make([]int16, n)
	step := 2 * math.Pi * spec.frequencyHz / cueSampleRate
	for i := range pcm {
		edge := min(i, n-1-i)
		gain := spec.volume
		if edge < ramp {
			gain *= float64(edge) / float64(ramp)
		}
		pcm[i] = int16(math.Round(math.Sin(step*float64(i)) * gain * math.MaxInt16))
	}
	return pcm
}

func samplesForDuration(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * cueSampleRate))
}
