// Package audio captures microphone PCM from PulseAudio into chunked capture windows.
package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const clientName = "consult"

// Device describes one Pulse input source.
type Device struct {
	ID          string
	Description string
	State       string
	Available   bool
	Muted       bool
	Default     bool
}

// String formats the device for logs and session results.
func (d Device) String() string {
	description := strings.TrimSpace(d.Description)
	id := strings.TrimSpace(d.ID)
	switch {
	case description == "":
		return id
	case id == "":
		return description
	default:
		return fmt.Sprintf("%s (%s)", description, id)
	}
}

// usable reports whether capture from d can produce audio.
func (d Device) usable() bool {
	return d.Available && !d.Muted
}

// Selection is the resolved capture source plus fallback context.
type Selection struct {
	Device   Device
	Warning  string
	Fallback bool
}

func newPulseClient() (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName(clientName),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	return client, nil
}

// ListDevices returns Pulse input sources with default/availability metadata.
func ListDevices(_ context.Context) ([]Device, error) {
	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	defaultSource, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}

	var infos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &infos); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		if info == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          info.SourceName,
			Description: info.Device,
			State:       sourceStateString(info.State),
			Available:   sourceAvailable(info),
			Muted:       info.Mute,
			Default:     info.SourceName == defaultSource.ID(),
		})
	}
	return devices, nil
}

// SelectDevice resolves the preferred input and fallback against live devices.
func SelectDevice(ctx context.Context, input string, fallback string) (Selection, error) {
	devices, err := ListDevices(ctx)
	if err != nil {
		return Selection{}, err
	}
	return selectDeviceFromList(devices, input, fallback)
}

// selectDeviceFromList applies the selection policy to a fetched device list.
//
// "default" or an empty term selects the server default source. A primary
// device that is muted or unavailable is replaced by the fallback term, or by
// the default source when no explicit fallback is configured.
func selectDeviceFromList(devices []Device, input string, fallback string) (Selection, error) {
	if len(devices) == 0 {
		return Selection{}, errors.New("no audio input devices found")
	}

	input = normalizeTerm(input)
	fallback = normalizeTerm(fallback)

	primary, err := resolveTerm(devices, input)
	if err != nil {
		return Selection{}, fmt.Errorf("audio.input %q did not match any device", input)
	}
	if primary == nil {
		return Selection{}, errors.New("default audio source is unavailable")
	}
	if primary.usable() {
		return Selection{Device: *primary}, nil
	}

	reason := "unavailable"
	if primary.Muted {
		reason = "muted"
	}

	replacement, err := resolveTerm(devices, fallback)
	switch {
	case err != nil:
		return Selection{}, fmt.Errorf("primary input %q is %s and fallback %q not found", primary.ID, reason, fallback)
	case replacement == nil:
		return Selection{}, fmt.Errorf("primary input %q is %s and no usable fallback: default audio source is unavailable", primary.ID, reason)
	case !replacement.Available:
		return Selection{}, fmt.Errorf("audio fallback device %q is not available", replacement.ID)
	case replacement.Muted:
		return Selection{}, fmt.Errorf("audio fallback device %q is muted", replacement.ID)
	}

	return Selection{
		Device:   *replacement,
		Warning:  fmt.Sprintf("audio.input %q is %s; falling back to %q", primary.ID, reason, replacement.ID),
		Fallback: primary.ID != replacement.ID,
	}, nil
}

// normalizeTerm lowercases a search term and maps "default" to "".
func normalizeTerm(term string) string {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "default" {
		return ""
	}
	return term
}

// resolveTerm returns the default device for an empty term, or the first
// device matching term. A nil device with nil error means no default exists.
func resolveTerm(devices []Device, term string) (*Device, error) {
	for i := range devices {
		dev := &devices[i]
		if term == "" && dev.Default {
			return dev, nil
		}
		if term != "" && deviceMatches(*dev, term) {
			return dev, nil
		}
	}
	if term == "" {
		return nil, nil
	}
	return nil, fmt.Errorf("no device matches %q", term)
}

// deviceMatches reports whether term is a substring of the device id or description.
func deviceMatches(device Device, term string) bool {
	if term == "" {
		return false
	}
	return strings.Contains(strings.ToLower(device.ID), term) ||
		strings.Contains(strings.ToLower(device.Description), term)
}

func sourceStateString(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

// sourceAvailable maps Pulse port availability to a boolean.
func sourceAvailable(source *pulseproto.GetSourceInfoReply) bool {
	if source == nil {
		return false
	}
	for _, port := range source.Ports {
		if port.Name == source.ActivePortName {
			// unknown=0, no=1, yes=2
			return port.Available != 1
		}
	}
	return true
}
