package miniaudio

import (
	"fmt"
	"strings"

	"github.com/gen2brain/malgo"
)

// Option configures a [CaptureDevice] or [PlayerDevice].
type Option func(*options)

type options struct {
	deviceName string
}

// WithDeviceName selects the hardware device by name instead of using the
// system default. Matching is a case-insensitive substring match against
// the backend's device list, so a config can say "USB" instead of the full
// ALSA identifier. An empty name keeps the default device.
func WithDeviceName(name string) Option {
	return func(o *options) { o.deviceName = name }
}

// findDeviceID resolves a configured device name against the backend's
// device list for the given kind.
func findDeviceID(mctx *malgo.AllocatedContext, kind malgo.DeviceType, name string) (malgo.DeviceID, error) {
	infos, err := mctx.Devices(kind)
	if err != nil {
		return malgo.DeviceID{}, fmt.Errorf("miniaudio: enumerate devices: %w", err)
	}

	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
	}
	idx, ok := matchDevice(names, name)
	if !ok {
		return malgo.DeviceID{}, fmt.Errorf("miniaudio: no device matching %q (available: %s)",
			name, strings.Join(names, ", "))
	}
	return infos[idx].ID, nil
}

// matchDevice returns the index of the first name containing want,
// case-insensitive.
func matchDevice(names []string, want string) (int, bool) {
	want = strings.ToLower(want)
	for i, name := range names {
		if strings.Contains(strings.ToLower(name), want) {
			return i, true
		}
	}
	return 0, false
}
