package miniaudio

import "testing"

func TestMatchDevice(t *testing.T) {
	t.Parallel()

	names := []string{
		"Built-in Audio Analog Stereo",
		"USB PnP Sound Device Mono",
		"HDA Intel PCH ALC3204 Analog",
	}

	tests := []struct {
		name    string
		want    string
		wantIdx int
		wantOK  bool
	}{
		{name: "substring match", want: "USB", wantIdx: 1, wantOK: true},
		{name: "case insensitive", want: "usb pnp", wantIdx: 1, wantOK: true},
		{name: "first match wins", want: "Analog", wantIdx: 0, wantOK: true},
		{name: "exact full name", want: "HDA Intel PCH ALC3204 Analog", wantIdx: 2, wantOK: true},
		{name: "no match", want: "Bluetooth", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			idx, ok := matchDevice(names, tt.want)
			if ok != tt.wantOK {
				t.Fatalf("matchDevice(%q) ok = %v, want %v", tt.want, ok, tt.wantOK)
			}
			if ok && idx != tt.wantIdx {
				t.Errorf("matchDevice(%q) = %d, want %d", tt.want, idx, tt.wantIdx)
			}
		})
	}
}
