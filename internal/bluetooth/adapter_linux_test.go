//go:build linux

package bluetooth

import "testing"

func TestParseBluetoothctlDevices(t *testing.T) {
	out := `Device AA:BB:CC:DD:EE:FF TiMini Printer
Device 11:22:33:44:55:66 P21
[NEW] Device 99:99:99:99:99:99 noise line
Device 77:88:99:AA:BB:CC
not a device line
`
	devices := parseBluetoothctlDevices(out)
	if len(devices) != 3 {
		t.Fatalf("expected 3 devices, got %d: %+v", len(devices), devices)
	}
	if devices[0].Address != "AA:BB:CC:DD:EE:FF" || devices[0].Name != "TiMini Printer" {
		t.Errorf("unexpected first device: %+v", devices[0])
	}
	if devices[2].Address != "77:88:99:AA:BB:CC" || devices[2].Name != "" {
		t.Errorf("nameless device should keep empty name: %+v", devices[2])
	}
}

func TestParseSdptoolChannelPrefersSerialService(t *testing.T) {
	out := `Service Name: OBEX Object Push
Service RecHandle: 0x10001
  Channel: 9

Service Name: Serial Port
Service RecHandle: 0x10002
  Channel: 6
`
	channel, ok := parseSdptoolChannel(out)
	if !ok || channel != 6 {
		t.Errorf("expected serial channel 6, got %d (ok=%v)", channel, ok)
	}
}

func TestParseSdptoolChannelFallsBackToFirst(t *testing.T) {
	out := `Service Name: Audio Gateway
  Channel: 2

Service Name: Headset
  Channel: 4
`
	channel, ok := parseSdptoolChannel(out)
	if !ok || channel != 2 {
		t.Errorf("expected first channel 2, got %d (ok=%v)", channel, ok)
	}
}

func TestParseSdptoolChannelNoChannels(t *testing.T) {
	if channel, ok := parseSdptoolChannel("Service Name: Something\n"); ok {
		t.Errorf("expected no channel, got %d", channel)
	}
}

func TestParseBdaddr(t *testing.T) {
	addr, err := parseBdaddr("AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	// BlueZ sockaddrs carry the address little-endian.
	want := [6]byte{0xFF, 0xEE, 0xDD, 0xCC, 0xBB, 0xAA}
	if addr != want {
		t.Errorf("got %x, want %x", addr, want)
	}

	if _, err := parseBdaddr("AA-BB-CC-DD-EE-FF"); err != nil {
		t.Errorf("dash separators should parse: %v", err)
	}
	if _, err := parseBdaddr("not-an-address"); err == nil {
		t.Error("expected error for malformed address")
	}
	if _, err := parseBdaddr("AA:BB:CC:DD:EE"); err == nil {
		t.Error("expected error for short address")
	}
}
