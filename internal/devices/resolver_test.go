package devices

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Dejniel/TiMini-Print/internal/bluetooth"
	"github.com/Dejniel/TiMini-Print/internal/catalog"
)

type fakeScanner struct {
	devices []bluetooth.DeviceInfo
	err     error

	includeClassic bool
	includeBLE     bool
}

func (s *fakeScanner) ScanWithFailures(timeout time.Duration, includeClassic, includeBLE bool) ([]bluetooth.DeviceInfo, []bluetooth.ScanFailure, error) {
	s.includeClassic = includeClassic
	s.includeBLE = includeBLE
	return s.devices, nil, s.err
}

const testModels = `[
  {"model_no": "A5", "model": 1, "print_size": 384, "head_name": "GT01",
   "dev_dpi": 203, "img_mtu": 180, "interval_ms": 20},
  {"model_no": "M2", "model": 2, "print_size": 576, "head_name": "GB02",
   "dev_dpi": 300, "img_mtu": 200, "interval_ms": 30}
]`

func testRegistry(t *testing.T) *catalog.Registry {
	t.Helper()
	dataPath := filepath.Join(t.TempDir(), "printer_models.json")
	if err := os.WriteFile(dataPath, []byte(testModels), 0o644); err != nil {
		t.Fatalf("failed to write models: %v", err)
	}
	registry, err := catalog.Load(dataPath)
	if err != nil {
		t.Fatalf("failed to load catalog: %v", err)
	}
	return registry
}

func scanResults() []bluetooth.DeviceInfo {
	return []bluetooth.DeviceInfo{
		{Name: "Speaker", Address: "00:00:00:00:00:01", Transport: bluetooth.TransportClassic},
		{Name: "GT01-777", Address: "AA:AA:AA:AA:AA:02", Transport: bluetooth.TransportBLE},
		{Name: "GB02-123", Address: "AA:AA:AA:AA:AA:01", Transport: bluetooth.TransportClassic},
		{Name: "GT01-555", Address: "AA:AA:AA:AA:AA:03", Transport: bluetooth.TransportClassic},
	}
}

func TestFilterPrinterDevices(t *testing.T) {
	resolver := NewResolver(testRegistry(t), &fakeScanner{})

	filtered := resolver.FilterPrinterDevices(scanResults())
	if len(filtered) != 3 {
		t.Fatalf("expected 3 printers, got %d: %+v", len(filtered), filtered)
	}
	for _, device := range filtered {
		if device.Name == "Speaker" {
			t.Error("unrecognized device survived the filter")
		}
	}
}

func TestResolveDeviceNoHintPicksSortedFirst(t *testing.T) {
	scanner := &fakeScanner{devices: scanResults()}
	resolver := NewResolver(testRegistry(t), scanner)

	device, err := resolver.ResolveDevice("", "", time.Second)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	// Classic before BLE, then by name: GB02-123 wins.
	if device.Name != "GB02-123" {
		t.Errorf("expected GB02-123 first, got %q", device.Name)
	}
	if !scanner.includeClassic || !scanner.includeBLE {
		t.Error("no transport filter must scan both transports")
	}
}

func TestResolveDeviceTransportFilter(t *testing.T) {
	scanner := &fakeScanner{devices: scanResults()}
	resolver := NewResolver(testRegistry(t), scanner)

	if _, err := resolver.ResolveDevice("", bluetooth.TransportBLE, time.Second); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if scanner.includeClassic || !scanner.includeBLE {
		t.Errorf("BLE filter scanned classic=%v ble=%v", scanner.includeClassic, scanner.includeBLE)
	}
}

func TestResolveDeviceByAddress(t *testing.T) {
	resolver := NewResolver(testRegistry(t), &fakeScanner{devices: scanResults()})

	device, err := resolver.ResolveDevice("aa:aa:aa:aa:aa:02", "", time.Second)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if device.Name != "GT01-777" {
		t.Errorf("expected address match GT01-777, got %q", device.Name)
	}
}

func TestResolveDeviceByName(t *testing.T) {
	resolver := NewResolver(testRegistry(t), &fakeScanner{devices: scanResults()})

	device, err := resolver.ResolveDevice("gt01-555", "", time.Second)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if device.Name != "GT01-555" {
		t.Errorf("expected exact name match, got %q", device.Name)
	}
}

func TestResolveDeviceBySubstring(t *testing.T) {
	resolver := NewResolver(testRegistry(t), &fakeScanner{devices: scanResults()})

	device, err := resolver.ResolveDevice("777", "", time.Second)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if device.Name != "GT01-777" {
		t.Errorf("expected substring match GT01-777, got %q", device.Name)
	}
}

func TestResolveDeviceNoMatch(t *testing.T) {
	resolver := NewResolver(testRegistry(t), &fakeScanner{devices: scanResults()})

	_, err := resolver.ResolveDevice("does-not-exist", "", time.Second)
	if err == nil || err.Error() != "no device matches 'does-not-exist'" {
		t.Errorf("expected named no-match error, got %v", err)
	}
}

func TestResolveDeviceNoPrinters(t *testing.T) {
	scanner := &fakeScanner{devices: []bluetooth.DeviceInfo{
		{Name: "Speaker", Address: "00:00:00:00:00:01", Transport: bluetooth.TransportClassic},
	}}
	resolver := NewResolver(testRegistry(t), scanner)

	if _, err := resolver.ResolveDevice("", "", time.Second); !errors.Is(err, ErrNoDeviceFound) {
		t.Errorf("expected ErrNoDeviceFound, got %v", err)
	}
}

func TestResolveDeviceScanError(t *testing.T) {
	scanErr := errors.New("every transport failed")
	resolver := NewResolver(testRegistry(t), &fakeScanner{err: scanErr})

	if _, err := resolver.ResolveDevice("", "", time.Second); !errors.Is(err, scanErr) {
		t.Errorf("scan error must propagate, got %v", err)
	}
}

func TestResolveModelOverride(t *testing.T) {
	resolver := NewResolver(testRegistry(t), &fakeScanner{})

	match, err := resolver.ResolveModel("Whatever Name", "M2", "")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if match.Model.ModelNo != "M2" || match.Source != catalog.SourceModelNo {
		t.Errorf("expected M2 via model_no, got %+v", match)
	}

	if _, err := resolver.ResolveModel("Whatever", "nope", ""); err == nil {
		t.Error("unknown override must fail")
	}
}

func TestResolveModelFromName(t *testing.T) {
	resolver := NewResolver(testRegistry(t), &fakeScanner{})

	match, err := resolver.ResolveModel("GT01-777", "", "")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if match.Model.HeadName != "GT01" {
		t.Errorf("expected GT01, got %q", match.Model.HeadName)
	}

	if _, err := resolver.ResolveModel("Mystery", "", ""); !errors.Is(err, ErrModelNotDetected) {
		t.Errorf("expected ErrModelNotDetected, got %v", err)
	}
}

func TestRequireModel(t *testing.T) {
	resolver := NewResolver(testRegistry(t), &fakeScanner{})

	model, err := resolver.RequireModel("A5")
	if err != nil || model.ModelNo != "A5" {
		t.Errorf("expected A5, got %+v (err=%v)", model, err)
	}
	if _, err := resolver.RequireModel(""); err == nil {
		t.Error("empty model number must fail")
	}
	if _, err := resolver.RequireModel("nope"); err == nil {
		t.Error("unknown model number must fail")
	}
}
