// Package devices glues Bluetooth scanning to the printer model
// catalog: it filters scan results to recognized printers, picks a
// target device from a user hint, and resolves the device's model.
package devices

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Dejniel/TiMini-Print/internal/bluetooth"
	"github.com/Dejniel/TiMini-Print/internal/catalog"
)

// ErrNoDeviceFound means the scan produced no recognized printers.
var ErrNoDeviceFound = errors.New("no supported printers found")

// ErrModelNotDetected means the device's advertised name maps to no
// catalog entry.
var ErrModelNotDetected = errors.New("printer model not detected from Bluetooth name")

var (
	addressRe = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}$`)
	uuidRe    = regexp.MustCompile(`^[0-9A-Fa-f]{8}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{12}$`)
)

// Scanner is the slice of the connection backend the resolver needs.
type Scanner interface {
	ScanWithFailures(timeout time.Duration, includeClassic, includeBLE bool) ([]bluetooth.DeviceInfo, []bluetooth.ScanFailure, error)
}

// Resolver picks printer devices and models for the front-ends.
type Resolver struct {
	registry *catalog.Registry
	scanner  Scanner
}

// NewResolver creates a resolver over the given catalog and backend.
func NewResolver(registry *catalog.Registry, scanner Scanner) *Resolver {
	return &Resolver{registry: registry, scanner: scanner}
}

// FilterPrinterDevices keeps only devices whose name resolves to some
// known model.
func (r *Resolver) FilterPrinterDevices(devices []bluetooth.DeviceInfo) []bluetooth.DeviceInfo {
	var filtered []bluetooth.DeviceInfo
	for _, device := range devices {
		if _, ok := r.registry.Detect(device.Name, device.Address); ok {
			filtered = append(filtered, device)
		}
	}
	return filtered
}

// ResolveDevice scans (optionally on a single transport), filters to
// recognized printers, and picks one. Without a hint the first device
// after a stable sort wins (classic before BLE, then name, then
// address). An address-shaped hint matches by exact address; anything
// else matches by exact case-insensitive name, falling back to
// substring containment.
func (r *Resolver) ResolveDevice(hint string, transport bluetooth.Transport, timeout time.Duration) (bluetooth.DeviceInfo, error) {
	includeClassic := transport == "" || transport == bluetooth.TransportClassic
	includeBLE := transport == "" || transport == bluetooth.TransportBLE

	scanned, _, err := r.scanner.ScanWithFailures(timeout, includeClassic, includeBLE)
	if err != nil {
		return bluetooth.DeviceInfo{}, err
	}

	devices := r.FilterPrinterDevices(scanned)
	if transport == "" {
		sortDevices(devices)
	}
	if len(devices) == 0 {
		return bluetooth.DeviceInfo{}, ErrNoDeviceFound
	}

	if hint == "" {
		return devices[0], nil
	}
	device, ok := selectDevice(devices, hint)
	if !ok {
		return bluetooth.DeviceInfo{}, fmt.Errorf("no device matches '%s'", hint)
	}
	return device, nil
}

// ResolveModel resolves the printer model for a device. A model number
// override bypasses name detection entirely and must exist in the
// catalog.
func (r *Resolver) ResolveModel(deviceName, modelNoOverride, address string) (catalog.Match, error) {
	if modelNoOverride != "" {
		model, ok := r.registry.Get(modelNoOverride)
		if !ok {
			return catalog.Match{}, fmt.Errorf("unknown printer model '%s'", modelNoOverride)
		}
		return catalog.Match{Model: model, Source: catalog.SourceModelNo}, nil
	}

	match, ok := r.registry.DetectWithOrigin(deviceName, address)
	if !ok {
		return catalog.Match{}, ErrModelNotDetected
	}
	return match, nil
}

// RequireModel resolves a mandatory model number, for transports that
// carry no advertised name to detect from.
func (r *Resolver) RequireModel(modelNo string) (catalog.PrinterModel, error) {
	if modelNo == "" {
		return catalog.PrinterModel{}, errors.New("serial printing requires an explicit model (see the models listing)")
	}
	model, ok := r.registry.Get(modelNo)
	if !ok {
		return catalog.PrinterModel{}, fmt.Errorf("unknown printer model '%s'", modelNo)
	}
	return model, nil
}

// looksLikeAddress matches MAC addresses and the UUID device-id form
// some platforms report for BLE peripherals.
func looksLikeAddress(value string) bool {
	trimmed := strings.TrimSpace(value)
	return addressRe.MatchString(trimmed) || uuidRe.MatchString(trimmed)
}

func sortDevices(devices []bluetooth.DeviceInfo) {
	sort.SliceStable(devices, func(i, j int) bool {
		a, b := devices[i], devices[j]
		aClassic := a.Transport == bluetooth.TransportClassic
		bClassic := b.Transport == bluetooth.TransportClassic
		if aClassic != bClassic {
			return aClassic
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Address < b.Address
	})
}

func selectDevice(devices []bluetooth.DeviceInfo, hint string) (bluetooth.DeviceInfo, bool) {
	if looksLikeAddress(hint) {
		for _, device := range devices {
			if strings.EqualFold(device.Address, hint) {
				return device, true
			}
		}
		return bluetooth.DeviceInfo{}, false
	}

	target := strings.ToLower(hint)
	for _, device := range devices {
		if strings.ToLower(device.Name) == target {
			return device, true
		}
	}
	for _, device := range devices {
		if strings.Contains(strings.ToLower(device.Name), target) {
			return device, true
		}
	}
	return bluetooth.DeviceInfo{}, false
}
