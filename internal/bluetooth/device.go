// Package bluetooth handles device discovery, pairing, and connections
// to thermal printers over classic RFCOMM and BLE GATT transports.
package bluetooth

import "sort"

// Transport identifies which Bluetooth transport a device was seen on.
type Transport string

const (
	TransportClassic Transport = "classic"
	TransportBLE     Transport = "ble"
)

// PairState is the tri-state pairing status of a discovered device.
// Not every scan method can tell whether a device is paired.
type PairState int

const (
	PairedUnknown PairState = iota
	PairedNo
	PairedYes
)

// DeviceInfo is an immutable record of a discovered Bluetooth device.
// Two records describe the same device iff address and transport match.
type DeviceInfo struct {
	Name      string
	Address   string
	Paired    PairState
	Transport Transport
}

// Merge combines two records for the same device. The longer non-empty
// name wins; paired resolves to yes if either side says yes, else no if
// either side says no, else unknown. Merge is commutative and associative.
func (d DeviceInfo) Merge(other DeviceInfo) DeviceInfo {
	merged := DeviceInfo{
		Address:   d.Address,
		Transport: d.Transport,
	}

	if d.Name != "" && other.Name != "" {
		if len(d.Name) >= len(other.Name) {
			merged.Name = d.Name
		} else {
			merged.Name = other.Name
		}
	} else if d.Name != "" {
		merged.Name = d.Name
	} else {
		merged.Name = other.Name
	}

	switch {
	case d.Paired == PairedYes || other.Paired == PairedYes:
		merged.Paired = PairedYes
	case d.Paired == PairedNo || other.Paired == PairedNo:
		merged.Paired = PairedNo
	default:
		merged.Paired = PairedUnknown
	}

	return merged
}

type deviceKey struct {
	address   string
	transport Transport
}

// Dedupe collapses duplicate (address, transport) entries by merging
// them and returns the result sorted by (name, address, transport) so
// scan output is deterministic. Dedupe is idempotent.
func Dedupe(devices []DeviceInfo) []DeviceInfo {
	byKey := make(map[deviceKey]DeviceInfo, len(devices))
	for _, device := range devices {
		key := deviceKey{address: device.Address, transport: device.Transport}
		if existing, ok := byKey[key]; ok {
			byKey[key] = existing.Merge(device)
		} else {
			byKey[key] = device
		}
	}

	results := make([]DeviceInfo, 0, len(byKey))
	for _, device := range byKey {
		results = append(results, device)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Name != results[j].Name {
			return results[i].Name < results[j].Name
		}
		if results[i].Address != results[j].Address {
			return results[i].Address < results[j].Address
		}
		return results[i].Transport < results[j].Transport
	})

	return results
}

// ScanFailure carries one transport's scan error so a failing transport
// does not abort the other transport's scan.
type ScanFailure struct {
	Transport Transport
	Err       error
}
