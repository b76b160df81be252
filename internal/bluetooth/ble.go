package bluetooth

import (
	"fmt"
	"sync"
	"time"

	ble "tinygo.org/x/bluetooth"
)

// BLE writes must stay far below the classic chunk size: the
// negotiated ATT MTU is small and unreliable across platforms, and the
// printer's buffer cannot keep up with GATT throughput, so every write
// is followed by a delay.
const (
	bleChunkSize  = 20
	bleWriteDelay = 50 * time.Millisecond
)

// Known printer GATT profiles, searched in priority order before
// falling back to any writable characteristic. Clone thermal printers
// mostly expose one of these vendor UUID sets or the Nordic UART
// profile.
var knownWriteProfiles = []struct {
	service        string
	characteristic string
}{
	{"6e400001-b5a3-f393-e0a9-e50e24dcca9e", "6e400002-b5a3-f393-e0a9-e50e24dcca9e"}, // Nordic UART
	{"0000ff00-0000-1000-8000-00805f9b34fb", "0000ff02-0000-1000-8000-00805f9b34fb"}, // Cat printer family
	{"0000ae30-0000-1000-8000-00805f9b34fb", "0000ae01-0000-1000-8000-00805f9b34fb"},
	{"49535343-fe7d-4ae5-8fa9-9fafd205e455", "49535343-8841-43f4-a8d4-ecbe34729bb3"}, // Microchip UART
	{"0000fff0-0000-1000-8000-00805f9b34fb", "0000fff2-0000-1000-8000-00805f9b34fb"},
}

// Standard GAP and GATT services only carry read-only attributes like
// the device name; their characteristics are never the data channel.
var standardServices = []ble.UUID{
	ble.New16BitUUID(0x1800),
	ble.New16BitUUID(0x1801),
}

func isStandardService(uuid ble.UUID) bool {
	for _, standard := range standardServices {
		if uuid == standard {
			return true
		}
	}
	return false
}

// gattCharacteristic is the write surface of a GATT characteristic,
// narrowed for tests.
type gattCharacteristic interface {
	Write(p []byte) (n int, err error)
	WriteWithoutResponse(p []byte) (n int, err error)
	GetMTU() (uint16, error)
}

// bleGattAdapter drives BLE GATT through tinygo's cross-platform
// bluetooth library. Addresses seen during a scan are cached so a
// later connect can reuse the platform's native address value.
type bleGattAdapter struct {
	mu          sync.Mutex
	enabled     bool
	deviceCache map[string]ble.Address
}

func newBLEAdapter() Adapter {
	return &bleGattAdapter{deviceCache: make(map[string]ble.Address)}
}

func (a *bleGattAdapter) Transport() Transport { return TransportBLE }

// SingleChannel is true: a GATT session has no channel concept.
func (a *bleGattAdapter) SingleChannel() bool { return true }

func (a *bleGattAdapter) enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enabled {
		return nil
	}
	if err := ble.DefaultAdapter.Enable(); err != nil {
		return fmt.Errorf("BLE adapter could not be enabled: %w", err)
	}
	a.enabled = true
	return nil
}

func (a *bleGattAdapter) Scan(timeout time.Duration) ([]DeviceInfo, error) {
	if err := a.enable(); err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		devices []DeviceInfo
	)

	timer := time.AfterFunc(timeout, func() {
		_ = ble.DefaultAdapter.StopScan()
	})
	defer timer.Stop()

	err := ble.DefaultAdapter.Scan(func(adapter *ble.Adapter, result ble.ScanResult) {
		address := result.Address.String()

		mu.Lock()
		devices = append(devices, DeviceInfo{
			Name:      result.LocalName(),
			Address:   address,
			Paired:    PairedUnknown,
			Transport: TransportBLE,
		})
		mu.Unlock()

		a.mu.Lock()
		a.deviceCache[address] = result.Address
		a.mu.Unlock()
	})
	if err != nil {
		return nil, fmt.Errorf("BLE scan failed: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	return Dedupe(devices), nil
}

func (a *bleGattAdapter) CreateSocket(pairingHint bool) (Socket, error) {
	if err := a.enable(); err != nil {
		return nil, err
	}
	return &bleSocket{adapter: a, timeout: connectTimeout}, nil
}

// ResolveChannel always reports channel 1: the value only exists to
// satisfy the candidate-list contract and is ignored by the socket.
func (a *bleGattAdapter) ResolveChannel(address string) (int, bool) {
	return rfcommChannels[0], true
}

// EnsurePaired is a no-op: BLE printers accept GATT writes without
// bonding, and bonding is negotiated by the OS stack during connect
// when the peripheral requires it.
func (a *bleGattAdapter) EnsurePaired(address string, pairingHint bool) error {
	return nil
}

func (a *bleGattAdapter) cachedAddress(address string) (ble.Address, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	addr, ok := a.deviceCache[address]
	return addr, ok
}

// findAddress scans briefly for the target when it was not seen in a
// previous scan, e.g. when the caller connects by a stored address.
func (a *bleGattAdapter) findAddress(address string, timeout time.Duration) (ble.Address, error) {
	if addr, ok := a.cachedAddress(address); ok {
		return addr, nil
	}
	if _, err := a.Scan(timeout); err != nil {
		return ble.Address{}, err
	}
	if addr, ok := a.cachedAddress(address); ok {
		return addr, nil
	}
	return ble.Address{}, fmt.Errorf("BLE device %s not found during scan", address)
}

// bleSocket adapts a GATT session to the Socket contract. Connect
// collects candidate write characteristics; the first chunk that a
// candidate accepts locks that candidate in for the rest of the
// session. The session is exclusively owned by the socket and torn
// down through Close on every exit path.
type bleSocket struct {
	adapter    *bleGattAdapter
	timeout    time.Duration
	device     ble.Device
	address    string
	candidates []gattCharacteristic
	char       gattCharacteristic
	locked     bool
	chunkSize  int
	noResponse bool
	connected  bool
}

func (s *bleSocket) SetTimeout(d time.Duration) {
	s.timeout = d
}

func (s *bleSocket) Connect(address string, channel int) error {
	addr, err := s.adapter.findAddress(address, s.timeout)
	if err != nil {
		return err
	}

	device, err := ble.DefaultAdapter.Connect(addr, ble.ConnectionParams{
		ConnectionTimeout: ble.NewDuration(s.timeout),
	})
	if err != nil {
		return fmt.Errorf("BLE connect to %s failed: %w", address, err)
	}
	s.device = device
	s.connected = true
	s.address = address
	s.chunkSize = bleChunkSize

	candidates, err := findWriteCandidates(device)
	if err != nil {
		_ = s.Close()
		return fmt.Errorf("no writable GATT characteristic on device %s: %w", address, err)
	}
	s.candidates = make([]gattCharacteristic, len(candidates))
	for i := range candidates {
		s.candidates[i] = candidates[i]
	}
	return nil
}

// findWriteCandidates collects write candidates in priority order: the
// known printer profiles first, then every characteristic of every
// remaining non-standard service. The library exposes no property
// flags for a discovered characteristic, so whether a candidate is
// actually writable is only known once the first write is attempted.
func findWriteCandidates(device ble.Device) ([]ble.DeviceCharacteristic, error) {
	services, err := device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("service discovery failed: %w", err)
	}

	var candidates []ble.DeviceCharacteristic
	seen := make(map[ble.UUID]bool)
	add := func(char ble.DeviceCharacteristic) {
		if !seen[char.UUID()] {
			seen[char.UUID()] = true
			candidates = append(candidates, char)
		}
	}

	for _, profile := range knownWriteProfiles {
		serviceUUID := parseUUID(profile.service)
		charUUID := parseUUID(profile.characteristic)
		for _, service := range services {
			if service.UUID() != serviceUUID {
				continue
			}
			chars, err := service.DiscoverCharacteristics([]ble.UUID{charUUID})
			if err != nil || len(chars) == 0 {
				continue
			}
			add(chars[0])
		}
	}

	for _, service := range services {
		if isStandardService(service.UUID()) {
			continue
		}
		chars, err := service.DiscoverCharacteristics(nil)
		if err != nil {
			continue
		}
		for _, char := range chars {
			add(char)
		}
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidate characteristics found")
	}
	return candidates, nil
}

func chunkSizeFor(char gattCharacteristic) int {
	chunk := bleChunkSize
	if mtu, err := char.GetMTU(); err == nil && int(mtu) > 3 && int(mtu)-3 < chunk {
		chunk = int(mtu) - 3
	}
	return chunk
}

// Write splits the buffer into GATT-sized pieces with a delay after
// each write; the printer needs that time to drain its buffer.
func (s *bleSocket) Write(p []byte) (int, error) {
	if !s.connected {
		return 0, ErrNotConnected
	}

	sent := 0
	for sent < len(p) {
		end := sent + s.chunkSize
		if end > len(p) {
			end = len(p)
		}
		if err := s.writeChunk(p[sent:end]); err != nil {
			return sent, fmt.Errorf("BLE write failed: %w", err)
		}
		sent = end
		time.Sleep(bleWriteDelay)
	}
	return sent, nil
}

// writeChunk settles on a characteristic with the first chunk:
// candidates are tried in order and a candidate whose writes are
// rejected is discarded in favor of the next one. The winning
// characteristic, its write mode, and its chunk size are remembered
// for the rest of the session.
func (s *bleSocket) writeChunk(chunk []byte) error {
	if s.locked {
		return s.writeTo(s.char, chunk)
	}

	var lastErr error
	for len(s.candidates) > 0 {
		char := s.candidates[0]
		if err := s.writeTo(char, chunk); err != nil {
			lastErr = err
			s.noResponse = false
			s.candidates = s.candidates[1:]
			continue
		}
		s.char = char
		s.locked = true
		s.chunkSize = chunkSizeFor(char)
		return nil
	}
	return fmt.Errorf("no writable GATT characteristic on device %s: %v", s.address, lastErr)
}

// writeTo prefers write-with-response for reliability and only falls
// back to write-without-response when the characteristic rejects the
// request variant, remembering the choice for later chunks.
func (s *bleSocket) writeTo(char gattCharacteristic, chunk []byte) error {
	if s.noResponse {
		_, err := char.WriteWithoutResponse(chunk)
		return err
	}
	if _, err := char.Write(chunk); err != nil {
		if _, fallbackErr := char.WriteWithoutResponse(chunk); fallbackErr == nil {
			s.noResponse = true
			return nil
		}
		return err
	}
	return nil
}

func (s *bleSocket) Close() error {
	if !s.connected {
		return nil
	}
	s.connected = false
	return s.device.Disconnect()
}

func parseUUID(value string) ble.UUID {
	uuid, _ := ble.ParseUUID(value)
	return uuid
}
