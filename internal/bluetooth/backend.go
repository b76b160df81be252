package bluetooth

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

// State is the backend's connection lifecycle position.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "idle"
	}
}

// Backend orchestrates scanning, connecting, and writing across the
// platform adapters. It exclusively owns the live socket: every byte
// sent on it goes through the backend's lock, so a GUI-triggered write
// cannot interleave with a background write on the same connection.
type Backend struct {
	mu      sync.Mutex // serializes socket use (connect/write/disconnect)
	stateMu sync.Mutex
	state   State
	sock    Socket
	channel int

	// Adapter lookups, swappable in tests.
	classicAdapter func() Adapter
	bleAdapter     func() Adapter
}

// NewBackend creates a backend wired to the process-wide adapters.
func NewBackend() *Backend {
	return &Backend{
		classicAdapter: ClassicAdapter,
		bleAdapter:     BLEAdapter,
	}
}

// State reports the current lifecycle state.
func (b *Backend) State() State {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.state
}

func (b *Backend) setState(s State) {
	b.stateMu.Lock()
	b.state = s
	b.stateMu.Unlock()
}

// Connected reports whether a live socket is held.
func (b *Backend) Connected() bool {
	return b.State() == StateConnected
}

// Channel returns the RFCOMM channel of the live connection, or 0.
func (b *Backend) Channel() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channel
}

// Scan discovers devices on every available transport. Partial
// per-transport failures are dropped; use ScanWithFailures when the
// caller wants to surface them as warnings.
func (b *Backend) Scan(timeout time.Duration) ([]DeviceInfo, error) {
	devices, _, err := b.ScanWithFailures(timeout, true, true)
	return devices, err
}

// ScanWithFailures runs each requested transport's scan independently.
// Classic results win outright: when the classic scan finds devices,
// BLE results and all failures are discarded. When only BLE finds
// devices, they are returned together with whatever failure classic
// had. When every attempted transport failed, an aggregate error names
// each transport and its cause. No devices and no errors is not a
// failure — the device list is just empty.
func (b *Backend) ScanWithFailures(timeout time.Duration, includeClassic, includeBLE bool) ([]DeviceInfo, []ScanFailure, error) {
	var failures []ScanFailure
	attempted := 0

	if includeClassic {
		attempted++
		if adapter := b.classicAdapter(); adapter == nil {
			failures = append(failures, ScanFailure{Transport: TransportClassic, Err: ErrNotSupported})
		} else if devices, err := adapter.Scan(timeout); err != nil {
			failures = append(failures, ScanFailure{Transport: TransportClassic, Err: err})
		} else if len(devices) > 0 {
			return Dedupe(devices), nil, nil
		}
	}

	if includeBLE {
		attempted++
		if adapter := b.bleAdapter(); adapter == nil {
			failures = append(failures, ScanFailure{Transport: TransportBLE, Err: ErrNotSupported})
		} else if devices, err := adapter.Scan(timeout); err != nil {
			failures = append(failures, ScanFailure{Transport: TransportBLE, Err: err})
		} else if len(devices) > 0 {
			return Dedupe(devices), failures, nil
		}
	}

	if attempted > 0 && len(failures) == attempted {
		parts := make([]string, 0, len(failures))
		for _, failure := range failures {
			parts = append(parts, fmt.Sprintf("%s: %v", failure.Transport, failure.Err))
		}
		return nil, nil, fmt.Errorf("%w on every transport (%s)", ErrScanFailed, strings.Join(parts, "; "))
	}

	return nil, failures, nil
}

func (b *Backend) adapterFor(transport Transport) Adapter {
	if transport == TransportBLE {
		return b.bleAdapter()
	}
	return b.classicAdapter()
}

// Connect pairs with and connects to the device. A pairing failure is
// captured rather than raised — some printers accept connections
// unpaired — and is only surfaced when the connect itself also fails.
// Channel candidates are tried with a fresh socket and an 8-second
// timeout each; the first success is retained as the live connection.
func (b *Backend) Connect(device DeviceInfo, pairingHint bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sock != nil {
		return nil
	}

	adapter := b.adapterFor(device.Transport)
	if adapter == nil {
		return fmt.Errorf("%w: %s transport on this OS", ErrNotSupported, device.Transport)
	}

	b.setState(StateConnecting)

	pairErr := adapter.EnsurePaired(device.Address, pairingHint)
	channels := channelCandidates(adapter, device.Address)

	var lastErr error
	for _, channel := range channels {
		sock, err := adapter.CreateSocket(pairingHint)
		if err != nil {
			lastErr = err
			continue
		}
		sock.SetTimeout(connectTimeout)

		if err := sock.Connect(device.Address, channel); err != nil {
			lastErr = err
			_ = sock.Close()
			continue
		}

		b.sock = sock
		b.channel = channel
		b.setState(StateConnected)
		return nil
	}

	b.setState(StateIdle)
	return connectError(channels, pairErr, lastErr)
}

// connectError classifies the exhausted attempt list. Timeouts get a
// user-actionable message; everything else enumerates what was tried.
func connectError(channels []int, pairErr, lastErr error) error {
	if isTimeout(lastErr) {
		msg := fmt.Sprintf(
			"make sure the printer is on, in range, and paired (tried RFCOMM channels %v)",
			channels,
		)
		if pairErr != nil {
			msg += fmt.Sprintf("; pairing also failed: %v", pairErr)
		}
		return fmt.Errorf("%w: %s", ErrConnectTimeout, msg)
	}

	detail := fmt.Sprintf("channels tried: %v", channels)
	if pairErr != nil {
		detail += fmt.Sprintf("; pairing error: %v", pairErr)
	}
	if lastErr != nil {
		detail += fmt.Sprintf("; last error: %v", lastErr)
	}
	return fmt.Errorf("%w (%s)", ErrConnectFailed, detail)
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectTimeout) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// channelCandidates builds the connect attempt order: the resolved
// channel first, then the fixed fallback list minus duplicates.
// Single-channel transports get exactly one candidate.
func channelCandidates(adapter Adapter, address string) []int {
	resolved, ok := adapter.ResolveChannel(address)

	if adapter.SingleChannel() {
		if ok {
			return []int{resolved}
		}
		return []int{rfcommChannels[0]}
	}

	if !ok {
		return append([]int(nil), rfcommChannels...)
	}

	channels := make([]int, 0, len(rfcommChannels)+1)
	channels = append(channels, resolved)
	for _, candidate := range rfcommChannels {
		if candidate != resolved {
			channels = append(channels, candidate)
		}
	}
	return channels
}

// Write sends the payload in chunkSize-byte pieces in order, holding
// the backend lock for each send and sleeping for interval between
// chunks. It fails when not connected.
func (b *Backend) Write(data []byte, chunkSize int, interval time.Duration) error {
	b.mu.Lock()
	sock := b.sock
	b.mu.Unlock()

	if sock == nil {
		return ErrNotConnected
	}
	if len(data) == 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = len(data)
	}

	for offset := 0; offset < len(data); offset += chunkSize {
		end := offset + chunkSize
		if end > len(data) {
			end = len(data)
		}

		b.mu.Lock()
		_, err := sock.Write(data[offset:end])
		b.mu.Unlock()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSendFailed, err)
		}

		if interval > 0 && end < len(data) {
			time.Sleep(interval)
		}
	}
	return nil
}

// Disconnect closes the socket if present and always returns the
// backend to Idle, even when the close fails. Calling it repeatedly,
// or before any connect, is harmless.
func (b *Backend) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sock == nil {
		b.setState(StateIdle)
		return nil
	}

	b.setState(StateDisconnecting)
	err := b.sock.Close()
	b.sock = nil
	b.channel = 0
	b.setState(StateIdle)
	return err
}
