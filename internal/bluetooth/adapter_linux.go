//go:build linux

package bluetooth

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// linuxClassicAdapter drives classic RFCOMM through the BlueZ command
// line tools (bluetoothctl, sdptool) and raw AF_BLUETOOTH sockets.
type linuxClassicAdapter struct{}

func newClassicAdapter() Adapter {
	return &linuxClassicAdapter{}
}

func (a *linuxClassicAdapter) Transport() Transport { return TransportClassic }

func (a *linuxClassicAdapter) SingleChannel() bool { return false }

// Scan runs a bluetoothctl inquiry and marks devices that appear in the
// paired-device list.
func (a *linuxClassicAdapter) Scan(timeout time.Duration) ([]DeviceInfo, error) {
	if _, err := exec.LookPath("bluetoothctl"); err != nil {
		return nil, fmt.Errorf("bluetoothctl not found (install bluez): %w", err)
	}

	seconds := int(timeout.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	// The scan itself may exit non-zero when no controller is powered;
	// the devices listing below decides whether the scan worked.
	_, _ = a.run(timeout+5*time.Second, "--timeout", strconv.Itoa(seconds), "scan", "on")

	out, err := a.run(10*time.Second, "devices")
	if err != nil {
		return nil, fmt.Errorf("bluetoothctl devices failed: %w", err)
	}

	paired := make(map[string]bool)
	if pairedOut, err := a.run(10*time.Second, "devices", "Paired"); err == nil {
		for _, address := range parseBluetoothctlDevices(pairedOut) {
			paired[address.Address] = true
		}
	}

	var devices []DeviceInfo
	for _, device := range parseBluetoothctlDevices(out) {
		state := PairedNo
		if paired[device.Address] {
			state = PairedYes
		}
		devices = append(devices, DeviceInfo{
			Name:      device.Name,
			Address:   device.Address,
			Paired:    state,
			Transport: TransportClassic,
		})
	}

	return Dedupe(devices), nil
}

func (a *linuxClassicAdapter) CreateSocket(pairingHint bool) (Socket, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("RFCOMM sockets are not available on this system: %w", err)
	}
	return &rfcommSocket{fd: fd, timeout: connectTimeout}, nil
}

// ResolveChannel browses the device's SDP records and prefers a channel
// whose service name looks like a serial port over the first channel seen.
func (a *linuxClassicAdapter) ResolveChannel(address string) (int, bool) {
	if _, err := exec.LookPath("sdptool"); err != nil {
		return 0, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "sdptool", "browse", address).Output()
	if err != nil {
		return 0, false
	}

	return parseSdptoolChannel(string(out))
}

// EnsurePaired enumerates paired devices, pairs and trusts the target
// if needed, and re-checks the paired state. Any unconfirmed state
// after that sequence is a hard pairing failure.
func (a *linuxClassicAdapter) EnsurePaired(address string, pairingHint bool) error {
	if _, err := exec.LookPath("bluetoothctl"); err != nil {
		return nil
	}
	if a.isPaired(address) {
		return nil
	}

	if out, err := a.run(20*time.Second, "pair", address); err != nil {
		detail := strings.TrimSpace(out)
		if detail == "" {
			detail = err.Error()
		}
		return fmt.Errorf("%w: %s", ErrPairingFailed, detail)
	}
	_, _ = a.run(5*time.Second, "trust", address)

	if !a.isPaired(address) {
		return fmt.Errorf("%w: pairing did not complete for %s", ErrPairingFailed, address)
	}
	return nil
}

func (a *linuxClassicAdapter) isPaired(address string) bool {
	out, err := a.run(5*time.Second, "info", address)
	if err != nil {
		return false
	}
	for _, raw := range strings.Split(out, "\n") {
		line := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(line, "paired:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "paired:")) == "yes"
		}
	}
	return false
}

func (a *linuxClassicAdapter) run(timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "bluetoothctl", args...).CombinedOutput()
	return string(out), err
}

// parseBluetoothctlDevices parses "Device XX:XX:XX:XX:XX:XX Name" lines.
func parseBluetoothctlDevices(out string) []DeviceInfo {
	var devices []DeviceInfo
	for _, raw := range strings.Split(out, "\n") {
		line := strings.TrimSpace(raw)
		if !strings.HasPrefix(line, "Device ") {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(line, "Device "), " ", 2)
		if len(parts) == 0 || parts[0] == "" {
			continue
		}
		device := DeviceInfo{Address: parts[0]}
		if len(parts) == 2 {
			device.Name = strings.TrimSpace(parts[1])
		}
		devices = append(devices, device)
	}
	return devices
}

// parseSdptoolChannel walks sdptool browse output. A channel that
// follows a serial/SPP/printer service name wins immediately;
// otherwise the first channel seen is kept as a fallback.
func parseSdptoolChannel(out string) (int, bool) {
	channel := 0
	found := false
	seenSerial := false

	for _, raw := range strings.Split(out, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "Service Name:"):
			name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "Service Name:")))
			seenSerial = strings.Contains(name, "serial") ||
				strings.Contains(name, "spp") ||
				strings.Contains(name, "printer")
		case strings.HasPrefix(line, "Channel:"):
			value, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Channel:")))
			if err != nil {
				continue
			}
			if seenSerial {
				return value, true
			}
			if !found {
				channel = value
				found = true
			}
			seenSerial = false
		case line == "":
			seenSerial = false
		}
	}

	return channel, found
}

// rfcommSocket is a raw BlueZ RFCOMM stream socket.
type rfcommSocket struct {
	fd      int
	timeout time.Duration
}

func (s *rfcommSocket) SetTimeout(d time.Duration) {
	s.timeout = d
}

func (s *rfcommSocket) Connect(address string, channel int) error {
	addr, err := parseBdaddr(address)
	if err != nil {
		return err
	}
	sa := &unix.SockaddrRFCOMM{Addr: addr, Channel: uint8(channel)}

	if err := unix.SetNonblock(s.fd, true); err != nil {
		return fmt.Errorf("RFCOMM connect setup failed: %w", err)
	}

	err = unix.Connect(s.fd, sa)
	if err == unix.EINPROGRESS || err == unix.EAGAIN {
		err = s.waitWritable()
	}
	if err != nil {
		if err == unix.ETIMEDOUT {
			return fmt.Errorf("connect %s channel %d: %w", address, channel, ErrConnectTimeout)
		}
		return fmt.Errorf("connect %s channel %d: %w", address, channel, err)
	}

	if err := unix.SetNonblock(s.fd, false); err != nil {
		return fmt.Errorf("RFCOMM connect setup failed: %w", err)
	}
	return nil
}

// waitWritable waits for an in-progress connect to settle and surfaces
// the socket's final error state.
func (s *rfcommSocket) waitWritable() error {
	deadline := time.Now().Add(s.timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return unix.ETIMEDOUT
		}

		fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLOUT}}
		n, err := unix.Poll(fds, int(remaining.Milliseconds()))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return unix.ETIMEDOUT
		}

		soerr, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return err
		}
		if soerr != 0 {
			return unix.Errno(soerr)
		}
		return nil
	}
}

func (s *rfcommSocket) Write(p []byte) (int, error) {
	sent := 0
	for sent < len(p) {
		n, err := unix.Write(s.fd, p[sent:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return sent, err
		}
		if n == 0 {
			return sent, fmt.Errorf("RFCOMM write made no progress")
		}
		sent += n
	}
	return sent, nil
}

func (s *rfcommSocket) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}

// parseBdaddr converts AA:BB:CC:DD:EE:FF into the little-endian byte
// order BlueZ sockaddrs expect.
func parseBdaddr(address string) ([6]byte, error) {
	var addr [6]byte
	parts := strings.Split(strings.ReplaceAll(address, "-", ":"), ":")
	if len(parts) != 6 {
		return addr, fmt.Errorf("invalid bluetooth address %q", address)
	}
	for i, part := range parts {
		value, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return addr, fmt.Errorf("invalid bluetooth address %q", address)
		}
		addr[5-i] = byte(value)
	}
	return addr, nil
}
