//go:build windows

package bluetooth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

// sppServiceClass is the Serial Port Profile service class; Winsock
// resolves the RFCOMM channel from it during connect, so the Windows
// adapter never probes the fallback channel list.
var sppServiceClass = windows.GUID{
	Data1: 0x00001101,
	Data2: 0x0000,
	Data3: 0x1000,
	Data4: [8]byte{0x80, 0x00, 0x00, 0x80, 0x5F, 0x9B, 0x34, 0xFB},
}

var (
	modBluetoothapis = windows.NewLazySystemDLL("bluetoothapis.dll")
	modBthprops      = windows.NewLazySystemDLL("bthprops.cpl")

	procFindFirstRadio    = modBluetoothapis.NewProc("BluetoothFindFirstRadio")
	procFindNextRadio     = modBluetoothapis.NewProc("BluetoothFindNextRadio")
	procFindRadioClose    = modBluetoothapis.NewProc("BluetoothFindRadioClose")
	procFindFirstDevice   = modBluetoothapis.NewProc("BluetoothFindFirstDevice")
	procFindNextDevice    = modBluetoothapis.NewProc("BluetoothFindNextDevice")
	procFindDeviceClose   = modBluetoothapis.NewProc("BluetoothFindDeviceClose")
	procGetDeviceInfo     = modBluetoothapis.NewProc("BluetoothGetDeviceInfo")
	procAuthenticateExCpl = modBthprops.NewProc("BluetoothAuthenticateDeviceEx")
	procAuthenticateExBt  = modBluetoothapis.NewProc("BluetoothAuthenticateDeviceEx")

	wsaOnce sync.Once
	wsaErr  error
)

const bluetoothMaxNameSize = 248

type systemtime struct {
	Year, Month, DayOfWeek, Day, Hour, Minute, Second, Milliseconds uint16
}

type bluetoothDeviceInfo struct {
	Size          uint32
	_             uint32 // align Address to 8 bytes
	Address       uint64
	ClassOfDevice uint32
	Connected     int32
	Remembered    int32
	Authenticated int32
	LastSeen      systemtime
	LastUsed      systemtime
	Name          [bluetoothMaxNameSize]uint16
}

type bluetoothDeviceSearchParams struct {
	Size                uint32
	ReturnAuthenticated int32
	ReturnRemembered    int32
	ReturnUnknown       int32
	ReturnConnected     int32
	IssueInquiry        int32
	TimeoutMultiplier   uint8
	_                   [7]byte // align Radio to 8 bytes
	Radio               windows.Handle
}

type bluetoothFindRadioParams struct {
	Size uint32
}

// windowsClassicAdapter reaches classic Bluetooth through two
// independent native paths: the bluetoothapis.dll device API for
// inquiry and pairing, and Winsock AF_BTH sockets for the RFCOMM link.
type windowsClassicAdapter struct {
	mu            sync.Mutex
	serviceByAddr map[string]uint32
}

func newClassicAdapter() Adapter {
	return &windowsClassicAdapter{serviceByAddr: make(map[string]uint32)}
}

func (a *windowsClassicAdapter) Transport() Transport { return TransportClassic }

// SingleChannel is true because the connect goes through the SPP
// service class, not a numeric channel probe.
func (a *windowsClassicAdapter) SingleChannel() bool { return true }

// Scan merges a live inquiry with the radio's remembered device list,
// so previously paired printers show up even when the inquiry fails.
func (a *windowsClassicAdapter) Scan(timeout time.Duration) ([]DeviceInfo, error) {
	radios, err := findRadios()
	if err != nil {
		return nil, err
	}
	if len(radios) == 0 {
		return nil, fmt.Errorf("no bluetooth radio found")
	}
	defer closeRadios(radios)

	multiplier := int(timeout.Seconds()/1.28 + 0.5)
	if multiplier < 1 {
		multiplier = 1
	}
	if multiplier > 48 {
		multiplier = 48
	}

	var devices []DeviceInfo
	for _, radio := range radios {
		devices = append(devices, enumerateDevices(radio, true, uint8(multiplier))...)
		devices = append(devices, enumerateDevices(radio, false, 1)...)
	}

	return Dedupe(devices), nil
}

func (a *windowsClassicAdapter) CreateSocket(pairingHint bool) (Socket, error) {
	wsaOnce.Do(func() {
		var data windows.WSAData
		wsaErr = windows.WSAStartup(uint32(0x202), &data)
	})
	if wsaErr != nil {
		return nil, fmt.Errorf("winsock startup failed: %w", wsaErr)
	}

	fd, err := windows.Socket(windows.AF_BTH, windows.SOCK_STREAM, windows.BTHPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("bluetooth sockets are not available on this system: %w", err)
	}
	return &bthSocket{adapter: a, fd: fd, timeout: connectTimeout}, nil
}

func (a *windowsClassicAdapter) ResolveChannel(address string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if port, ok := a.serviceByAddr[strings.ToUpper(address)]; ok && port != 0 {
		return int(port), true
	}
	return rfcommChannels[0], true
}

func (a *windowsClassicAdapter) rememberService(address string, port uint32) {
	a.mu.Lock()
	a.serviceByAddr[strings.ToUpper(address)] = port
	a.mu.Unlock()
}

// EnsurePaired checks the radio's device record first; if the device
// is not authenticated it tries BluetoothAuthenticateDeviceEx from
// bthprops.cpl and falls back to the bluetoothapis.dll export. A
// success on either path is trusted; when both fail, both messages are
// combined into one failure.
func (a *windowsClassicAdapter) EnsurePaired(address string, pairingHint bool) error {
	addrValue, err := parseBtAddrValue(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPairingFailed, err)
	}

	radios, err := findRadios()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPairingFailed, err)
	}
	if len(radios) == 0 {
		return fmt.Errorf("%w: no bluetooth radio found", ErrPairingFailed)
	}
	defer closeRadios(radios)

	var cplErr, btErr error
	for _, radio := range radios {
		var info bluetoothDeviceInfo
		info.Size = uint32(unsafe.Sizeof(info))
		info.Address = addrValue
		_, _, _ = procGetDeviceInfo.Call(uintptr(radio), uintptr(unsafe.Pointer(&info)))
		if info.Authenticated != 0 {
			return nil
		}

		cplErr = authenticateDevice(procAuthenticateExCpl, radio, &info)
		if cplErr == nil {
			return nil
		}
		btErr = authenticateDevice(procAuthenticateExBt, radio, &info)
		if btErr == nil {
			return nil
		}
	}

	return fmt.Errorf("%w (bthprops: %v; bluetoothapis: %v)", ErrPairingFailed, cplErr, btErr)
}

func authenticateDevice(proc *windows.LazyProc, radio windows.Handle, info *bluetoothDeviceInfo) error {
	if err := proc.Find(); err != nil {
		return err
	}
	// NULL auth params request the system pairing prompt flow.
	ret, _, _ := proc.Call(0, uintptr(radio), uintptr(unsafe.Pointer(info)), 0, 0)
	switch ret {
	case 0, 183, 1247: // success, already exists, no more items: all mean paired
		return nil
	default:
		return fmt.Errorf("authentication returned %d", ret)
	}
}

func enumerateDevices(radio windows.Handle, issueInquiry bool, multiplier uint8) []DeviceInfo {
	params := bluetoothDeviceSearchParams{
		ReturnAuthenticated: 1,
		ReturnRemembered:    1,
		ReturnUnknown:       1,
		ReturnConnected:     1,
		TimeoutMultiplier:   multiplier,
		Radio:               radio,
	}
	if issueInquiry {
		params.IssueInquiry = 1
	}
	params.Size = uint32(unsafe.Sizeof(params))

	var info bluetoothDeviceInfo
	info.Size = uint32(unsafe.Sizeof(info))

	find, _, _ := procFindFirstDevice.Call(
		uintptr(unsafe.Pointer(&params)),
		uintptr(unsafe.Pointer(&info)),
	)
	if find == 0 {
		return nil
	}
	defer procFindDeviceClose.Call(find)

	var devices []DeviceInfo
	for {
		state := PairedNo
		if info.Authenticated != 0 || info.Remembered != 0 {
			state = PairedYes
		}
		devices = append(devices, DeviceInfo{
			Name:      windows.UTF16ToString(info.Name[:]),
			Address:   formatBtAddr(info.Address),
			Paired:    state,
			Transport: TransportClassic,
		})

		ok, _, _ := procFindNextDevice.Call(find, uintptr(unsafe.Pointer(&info)))
		if ok == 0 {
			break
		}
	}
	return devices
}

func findRadios() ([]windows.Handle, error) {
	if err := procFindFirstRadio.Find(); err != nil {
		return nil, fmt.Errorf("bluetooth APIs unavailable: %w", err)
	}

	params := bluetoothFindRadioParams{}
	params.Size = uint32(unsafe.Sizeof(params))

	var radio windows.Handle
	find, _, _ := procFindFirstRadio.Call(
		uintptr(unsafe.Pointer(&params)),
		uintptr(unsafe.Pointer(&radio)),
	)
	if find == 0 {
		return nil, nil
	}
	defer procFindRadioClose.Call(find)

	radios := []windows.Handle{radio}
	for {
		var next windows.Handle
		ok, _, _ := procFindNextRadio.Call(find, uintptr(unsafe.Pointer(&next)))
		if ok == 0 {
			break
		}
		radios = append(radios, next)
	}
	return radios, nil
}

func closeRadios(radios []windows.Handle) {
	for _, radio := range radios {
		windows.CloseHandle(radio)
	}
}

// bthSocket is a Winsock AF_BTH RFCOMM socket. Connecting through the
// SPP service class lets Winsock run the SDP lookup itself.
type bthSocket struct {
	adapter *windowsClassicAdapter
	fd      windows.Handle
	timeout time.Duration
	open    bool
}

func (s *bthSocket) SetTimeout(d time.Duration) {
	s.timeout = d
}

func (s *bthSocket) Connect(address string, channel int) error {
	addrValue, err := parseBtAddrValue(address)
	if err != nil {
		return err
	}

	// Port 0 with the SPP service class resolves the channel via SDP.
	sa := &windows.SockaddrBth{
		BtAddr:         addrValue,
		ServiceClassId: sppServiceClass,
	}

	// Winsock has no connect deadline of its own; closing the socket
	// from another goroutine aborts a stuck connect.
	err = connectWithDeadline(s.timeout, func() error {
		return windows.Connect(s.fd, sa)
	}, func() {
		_ = windows.Closesocket(s.fd)
	})
	if err != nil {
		if errors.Is(err, ErrConnectTimeout) {
			s.fd = windows.InvalidHandle
			return fmt.Errorf("connect %s: %w", address, ErrConnectTimeout)
		}
		if err == windows.WSAETIMEDOUT {
			return fmt.Errorf("connect %s: %w", address, ErrConnectTimeout)
		}
		return fmt.Errorf("connect %s: %w", address, err)
	}

	s.open = true
	s.adapter.rememberService(address, uint32(channel))
	return nil
}

func (s *bthSocket) Write(p []byte) (int, error) {
	sent := 0
	for sent < len(p) {
		var done uint32
		if err := windows.WriteFile(s.fd, p[sent:], &done, nil); err != nil {
			return sent, err
		}
		if done == 0 {
			return sent, fmt.Errorf("bluetooth write made no progress")
		}
		sent += int(done)
	}
	return sent, nil
}

func (s *bthSocket) Close() error {
	if !s.open && s.fd == windows.InvalidHandle {
		return nil
	}
	err := windows.Closesocket(s.fd)
	s.fd = windows.InvalidHandle
	s.open = false
	return err
}

func parseBtAddrValue(address string) (uint64, error) {
	cleaned := strings.NewReplacer(":", "", "-", "").Replace(address)
	if len(cleaned) != 12 {
		return 0, fmt.Errorf("invalid bluetooth address %q", address)
	}
	var value uint64
	for _, r := range cleaned {
		var digit uint64
		switch {
		case r >= '0' && r <= '9':
			digit = uint64(r - '0')
		case r >= 'a' && r <= 'f':
			digit = uint64(r-'a') + 10
		case r >= 'A' && r <= 'F':
			digit = uint64(r-'A') + 10
		default:
			return 0, fmt.Errorf("invalid bluetooth address %q", address)
		}
		value = value<<4 | digit
	}
	return value, nil
}

func formatBtAddr(value uint64) string {
	var parts [6]string
	for i := 0; i < 6; i++ {
		parts[5-i] = fmt.Sprintf("%02X", byte(value>>(8*uint(i))))
	}
	return strings.Join(parts[:], ":")
}
