package bluetooth

import (
	"sync"
	"time"
)

// Fallback RFCOMM channels probed in order when service discovery does
// not reveal the printer's SPP channel.
var rfcommChannels = []int{1, 2, 3, 4, 5}

// connectTimeout is the per-socket connect deadline, distinct from any
// higher-level timeout a caller may hold.
const connectTimeout = 8 * time.Second

// connectWithDeadline bounds a blocking dial that has no native
// deadline support. When the timeout passes, abort is called to tear
// the socket down, which unblocks the dial, and the attempt reports a
// timeout.
func connectWithDeadline(timeout time.Duration, dial func() error, abort func()) error {
	done := make(chan error, 1)
	go func() { done <- dial() }()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		abort()
		<-done
		return ErrConnectTimeout
	}
}

// Socket is the minimal connection handle an adapter hands out. A
// fresh socket is created for every connect attempt.
type Socket interface {
	// SetTimeout bounds the next Connect call.
	SetTimeout(d time.Duration)
	// Connect opens the link to (address, channel). BLE sockets ignore
	// the channel.
	Connect(address string, channel int) error
	// Write delivers the full buffer or returns an error.
	Write(p []byte) (int, error)
	Close() error
}

// Adapter is the per-OS, per-transport capability set the backend
// drives. Implementations are stateless or hold only small
// address-keyed caches, so one instance serves the whole process.
type Adapter interface {
	Transport() Transport

	// Scan discovers nearby devices. It returns an error only when no
	// scan method on this platform succeeded; partial results from one
	// method are merged with another method's results instead.
	Scan(timeout time.Duration) ([]DeviceInfo, error)

	// CreateSocket returns a fresh, unconnected socket.
	CreateSocket(pairingHint bool) (Socket, error)

	// ResolveChannel returns a best-effort RFCOMM channel hint for the
	// device, or ok=false when nothing was discovered.
	ResolveChannel(address string) (channel int, ok bool)

	// EnsurePaired is idempotent: it returns immediately when the
	// device is already paired, otherwise pairs and trusts it, and
	// fails when pairing could not be confirmed afterwards.
	EnsurePaired(address string, pairingHint bool) error

	// SingleChannel reports whether the transport has no channel
	// concept, so the connect loop must not probe the fallback list.
	SingleChannel() bool
}

// Process-wide adapter singletons, chosen once for the running OS.
// Construction is gated behind sync.Once so concurrent first use
// cannot race; a nil adapter means the transport is categorically
// unsupported here.
var (
	classicOnce    sync.Once
	classicAdapter Adapter

	bleOnce    sync.Once
	bleAdapter Adapter
)

// ClassicAdapter returns the classic RFCOMM adapter for this OS, or
// nil when the OS has no RFCOMM support.
func ClassicAdapter() Adapter {
	classicOnce.Do(func() {
		classicAdapter = newClassicAdapter()
	})
	return classicAdapter
}

// BLEAdapter returns the BLE GATT adapter. BLE is available on every
// supported OS through the same library, so this never returns nil.
func BLEAdapter() Adapter {
	bleOnce.Do(func() {
		bleAdapter = newBLEAdapter()
	})
	return bleAdapter
}

// AdapterFor returns the adapter for the given transport, or nil when
// the transport is unsupported on this OS.
func AdapterFor(transport Transport) Adapter {
	if transport == TransportBLE {
		return BLEAdapter()
	}
	return ClassicAdapter()
}
