package bluetooth

import "errors"

// Error taxonomy surfaced to callers. Failures are wrapped with %w so
// errors.Is works while the message keeps the full diagnostic detail
// (channels tried, transports tried, underlying OS error).
var (
	// ErrNotSupported means the requested transport does not exist on
	// this operating system at all.
	ErrNotSupported = errors.New("bluetooth transport is not supported on this platform")

	// ErrScanFailed means every attempted transport's scan failed.
	ErrScanFailed = errors.New("bluetooth scan failed")

	// ErrPairingFailed means pairing could not be confirmed. It is
	// recorded during connect and only surfaced if the connect itself
	// also fails.
	ErrPairingFailed = errors.New("bluetooth pairing failed")

	// ErrConnectTimeout means every connect attempt timed out, which
	// usually means the printer is off, out of range, or not paired.
	ErrConnectTimeout = errors.New("bluetooth connection timed out")

	// ErrConnectFailed means the connection failed for a reason other
	// than a timeout after every channel candidate was tried.
	ErrConnectFailed = errors.New("bluetooth connection failed")

	// ErrNotConnected means a write was attempted before connect.
	ErrNotConnected = errors.New("not connected to a bluetooth device")

	// ErrSendFailed means a chunk could not be delivered on the live
	// connection.
	ErrSendFailed = errors.New("bluetooth send failed")
)
