//go:build !linux && !windows

package bluetooth

// Classic RFCOMM sockets only exist on Linux and Windows; other
// systems fall back to the BLE adapter.
func newClassicAdapter() Adapter {
	return nil
}
