// Package transport carries payloads over non-Bluetooth channels. The
// serial path bypasses Bluetooth entirely and writes straight to a
// port such as a bound /dev/rfcomm0 device.
package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// DefaultBaud matches the RFCOMM emulation speed the printers expose.
const DefaultBaud = 115200

// SerialPort is the opened-port surface used by the writer, narrowed
// for tests.
type SerialPort interface {
	Write(p []byte) (int, error)
	Flush() error
	Close() error
}

// SerialWriter writes a payload to a serial port with the same chunk
// and interval contract the Bluetooth backend honors.
type SerialWriter struct {
	mu   sync.Mutex
	port SerialPort
}

// OpenSerial opens the named port at the given baud rate (DefaultBaud
// when zero).
func OpenSerial(device string, baud int) (*SerialWriter, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	port, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", device, err)
	}
	return &SerialWriter{port: port}, nil
}

// Write sends the payload in chunkSize-byte pieces, sleeping for
// interval between chunks. A non-positive chunk size sends the payload
// in one piece.
func (w *SerialWriter) Write(data []byte, chunkSize int, interval time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()

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
		if _, err := w.port.Write(data[offset:end]); err != nil {
			return fmt.Errorf("failed to write to serial port: %w", err)
		}
		if interval > 0 && end < len(data) {
			time.Sleep(interval)
		}
	}
	return w.port.Flush()
}

// Close releases the port.
func (w *SerialWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.port.Close()
}
