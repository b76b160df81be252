package bluetooth

import (
	"errors"
	"strings"
	"testing"

	ble "tinygo.org/x/bluetooth"
)

type fakeCharacteristic struct {
	writeErr error
	wwrErr   error
	writes   int
	wwrCalls int
	mtu      uint16
}

func (c *fakeCharacteristic) Write(p []byte) (int, error) {
	c.writes++
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	return len(p), nil
}

func (c *fakeCharacteristic) WriteWithoutResponse(p []byte) (int, error) {
	c.wwrCalls++
	if c.wwrErr != nil {
		return 0, c.wwrErr
	}
	return len(p), nil
}

func (c *fakeCharacteristic) GetMTU() (uint16, error) {
	if c.mtu == 0 {
		return 0, errors.New("mtu exchange not supported")
	}
	return c.mtu, nil
}

func newBLETestSocket(candidates ...gattCharacteristic) *bleSocket {
	return &bleSocket{
		address:    "11:22:33:44:55:66",
		candidates: candidates,
		chunkSize:  bleChunkSize,
		connected:  true,
	}
}

func TestIsStandardService(t *testing.T) {
	if !isStandardService(ble.New16BitUUID(0x1800)) {
		t.Error("generic access service should be recognized as standard")
	}
	if !isStandardService(ble.New16BitUUID(0x1801)) {
		t.Error("generic attribute service should be recognized as standard")
	}
	if isStandardService(ble.New16BitUUID(0xFF00)) {
		t.Error("vendor service 0xFF00 should not be treated as standard")
	}
	nus, err := ble.ParseUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	if err != nil {
		t.Fatalf("parse UUID: %v", err)
	}
	if isStandardService(nus) {
		t.Error("Nordic UART service should not be treated as standard")
	}
}

func TestWriteSkipsRejectedCandidates(t *testing.T) {
	rejected := errors.New("write not permitted")
	readOnly := &fakeCharacteristic{writeErr: rejected, wwrErr: rejected}
	writable := &fakeCharacteristic{}
	socket := newBLETestSocket(readOnly, writable)

	if _, err := socket.Write([]byte("abc")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if readOnly.writes != 1 || readOnly.wwrCalls != 1 {
		t.Errorf("rejected candidate got %d/%d write attempts, want 1/1",
			readOnly.writes, readOnly.wwrCalls)
	}
	if writable.writes != 1 {
		t.Errorf("writable candidate got %d writes, want 1", writable.writes)
	}

	// Once a candidate accepted a chunk the rejected one must never
	// be retried.
	if _, err := socket.Write([]byte("def")); err != nil {
		t.Fatalf("second Write() error = %v", err)
	}
	if readOnly.writes != 1 || readOnly.wwrCalls != 1 {
		t.Error("rejected candidate was retried after another one was chosen")
	}
	if writable.writes != 2 {
		t.Errorf("writable candidate got %d writes, want 2", writable.writes)
	}
}

func TestWriteRemembersNoResponseMode(t *testing.T) {
	char := &fakeCharacteristic{writeErr: errors.New("request writes rejected")}
	socket := newBLETestSocket(char)

	if _, err := socket.Write([]byte("abc")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := socket.Write([]byte("def")); err != nil {
		t.Fatalf("second Write() error = %v", err)
	}
	if char.writes != 1 {
		t.Errorf("write-with-response attempted %d times, want 1", char.writes)
	}
	if char.wwrCalls != 2 {
		t.Errorf("write-without-response used %d times, want 2", char.wwrCalls)
	}
}

func TestWriteFailsWhenNoCandidateAccepts(t *testing.T) {
	rejected := errors.New("write not permitted")
	socket := newBLETestSocket(
		&fakeCharacteristic{writeErr: rejected, wwrErr: rejected},
		&fakeCharacteristic{writeErr: rejected, wwrErr: rejected},
	)

	_, err := socket.Write([]byte("abc"))
	if err == nil {
		t.Fatal("Write() succeeded with no writable candidate")
	}
	if !strings.Contains(err.Error(), "no writable GATT characteristic") {
		t.Errorf("Write() error = %v, want writable-characteristic message", err)
	}
	if !strings.Contains(err.Error(), socket.address) {
		t.Errorf("Write() error = %v, want device address in message", err)
	}
}

func TestChunkSizeForRespectsMTU(t *testing.T) {
	if got := chunkSizeFor(&fakeCharacteristic{}); got != bleChunkSize {
		t.Errorf("chunkSizeFor without MTU = %d, want %d", got, bleChunkSize)
	}
	if got := chunkSizeFor(&fakeCharacteristic{mtu: 200}); got != bleChunkSize {
		t.Errorf("chunkSizeFor with large MTU = %d, want %d", got, bleChunkSize)
	}
	if got := chunkSizeFor(&fakeCharacteristic{mtu: 15}); got != 12 {
		t.Errorf("chunkSizeFor with MTU 15 = %d, want 12", got)
	}
}
