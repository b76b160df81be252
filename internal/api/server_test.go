package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Dejniel/TiMini-Print/internal/bluetooth"
	"github.com/Dejniel/TiMini-Print/internal/catalog"
	"github.com/Dejniel/TiMini-Print/internal/devices"
	"github.com/Dejniel/TiMini-Print/internal/jobs"
)

type stubSender struct{}

func (stubSender) Connect(device bluetooth.DeviceInfo, pairingHint bool) error { return nil }
func (stubSender) Write(data []byte, chunkSize int, interval time.Duration) error {
	return nil
}
func (stubSender) Disconnect() error { return nil }

func testServer(t *testing.T) *Server {
	t.Helper()

	dataPath := filepath.Join(t.TempDir(), "printer_models.json")
	models := `[{"model_no": "A5", "model": 1, "print_size": 384, "head_name": "GT01",
		"dev_dpi": 203, "img_mtu": 180, "interval_ms": 20}]`
	if err := os.WriteFile(dataPath, []byte(models), 0o644); err != nil {
		t.Fatalf("failed to write models: %v", err)
	}
	registry, err := catalog.Load(dataPath)
	if err != nil {
		t.Fatalf("failed to load catalog: %v", err)
	}

	backend := bluetooth.NewBackend()
	resolver := devices.NewResolver(registry, backend)
	queue := jobs.NewQueue(stubSender{}, 1, zerolog.Nop())
	t.Cleanup(queue.Stop)

	return NewServer(backend, registry, resolver, queue, time.Second, zerolog.Nop())
}

func TestHealth(t *testing.T) {
	server := testServer(t)

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["status"] != "ok" || body["state"] != "idle" {
		t.Errorf("unexpected health body: %v", body)
	}
}

func TestGetModels(t *testing.T) {
	server := testServer(t)

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/models", nil))

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Models []catalog.PrinterModel `json:"models"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(body.Models) != 1 || body.Models[0].ModelNo != "A5" {
		t.Errorf("unexpected models: %+v", body.Models)
	}
}

func TestGetJobUnknown(t *testing.T) {
	server := testServer(t)

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/job/nope", nil))

	if w.Code != 404 {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestPrintRequiresPayload(t *testing.T) {
	server := testServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/print", strings.NewReader(`{"device": "GT01-777"}`))
	req.Header.Set("Content-Type", "application/json")
	server.router.ServeHTTP(w, req)

	if w.Code != 400 {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestPrintRejectsBadBase64(t *testing.T) {
	server := testServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/print", strings.NewReader(`{"payload": "!!!"}`))
	req.Header.Set("Content-Type", "application/json")
	server.router.ServeHTTP(w, req)

	if w.Code != 400 {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	server := testServer(t)

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/print", nil))

	if w.Code != 204 {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}
