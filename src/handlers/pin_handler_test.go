package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/patrickmn/go-cache"

	"github.com/username/twirlmap/backend/src/logger"
	"github.com/username/twirlmap/backend/src/models"
	"github.com/username/twirlmap/backend/src/services"
	"github.com/username/twirlmap/backend/src/storage"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

// newTestMux wires a real file-backed service behind the same route
// patterns main registers.
func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	store, err := storage.NewStore(context.Background(), "", t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)

	service := services.NewPinService(store, cache.New(services.DefaultCacheExpiration, services.CacheCleanupInterval))
	pinHandler := NewPinHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/pins", pinHandler.HandleListPins)
	mux.HandleFunc("POST /api/pins", pinHandler.HandleCreatePin)
	mux.HandleFunc("DELETE /api/pins/all", pinHandler.HandleClearPins)
	mux.HandleFunc("DELETE /api/pins/{id}", pinHandler.HandleDeletePin)
	mux.HandleFunc("GET /api/pins/count", pinHandler.HandlePinCount)
	mux.HandleFunc("GET /api/stats", pinHandler.HandlePriceStats)
	mux.HandleFunc("GET /api/info", pinHandler.HandleDataInfo)
	mux.HandleFunc("GET /api/health", pinHandler.HandleHealth)
	mux.HandleFunc("POST /api/admin/backup", pinHandler.HandleBackup)
	mux.HandleFunc("POST /api/admin/migrate", pinHandler.HandleMigrate)
	return mux
}

func doRequest(t *testing.T, mux *http.ServeMux, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func createPin(t *testing.T, mux *http.ServeMux, body string) models.Pin {
	t.Helper()
	rr := doRequest(t, mux, http.MethodPost, "/api/pins", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var pin models.Pin
	if err := json.Unmarshal(rr.Body.Bytes(), &pin); err != nil {
		t.Fatalf("decode created pin: %v", err)
	}
	return pin
}

func TestCreateAndListPins(t *testing.T) {
	mux := newTestMux(t)

	pin := createPin(t, mux, `{"price":1.50,"location":"Tesco Oxford St","brand":"Cadbury Orange Twirl","lat":51.515,"lon":-0.142}`)
	if pin.ID == 0 {
		t.Fatal("expected non-zero id")
	}
	if pin.Price != 1.50 {
		t.Fatalf("expected price 1.50, got %v", pin.Price)
	}
	if pin.Timestamp == "" {
		t.Fatal("expected server-assigned timestamp")
	}

	rr := doRequest(t, mux, http.MethodGet, "/api/pins", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Pins  []models.Pin `json:"pins"`
		Count int          `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode pin list: %v", err)
	}
	if resp.Count != 1 || len(resp.Pins) != 1 {
		t.Fatalf("expected 1 pin, got count %d with %d pins", resp.Count, len(resp.Pins))
	}
	if resp.Pins[0].Location != "Tesco Oxford St" {
		t.Fatalf("expected location %q, got %q", "Tesco Oxford St", resp.Pins[0].Location)
	}
	if resp.Pins[0].Brand != "Cadbury Orange Twirl" {
		t.Fatalf("expected brand %q, got %q", "Cadbury Orange Twirl", resp.Pins[0].Brand)
	}
}

func TestListPinsSortByPrice(t *testing.T) {
	mux := newTestMux(t)

	createPin(t, mux, `{"price":3.00,"location":"dear"}`)
	createPin(t, mux, `{"price":1.00,"location":"cheap"}`)

	rr := doRequest(t, mux, http.MethodGet, "/api/pins?sort=price", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp struct {
		Pins []models.Pin `json:"pins"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode pin list: %v", err)
	}
	if len(resp.Pins) != 2 {
		t.Fatalf("expected 2 pins, got %d", len(resp.Pins))
	}
	if resp.Pins[0].Location != "cheap" {
		t.Fatalf("expected cheapest pin first, got %q", resp.Pins[0].Location)
	}
}

func TestListPinsETag(t *testing.T) {
	mux := newTestMux(t)
	createPin(t, mux, `{"price":1.50,"location":"Tesco"}`)

	rr := doRequest(t, mux, http.MethodGet, "/api/pins", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	etag := rr.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected ETag header")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/pins", nil)
	req.Header.Set("If-None-Match", etag)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotModified {
		t.Fatalf("expected status 304, got %d", rr.Code)
	}
}

func TestCreatePinInvalidJSON(t *testing.T) {
	mux := newTestMux(t)

	rr := doRequest(t, mux, http.MethodPost, "/api/pins", `{"price":`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp["error"] == "" {
		t.Fatal("expected error message in response")
	}
}

func TestCreatePinValidationError(t *testing.T) {
	mux := newTestMux(t)

	rr := doRequest(t, mux, http.MethodPost, "/api/pins", `{"price":0,"location":"Tesco"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, mux, http.MethodPost, "/api/pins", `{"price":1.50,"location":""}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestDeletePin(t *testing.T) {
	mux := newTestMux(t)

	pin := createPin(t, mux, `{"price":1.50,"location":"Tesco"}`)

	rr := doRequest(t, mux, http.MethodDelete, fmt.Sprintf("/api/pins/%d", pin.ID), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, mux, http.MethodDelete, fmt.Sprintf("/api/pins/%d", pin.ID), "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestDeletePinInvalidID(t *testing.T) {
	mux := newTestMux(t)

	rr := doRequest(t, mux, http.MethodDelete, "/api/pins/abc", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestClearPins(t *testing.T) {
	mux := newTestMux(t)

	createPin(t, mux, `{"price":1.50,"location":"one"}`)
	createPin(t, mux, `{"price":2.50,"location":"two"}`)

	rr := doRequest(t, mux, http.MethodDelete, "/api/pins/all", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, mux, http.MethodGet, "/api/pins/count", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp map[string]int
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode count response: %v", err)
	}
	if resp["count"] != 0 {
		t.Fatalf("expected count 0, got %d", resp["count"])
	}
}

func TestPriceStatsRoute(t *testing.T) {
	mux := newTestMux(t)

	createPin(t, mux, `{"price":1.00,"location":"one"}`)
	createPin(t, mux, `{"price":3.00,"location":"two"}`)

	rr := doRequest(t, mux, http.MethodGet, "/api/stats", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var stats models.PriceStats
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Lowest != 1.00 || stats.Highest != 3.00 || stats.Average != 2.00 || stats.Count != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestDataInfoRoute(t *testing.T) {
	mux := newTestMux(t)

	rr := doRequest(t, mux, http.MethodGet, "/api/info", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var info models.DataInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if info.StorageType != "file" {
		t.Fatalf("expected storage type file, got %q", info.StorageType)
	}
	if !info.Connected {
		t.Fatal("expected connected")
	}
}

func TestHealthRoute(t *testing.T) {
	mux := newTestMux(t)

	rr := doRequest(t, mux, http.MethodGet, "/api/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("expected status ok, got %q", resp["status"])
	}
}

func TestBackupRoute(t *testing.T) {
	mux := newTestMux(t)

	createPin(t, mux, `{"price":1.50,"location":"Tesco"}`)

	rr := doRequest(t, mux, http.MethodPost, "/api/admin/backup", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode backup response: %v", err)
	}
	if resp["backup_path"] == "" {
		t.Fatal("expected backup path in response")
	}
	if _, err := os.Stat(resp["backup_path"]); err != nil {
		t.Fatalf("expected backup file at %q: %v", resp["backup_path"], err)
	}
}

func TestMigrateRouteWithoutDatabase(t *testing.T) {
	mux := newTestMux(t)

	rr := doRequest(t, mux, http.MethodPost, "/api/admin/migrate", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d: %s", rr.Code, rr.Body.String())
	}
}
