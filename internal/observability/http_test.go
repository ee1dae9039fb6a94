// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/nishisan-dev/brokerlink/internal/client"
	"github.com/nishisan-dev/brokerlink/internal/registry"
)

// fakeConnection implements ConnectionSource without a real socket.
type fakeConnection struct {
	state     int
	timeoutMs int
	host      string
	port      int
	reg       *registry.Registry
}

func (f *fakeConnection) GetConnectionState() int      { return f.state }
func (f *fakeConnection) TimeoutMs() int               { return f.timeoutMs }
func (f *fakeConnection) Registry() *registry.Registry { return f.reg }
func (f *fakeConnection) Host() string                 { return f.host }
func (f *fakeConnection) Port() int                    { return f.port }

func newFakeConnection() *fakeConnection {
	return &fakeConnection{
		state:     client.StateConnected,
		timeoutMs: 2500,
		host:      "broker.local",
		port:      4223,
		reg:       registry.New(),
	}
}

func TestHealthReturnsOK(t *testing.T) {
	router := NewRouter(newFakeConnection(), nil, nil, nil)

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	var body HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("want status ok, got %q", body.Status)
	}
}

func TestConnectionReportsState(t *testing.T) {
	conn := newFakeConnection()
	conn.state = client.StatePending
	router := NewRouter(conn, nil, nil, nil)

	req := httptest.NewRequest("GET", "/api/v1/connection", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var body ConnectionResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Host != "broker.local" || body.Port != 4223 {
		t.Errorf("want host/port populated from the connection, got %q:%d", body.Host, body.Port)
	}
	if body.State != "pending" {
		t.Errorf("want pending, got %q", body.State)
	}
}

func TestDevicesListsRegisteredDevices(t *testing.T) {
	conn := newFakeConnection()
	dev := client.NewDevice(nil, 0xdcc6e796)
	dev.SetAPIVersion(2, 1, 0)
	conn.reg.Insert(dev)

	router := NewRouter(conn, nil, nil, nil)

	req := httptest.NewRequest("GET", "/api/v1/devices", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var body []DeviceSummary
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body) != 1 {
		t.Fatalf("want 1 device, got %d", len(body))
	}
	if body[0].APIVersion != "2.1.0" {
		t.Errorf("want api version 2.1.0, got %q", body[0].APIVersion)
	}
}

func TestEventsReturnsRecentEntries(t *testing.T) {
	dir := t.TempDir()
	store, err := NewEventStore(filepath.Join(dir, "events.jsonl"), 50, 100)
	if err != nil {
		t.Fatalf("NewEventStore: %v", err)
	}
	defer store.Close()

	store.Push(EventEntry{Kind: "connected", Reason: "request"})
	store.Push(EventEntry{Kind: "disconnected", Reason: "error"})

	router := NewRouter(newFakeConnection(), nil, store, nil)

	req := httptest.NewRequest("GET", "/api/v1/events", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var body []EventEntry
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body) != 2 {
		t.Fatalf("want 2 events, got %d", len(body))
	}
	if body[0].Kind != "connected" || body[1].Kind != "disconnected" {
		t.Errorf("events out of order: %+v", body)
	}
}

func TestACLRejectsWithoutToken(t *testing.T) {
	router := NewRouter(newFakeConnection(), nil, nil, NewACL("secret"))

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("want 403 without token, got %d", rec.Code)
	}

	req2 := httptest.NewRequest("GET", "/api/v1/health", nil)
	req2.Header.Set("Authorization", "Bearer secret")
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("want 200 with correct token, got %d", rec2.Code)
	}
}

func TestEventStoreRotatesSegments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")
	store, err := NewEventStore(path, 10, 3)
	if err != nil {
		t.Fatalf("NewEventStore: %v", err)
	}
	defer store.Close()

	for i := 0; i < 5; i++ {
		store.Push(EventEntry{Kind: "enumerate"})
	}

	if _, err := os.Stat(path + ".1.gz"); err != nil {
		t.Errorf("want rotated segment on disk: %v", err)
	}
	if got := len(store.Recent(0)); got != 5 {
		t.Errorf("want ring to retain all 5 recent events, got %d", got)
	}
}
