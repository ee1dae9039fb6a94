// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package observability exposes a small JSON HTTP API reporting the
// connection's state, its device registry, host diagnostics and recent
// lifecycle events. It never influences protocol behavior; it only reads
// state others already maintain.
package observability

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/nishisan-dev/brokerlink/internal/client"
	"github.com/nishisan-dev/brokerlink/internal/diagnostics"
	"github.com/nishisan-dev/brokerlink/internal/registry"
)

// ConnectionSource is the subset of *client.Connection the router needs.
// Declared as an interface so tests can substitute a fake without a real
// socket.
type ConnectionSource interface {
	GetConnectionState() int
	TimeoutMs() int
	Registry() *registry.Registry
	Host() string
	Port() int
}

var _ ConnectionSource = (*client.Connection)(nil)

var startedAt = time.Now()

// NewRouter builds the introspection HTTP handler. store and monitor may be
// nil, in which case their routes (/api/v1/events, /api/v1/host) are not
// registered and requests to them get 404.
func NewRouter(conn ConnectionSource, monitor *diagnostics.Monitor, store *EventStore, acl *ACL) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", handleHealth)
	mux.HandleFunc("GET /api/v1/connection", handleConnection(conn))
	mux.HandleFunc("GET /api/v1/devices", handleDevices(conn))

	if monitor != nil {
		mux.HandleFunc("GET /api/v1/host", handleHost(monitor))
	}
	if store != nil {
		mux.HandleFunc("GET /api/v1/events", handleEvents(store))
	}

	if acl == nil {
		acl = NewACL("")
	}
	return acl.Middleware(mux)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthResponse{
		Status: "ok",
		Uptime: time.Since(startedAt).Round(time.Second).String(),
		Go:     runtime.Version(),
	})
}

func handleConnection(conn ConnectionSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, ConnectionResponse{
			State:     stateLabel(conn.GetConnectionState()),
			Host:      conn.Host(),
			Port:      conn.Port(),
			TimeoutMs: conn.TimeoutMs(),
		})
	}
}

func handleDevices(conn ConnectionSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries := conn.Registry().Snapshot()
		out := make([]DeviceSummary, 0, len(entries))
		for _, e := range entries {
			summary := DeviceSummary{UID: formatDeviceID(e.ID())}
			if dev, ok := e.(*client.Device); ok {
				major, minor, revision := dev.APIVersion()
				if major != 0 || minor != 0 || revision != 0 {
					summary.APIVersion = formatVersion(major, minor, revision)
				}
			}
			out = append(out, summary)
		}
		writeJSON(w, out)
	}
}

func handleHost(monitor *diagnostics.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := monitor.Stats()
		writeJSON(w, HostStatsResponse{
			CPUPercent:    stats.CPUPercent,
			MemoryPercent: stats.MemoryPercent,
			SampledAt:     stats.SampledAt,
		})
	}
}

func handleEvents(store *EventStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, store.Recent(200))
	}
}

func stateLabel(state int) string {
	switch state {
	case client.StateConnected:
		return "connected"
	case client.StatePending:
		return "pending"
	default:
		return "disconnected"
	}
}

func formatDeviceID(id uint32) string {
	return formatHex(id)
}

func formatHex(id uint32) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = hexDigits[id&0xf]
		id >>= 4
	}
	return string(buf)
}

func formatVersion(major, minor, revision uint8) string {
	digits := [3]uint8{major, minor, revision}
	buf := make([]byte, 0, 5)
	for i, d := range digits {
		if i > 0 {
			buf = append(buf, '.')
		}
		buf = append(buf, byte('0'+d))
	}
	return string(buf)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
