// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package observability

import "time"

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	Go     string `json:"go"`
}

// ConnectionResponse is returned by GET /api/v1/connection.
type ConnectionResponse struct {
	State     string `json:"state"` // disconnected | connected | pending
	Host      string `json:"host"`
	Port      int    `json:"port"`
	TimeoutMs int    `json:"timeout_ms"`
}

// DeviceSummary describes one registered device for GET /api/v1/devices.
type DeviceSummary struct {
	UID        string `json:"uid"`
	APIVersion string `json:"api_version,omitempty"`
}

// HostStatsResponse mirrors diagnostics.HostStats for GET /api/v1/host.
type HostStatsResponse struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	SampledAt     time.Time `json:"sampled_at"`
}

// EventEntry is one lifecycle event persisted by EventStore and returned by
// GET /api/v1/events: a CONNECTED, DISCONNECTED or ENUMERATE occurrence.
type EventEntry struct {
	Kind   string    `json:"kind"` // connected | disconnected | enumerate
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}
