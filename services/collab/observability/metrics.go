// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the collab service.
//
// # Description
//
// Metrics cover:
//   - Edits accepted and rejected (by reason)
//   - Live sessions and connected users
//   - Snapshot and operation log writes
//   - Websocket traffic, dropped frames and rate limiting
//
// # Integration
//
// Metrics are exposed on /metrics. Every Record method is safe to call on a
// nil *CollabMetrics, which turns it into a no-op.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "aleutian"

const collabSubsystem = "collab"

// CollabMetrics holds every Prometheus collector of the service.
type CollabMetrics struct {
	// EditsTotal counts edit attempts.
	// Labels: kind (delta, edit, undo, create_note), result (accepted, rejected), reason
	EditsTotal *prometheus.CounterVec

	// EditDurationSeconds measures rebase plus apply latency.
	// Labels: kind
	EditDurationSeconds *prometheus.HistogramVec

	// ActiveSessions is the number of live document sessions.
	ActiveSessions prometheus.Gauge

	// ConnectedUsers is the number of users routed to a session.
	ConnectedUsers prometheus.Gauge

	// SessionsEvictedTotal counts sessions reaped by the cleanup sweep.
	SessionsEvictedTotal prometheus.Counter

	// SnapshotsTotal counts snapshot writes.
	// Labels: trigger (interval, leave, shutdown, manual), status (success, error, skipped)
	SnapshotsTotal *prometheus.CounterVec

	// SnapshotDurationSeconds measures snapshot store latency.
	SnapshotDurationSeconds prometheus.Histogram

	// OperationLogWritesTotal counts operation store writes.
	// Labels: status (success, error)
	OperationLogWritesTotal *prometheus.CounterVec

	// RecoveredOperationsTotal counts operations replayed on session load.
	RecoveredOperationsTotal prometheus.Counter

	// MessagesTotal counts websocket frames.
	// Labels: direction (in, out), type
	MessagesTotal *prometheus.CounterVec

	// DroppedMessagesTotal counts outbound frames dropped for slow clients.
	DroppedMessagesTotal prometheus.Counter

	// RateLimitedTotal counts inbound frames rejected by the rate limiter.
	RateLimitedTotal prometheus.Counter
}

// NewCollabMetrics creates and registers all collectors on reg.
//
// # Inputs
//
//   - reg: Registry to register on. prometheus.DefaultRegisterer in
//     production, a fresh prometheus.NewRegistry() in tests.
//
// # Outputs
//
//   - *CollabMetrics: The initialized metrics.
//
// # Limitations
//
//   - Panics if the collectors are already registered on reg.
func NewCollabMetrics(reg prometheus.Registerer) *CollabMetrics {
	f := promauto.With(reg)

	return &CollabMetrics{
		EditsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: collabSubsystem,
				Name:      "edits_total",
				Help:      "Total edit attempts by kind, result and rejection reason",
			},
			[]string{"kind", "result", "reason"},
		),

		EditDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: collabSubsystem,
				Name:      "edit_duration_seconds",
				Help:      "Time to rebase and apply an edit in seconds",
				Buckets:   []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
			},
			[]string{"kind"},
		),

		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: collabSubsystem,
			Name:      "active_sessions",
			Help:      "Number of live document sessions",
		}),

		ConnectedUsers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: collabSubsystem,
			Name:      "connected_users",
			Help:      "Number of users currently joined to a document",
		}),

		SessionsEvictedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: collabSubsystem,
			Name:      "sessions_evicted_total",
			Help:      "Total empty sessions removed by the cleanup sweep",
		}),

		SnapshotsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: collabSubsystem,
				Name:      "snapshots_total",
				Help:      "Total snapshot writes by trigger and status",
			},
			[]string{"trigger", "status"},
		),

		SnapshotDurationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: collabSubsystem,
			Name:      "snapshot_duration_seconds",
			Help:      "Snapshot store write latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		OperationLogWritesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: collabSubsystem,
				Name:      "operation_log_writes_total",
				Help:      "Total operation store writes by status",
			},
			[]string{"status"},
		),

		RecoveredOperationsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: collabSubsystem,
			Name:      "recovered_operations_total",
			Help:      "Total operations replayed from the operation store on session load",
		}),

		MessagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: collabSubsystem,
				Name:      "messages_total",
				Help:      "Total websocket frames by direction and type",
			},
			[]string{"direction", "type"},
		),

		DroppedMessagesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: collabSubsystem,
			Name:      "dropped_messages_total",
			Help:      "Total outbound frames dropped because a client's send buffer was full",
		}),

		RateLimitedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: collabSubsystem,
			Name:      "rate_limited_total",
			Help:      "Total inbound frames rejected by the per-connection rate limiter",
		}),
	}
}

// =============================================================================
// Label Values
// =============================================================================

// SnapshotTrigger says why a snapshot was written.
type SnapshotTrigger string

const (
	TriggerInterval SnapshotTrigger = "interval"
	TriggerLeave    SnapshotTrigger = "leave"
	TriggerShutdown SnapshotTrigger = "shutdown"
	TriggerManual   SnapshotTrigger = "manual"
	TriggerSeed     SnapshotTrigger = "seed"
)

// Snapshot statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordEdit records an edit attempt. An empty reason means it was accepted.
func (m *CollabMetrics) RecordEdit(kind, reason string, seconds float64) {
	if m == nil {
		return
	}
	result := "accepted"
	if reason != "" {
		result = "rejected"
	}
	m.EditsTotal.WithLabelValues(kind, result, reason).Inc()
	m.EditDurationSeconds.WithLabelValues(kind).Observe(seconds)
}

// RecordSnapshot records a snapshot write attempt.
func (m *CollabMetrics) RecordSnapshot(trigger SnapshotTrigger, status string, seconds float64) {
	if m == nil {
		return
	}
	m.SnapshotsTotal.WithLabelValues(string(trigger), status).Inc()
	if status != StatusSkipped {
		m.SnapshotDurationSeconds.Observe(seconds)
	}
}

// RecordOperationLogWrite records an operation store write.
func (m *CollabMetrics) RecordOperationLogWrite(success bool) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if !success {
		status = StatusError
	}
	m.OperationLogWritesTotal.WithLabelValues(status).Inc()
}

// RecordRecovered adds n replayed operations.
func (m *CollabMetrics) RecordRecovered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecoveredOperationsTotal.Add(float64(n))
}

// SetSessions updates the live session and user gauges.
func (m *CollabMetrics) SetSessions(sessions, users int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(sessions))
	m.ConnectedUsers.Set(float64(users))
}

// RecordEvicted adds n reaped sessions.
func (m *CollabMetrics) RecordEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsEvictedTotal.Add(float64(n))
}

// RecordMessage counts one websocket frame.
func (m *CollabMetrics) RecordMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(direction, msgType).Inc()
}

// RecordDropped counts one dropped outbound frame.
func (m *CollabMetrics) RecordDropped() {
	if m == nil {
		return
	}
	m.DroppedMessagesTotal.Inc()
}

// RecordRateLimited counts one rate-limited inbound frame.
func (m *CollabMetrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}
