// Crane host metrics definitions
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"time"
)

// CraneMetrics holds the metrics exported by the crane host. It implements
// the motion observer and the session failure recorder.
type CraneMetrics struct {
	MotionsStarted     *Counter
	MotionsFinished    *Counter
	MotionDuration     *Histogram
	TargetsRejected    *Counter
	TargetsUnreachable *Counter

	ActiveSessions   *Gauge
	MessagesReceived *Counter
	SnapshotsSent    *Counter
	PublishErrors    *Counter

	Goroutines *Gauge
	HeapBytes  *Gauge
	Uptime     *Gauge

	registry  *Registry
	startTime time.Time
}

// NewCraneMetrics creates and registers the crane metric set.
func NewCraneMetrics() *CraneMetrics {
	m := &CraneMetrics{
		MotionsStarted:     NewCounter("crane_motions_started_total", "Motions started"),
		MotionsFinished:    NewCounter("crane_motions_finished_total", "Motions finished, by outcome"),
		MotionDuration:     NewHistogram("crane_motion_duration_seconds", "Wall time from motion start to finish", ExponentialBuckets(0.05, 2, 10)),
		TargetsRejected:    NewCounter("crane_targets_rejected_total", "Targets refused by the validity predicate"),
		TargetsUnreachable: NewCounter("crane_targets_unreachable_total", "Cartesian targets outside the crane's reach"),
		ActiveSessions:     NewGauge("crane_sessions_active", "Connected client sessions"),
		MessagesReceived:   NewCounter("crane_messages_received_total", "Client messages received, by result"),
		SnapshotsSent:      NewCounter("crane_snapshots_sent_total", "Snapshots delivered, by sink"),
		PublishErrors:      NewCounter("crane_publish_errors_total", "Snapshot deliveries that failed, by sink"),
		Goroutines:         NewGauge("crane_go_goroutines", "Number of goroutines"),
		HeapBytes:          NewGauge("crane_go_heap_bytes", "Heap bytes in use"),
		Uptime:             NewGauge("crane_uptime_seconds", "Seconds since the host started"),
		registry:           NewRegistry(),
		startTime:          time.Now(),
	}
	m.registry.MustRegister(
		m.MotionsStarted, m.MotionsFinished, m.MotionDuration,
		m.TargetsRejected, m.TargetsUnreachable,
		m.ActiveSessions, m.MessagesReceived, m.SnapshotsSent, m.PublishErrors,
		m.Goroutines, m.HeapBytes, m.Uptime,
	)
	return m
}

// Registry returns the registry holding the crane metrics.
func (m *CraneMetrics) Registry() *Registry { return m.registry }

// MotionStarted counts a started motion.
func (m *CraneMetrics) MotionStarted() { m.MotionsStarted.Inc(nil) }

// MotionRejected counts a target refused before any motion started.
func (m *CraneMetrics) MotionRejected() { m.TargetsRejected.Inc(nil) }

// MotionFinished counts a finished motion and records its duration.
func (m *CraneMetrics) MotionFinished(outcome string, elapsed time.Duration) {
	labels := Labels{"outcome": outcome}
	m.MotionsFinished.Inc(labels)
	m.MotionDuration.ObserveDuration(labels, elapsed)
}

// Unreachable counts a Cartesian target that failed inverse kinematics.
func (m *CraneMetrics) Unreachable() { m.TargetsUnreachable.Inc(nil) }

// SessionOpened and SessionClosed track connected clients.
func (m *CraneMetrics) SessionOpened() { m.ActiveSessions.Inc(nil) }

func (m *CraneMetrics) SessionClosed() { m.ActiveSessions.Dec(nil) }

// MessageReceived counts a client message; ok reports whether it was accepted.
func (m *CraneMetrics) MessageReceived(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.MessagesReceived.Inc(Labels{"result": result})
}

// SnapshotSent counts a snapshot delivered to sink.
func (m *CraneMetrics) SnapshotSent(sink string) { m.SnapshotsSent.Inc(Labels{"sink": sink}) }

// PublishFailed counts a failed delivery to sink.
func (m *CraneMetrics) PublishFailed(sink string) { m.PublishErrors.Inc(Labels{"sink": sink}) }

// UpdateRuntime refreshes the process gauges.
func (m *CraneMetrics) UpdateRuntime() {
	var ms goruntime.MemStats
	goruntime.ReadMemStats(&ms)
	m.Goroutines.Set(nil, float64(goruntime.NumGoroutine()))
	m.HeapBytes.Set(nil, float64(ms.HeapInuse))
	m.Uptime.Set(nil, time.Since(m.startTime).Seconds())
}

// Gather refreshes the runtime gauges and returns every metric in
// Prometheus text format.
func (m *CraneMetrics) Gather() string {
	m.UpdateRuntime()
	return m.registry.Gather()
}
