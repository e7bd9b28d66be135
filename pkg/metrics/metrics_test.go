// Metrics tests
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCounter(t *testing.T) {
	c := NewCounter("test_total", "A test counter")

	c.Inc(nil)
	c.Add(nil, 2)
	c.Add(nil, -5)
	c.Inc(Labels{"outcome": "reached"})

	if got := c.Get(nil); got != 3 {
		t.Errorf("unlabelled counter = %v, want 3", got)
	}
	if got := c.Get(Labels{"outcome": "reached"}); got != 1 {
		t.Errorf("labelled counter = %v, want 1", got)
	}

	var sb strings.Builder
	if err := c.Write(&sb); err != nil {
		t.Fatalf("Write: %v", err)
	}
	want := "# HELP test_total A test counter\n" +
		"# TYPE test_total counter\n" +
		"test_total 3\n" +
		"test_total{outcome=\"reached\"} 1\n"
	if sb.String() != want {
		t.Errorf("unexpected output:\n%s\nwant:\n%s", sb.String(), want)
	}
}

func TestLabelsAreCopied(t *testing.T) {
	c := NewCounter("copied_total", "")
	labels := Labels{"sink": "mqtt"}
	c.Inc(labels)
	labels["sink"] = "redis"

	if c.Get(Labels{"sink": "mqtt"}) != 1 {
		t.Error("mutating caller labels must not rename the series")
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("sessions", "Active sessions")

	g.Inc(nil)
	g.Inc(nil)
	g.Dec(nil)
	if got := g.Get(nil); got != 1 {
		t.Errorf("gauge = %v, want 1", got)
	}

	g.Set(nil, 2.5)
	if got := g.Get(nil); got != 2.5 {
		t.Errorf("gauge = %v, want 2.5", got)
	}
}

func TestHistogram(t *testing.T) {
	h := NewHistogram("duration_seconds", "Durations", []float64{1, 0.1, 0.5})

	for _, v := range []float64{0.0625, 0.25, 0.25, 0.75, 4} {
		h.Observe(Labels{"outcome": "reached"}, v)
	}
	if got := h.Count(Labels{"outcome": "reached"}); got != 5 {
		t.Errorf("count = %d, want 5", got)
	}

	var sb strings.Builder
	if err := h.Write(&sb); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := sb.String()
	for _, line := range []string{
		`duration_seconds_bucket{outcome="reached",le="0.1"} 1`,
		`duration_seconds_bucket{outcome="reached",le="0.5"} 3`,
		`duration_seconds_bucket{outcome="reached",le="1"} 4`,
		`duration_seconds_bucket{outcome="reached",le="+Inf"} 5`,
		`duration_seconds_sum{outcome="reached"} 5.3125`,
		`duration_seconds_count{outcome="reached"} 5`,
	} {
		if !strings.Contains(out, line+"\n") {
			t.Errorf("missing line %q in:\n%s", line, out)
		}
	}
}

func TestExponentialBuckets(t *testing.T) {
	got := ExponentialBuckets(0.05, 2, 4)
	want := []float64{0.05, 0.1, 0.2, 0.4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("buckets = %v, want %v", got, want)
		}
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewCounter("dup_total", "")); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(NewGauge("dup_total", "")); err == nil {
		t.Error("expected duplicate name to be rejected")
	}
}

func TestEscapeLabel(t *testing.T) {
	got := Labels{"msg": "a \"quoted\"\\path\n"}.format()
	want := `{msg="a \"quoted\"\\path\n"}`
	if got != want {
		t.Errorf("format = %s, want %s", got, want)
	}
}

func TestCraneMetricsObserver(t *testing.T) {
	m := NewCraneMetrics()

	m.MotionStarted()
	m.MotionStarted()
	m.MotionFinished("reached", 120*time.Millisecond)
	m.MotionFinished("cancelled", 30*time.Millisecond)
	m.MotionRejected()
	m.Unreachable()
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.MessageReceived(true)
	m.MessageReceived(false)
	m.SnapshotSent("websocket")
	m.PublishFailed("redis")

	if got := m.MotionsStarted.Get(nil); got != 2 {
		t.Errorf("started = %v", got)
	}
	if got := m.MotionsFinished.Get(Labels{"outcome": "reached"}); got != 1 {
		t.Errorf("reached = %v", got)
	}
	if got := m.MotionDuration.Count(Labels{"outcome": "cancelled"}); got != 1 {
		t.Errorf("cancelled durations = %d", got)
	}
	if got := m.ActiveSessions.Get(nil); got != 1 {
		t.Errorf("active sessions = %v", got)
	}

	out := m.Gather()
	for _, s := range []string{
		"crane_targets_rejected_total 1",
		"crane_targets_unreachable_total 1",
		`crane_messages_received_total{result="error"} 1`,
		`crane_snapshots_sent_total{sink="websocket"} 1`,
		`crane_publish_errors_total{sink="redis"} 1`,
		"# TYPE crane_go_goroutines gauge",
	} {
		if !strings.Contains(out, s) {
			t.Errorf("missing %q in output", s)
		}
	}
}

func TestHandler(t *testing.T) {
	m := NewCraneMetrics()
	m.MotionStarted()
	h := Handler(m, HandlerConfig{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain; version=0.0.4") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "crane_motions_started_total 1") {
		t.Errorf("unexpected body:\n%s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/metrics", nil))
	if rec.Body.Len() != 0 || rec.Header().Get("Content-Length") == "" {
		t.Error("HEAD should set length without a body")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d", rec.Code)
	}
}

func TestHandlerBasicAuth(t *testing.T) {
	h := Handler(NewCraneMetrics(), HandlerConfig{Username: "prom", Password: "secret"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing credentials status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("prom", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("prom", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid credentials status = %d", rec.Code)
	}
}
