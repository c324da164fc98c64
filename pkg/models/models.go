// Package models defines the core data structures for monitoring targets,
// check results, and status transitions shared across the application.
package models

import (
	"time"
)

// TargetKind classifies a target's address. It is detected once when the
// target is created and never recomputed afterwards.
type TargetKind string

const (
	KindAPI      TargetKind = "api"
	KindIP       TargetKind = "ip"
	KindHostname TargetKind = "hostname"
)

// Valid reports whether the kind is one of the known classifications.
func (k TargetKind) Valid() bool {
	switch k {
	case KindAPI, KindIP, KindHostname:
		return true
	}
	return false
}

// Status represents the health state of a target or the outcome of a check.
type Status string

const (
	StatusPending  Status = "pending"
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusError    Status = "error"
)

// RecentMetricsCap bounds the per-target in-memory metrics ring.
const RecentMetricsCap = 100

// MetricsEntry holds the metrics collected by a single check.
type MetricsEntry map[string]interface{}

// DetectionInfo records the outcome of the one-time probe run when a
// target is added. It is diagnostic only and never gates creation.
type DetectionInfo struct {
	Kind   TargetKind   `json:"kind"`
	Status string       `json:"status"` // "success" or "error"
	Info   MetricsEntry `json:"info,omitempty"`
}

// TargetStatus is the mutable health sub-entity of a target, advanced by
// the scheduler after every check.
type TargetStatus struct {
	LastCheck     *time.Time     `json:"last_check"`
	CurrentStatus Status         `json:"current_status"`
	Failures      int            `json:"failures"`
	LastSuccess   *time.Time     `json:"last_success"`
	LastFailure   *time.Time     `json:"last_failure"`
	RecentMetrics []MetricsEntry `json:"recent_metrics"`
}

// Target represents a single monitored endpoint (API URL, IP address, or
// hostname) with its own schedule and threshold configuration.
type Target struct {
	ID             string                 `json:"id"`
	Name           string                 `json:"name"`
	Address        string                 `json:"address"`
	Kind           TargetKind             `json:"kind"`
	Group          string                 `json:"group"`
	CheckInterval  int                    `json:"check_interval"` // seconds
	AlertThreshold int                    `json:"alert_threshold"`
	Headers        map[string]string      `json:"headers,omitempty"`
	CustomParams   map[string]interface{} `json:"custom_params,omitempty"`
	Status         TargetStatus           `json:"status"`
	CreatedAt      time.Time              `json:"created_at"`
	DetectionInfo  *DetectionInfo         `json:"detection_info,omitempty"`
}

// Clone returns a deep copy so callers can hand targets out without
// exposing registry-internal state to mutation.
func (t *Target) Clone() *Target {
	if t == nil {
		return nil
	}
	c := *t

	if t.Headers != nil {
		c.Headers = make(map[string]string, len(t.Headers))
		for k, v := range t.Headers {
			c.Headers[k] = v
		}
	}
	if t.CustomParams != nil {
		c.CustomParams = make(map[string]interface{}, len(t.CustomParams))
		for k, v := range t.CustomParams {
			c.CustomParams[k] = v
		}
	}
	if t.Status.RecentMetrics != nil {
		c.Status.RecentMetrics = make([]MetricsEntry, len(t.Status.RecentMetrics))
		copy(c.Status.RecentMetrics, t.Status.RecentMetrics)
	}
	if t.DetectionInfo != nil {
		di := *t.DetectionInfo
		c.DetectionInfo = &di
	}
	return &c
}

// ParamFloat reads a numeric custom parameter, falling back to def when
// the key is absent or not a number. JSON decoding produces float64 for
// all numbers, but values set programmatically may be ints.
func (t *Target) ParamFloat(key string, def float64) float64 {
	v, ok := t.CustomParams[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return def
}

// ParamInt reads an integer custom parameter with a default.
func (t *Target) ParamInt(key string, def int) int {
	f := t.ParamFloat(key, float64(def))
	return int(f)
}

// ParamString reads a string custom parameter with a default.
func (t *Target) ParamString(key, def string) string {
	v, ok := t.CustomParams[key]
	if !ok {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return def
}

// CheckResult is the uniform outcome produced by every check strategy.
type CheckResult struct {
	Status  Status       `json:"status"`
	Metrics MetricsEntry `json:"metrics"`
}

// ErrorResult builds an error-status result with the given message and
// any extra metric pairs.
func ErrorResult(msg string, extra MetricsEntry) *CheckResult {
	m := MetricsEntry{"error": msg}
	for k, v := range extra {
		m[k] = v
	}
	return &CheckResult{Status: StatusError, Metrics: m}
}

// Transition describes the state-machine edge produced by applying one
// check result to a target. The alert gate keys off the two edge flags.
type Transition struct {
	Target          *Target // post-update snapshot
	Previous        Status
	Current         Status
	EnteredCritical bool
	Recovered       bool
}
