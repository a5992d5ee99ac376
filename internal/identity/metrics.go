// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWarden Contributors

package identity

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for lifecycle metrics.
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

// Logins counts login attempts by principal kind and outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var Logins = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatewarden_logins_total",
		Help: "Total number of login attempts",
	},
	[]string{"kind", "outcome"},
)

// Rotations counts refresh token rotations by outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var Rotations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatewarden_refresh_rotations_total",
		Help: "Total number of refresh token rotations",
	},
	[]string{"outcome"},
)

// ReplayDetections counts rotation attempts that presented an already
// consumed refresh token, the signal for token theft or replay.
var ReplayDetections = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "gatewarden_refresh_replays_total",
		Help: "Total number of rotations that presented a consumed token",
	},
)

// PasswordResets counts completed password resets.
var PasswordResets = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "gatewarden_password_resets_total",
		Help: "Total number of completed password resets",
	},
)

// RegisterMetrics registers identity package metrics with the given registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Logins)
	reg.MustRegister(Rotations)
	reg.MustRegister(ReplayDetections)
	reg.MustRegister(PasswordResets)
}
