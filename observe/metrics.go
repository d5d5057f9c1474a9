// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveSessions tracks currently connected client sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rancher_active_sessions",
		Help: "Number of currently connected client sessions.",
	})

	// SessionsRejected counts connections refused at the session
	// limit.
	SessionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rancher_sessions_rejected_total",
		Help: "Connections rejected because the session limit was reached.",
	})

	// BusMessages counts telemetry bus messages routed into property
	// samplers.
	BusMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rancher_bus_messages_total",
		Help: "Bus messages routed to monitored property bindings.",
	})

	// UnexpectedTopics counts bus messages with no matching binding.
	UnexpectedTopics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rancher_unexpected_topics_total",
		Help: "Bus messages dropped because no binding matched their topic.",
	})

	// Commands counts session commands by command name.
	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rancher_commands_total",
		Help: "Session commands processed, by command.",
	}, []string{"command"})

	// FailureEvents counts machine failure events forwarded to
	// sessions.
	FailureEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rancher_failure_events_total",
		Help: "Machine failure events forwarded to sessions.",
	})
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
