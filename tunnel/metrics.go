// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "tunnel"

// Metrics counts bridge and connector activity. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	streamsAccepted     prometheus.Counter
	acceptFailures      prometheus.Counter
	handshakeRejections prometheus.Counter
	connectFailures     prometheus.Counter
	dialFailures        prometheus.Counter
	activeForwards      prometheus.Gauge
	bytesForwarded      *prometheus.CounterVec
}

// NewMetrics creates the tunnel collectors and registers them with
// registerer. A nil registerer creates unregistered collectors.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		streamsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "streams_accepted_total",
			Help:      "Inbound tunnel streams accepted at the transport level.",
		}),
		acceptFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "accept_failures_total",
			Help:      "Inbound tunnel streams that failed the transport-level accept.",
		}),
		handshakeRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "handshake_rejections_total",
			Help:      "Tunnel streams closed because the preamble was wrong or missing.",
		}),
		connectFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connect_failures_total",
			Help:      "Failed connections from the bridge to the forwarding target.",
		}),
		dialFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dial_failures_total",
			Help:      "Tunnel streams a connector failed to open to the remote bridge.",
		}),
		activeForwards: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_forwards",
			Help:      "Tunnel connections currently forwarding bytes.",
		}),
		bytesForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bytes_forwarded_total",
			Help:      "Bytes copied between tunnel streams and local sockets.",
		}, []string{"direction"}),
	}
}

func (m *Metrics) streamAccepted() {
	if m != nil {
		m.streamsAccepted.Inc()
	}
}

func (m *Metrics) acceptFailed() {
	if m != nil {
		m.acceptFailures.Inc()
	}
}

func (m *Metrics) handshakeRejected() {
	if m != nil {
		m.handshakeRejections.Inc()
	}
}

func (m *Metrics) connectFailed() {
	if m != nil {
		m.connectFailures.Inc()
	}
}

func (m *Metrics) dialFailed() {
	if m != nil {
		m.dialFailures.Inc()
	}
}

// forwardStarted marks one forward active and returns the function
// that records its completion.
func (m *Metrics) forwardStarted() func(Transfer) {
	if m == nil {
		return func(Transfer) {}
	}
	m.activeForwards.Inc()
	return func(transfer Transfer) {
		m.activeForwards.Dec()
		m.bytesForwarded.WithLabelValues("local_to_remote").Add(float64(transfer.LocalToRemote))
		m.bytesForwarded.WithLabelValues("remote_to_local").Add(float64(transfer.RemoteToLocal))
	}
}
