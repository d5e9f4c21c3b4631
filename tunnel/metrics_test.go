// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilIsSafe(t *testing.T) {
	var metrics *Metrics
	metrics.streamAccepted()
	metrics.acceptFailed()
	metrics.handshakeRejected()
	metrics.connectFailed()
	metrics.dialFailed()
	metrics.forwardStarted()(Transfer{LocalToRemote: 1, RemoteToLocal: 2})
}

func TestMetrics_Registered(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.streamAccepted()
	metrics.streamAccepted()
	metrics.handshakeRejected()
	finished := metrics.forwardStarted()
	if got := testutil.ToFloat64(metrics.activeForwards); got != 1 {
		t.Fatalf("active forwards = %v, want 1", got)
	}
	finished(Transfer{LocalToRemote: 10, RemoteToLocal: 20})

	if got := testutil.ToFloat64(metrics.streamsAccepted); got != 2 {
		t.Errorf("streams accepted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.handshakeRejections); got != 1 {
		t.Errorf("handshake rejections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.activeForwards); got != 0 {
		t.Errorf("active forwards = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.bytesForwarded.WithLabelValues("remote_to_local")); got != 20 {
		t.Errorf("remote_to_local bytes = %v, want 20", got)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := make(map[string]bool)
	for _, family := range families {
		names[family.GetName()] = true
	}
	for _, name := range []string{
		"tunnel_streams_accepted_total",
		"tunnel_handshake_rejections_total",
		"tunnel_active_forwards",
		"tunnel_bytes_forwarded_total",
	} {
		if !names[name] {
			t.Errorf("metric %s not registered", name)
		}
	}
}
