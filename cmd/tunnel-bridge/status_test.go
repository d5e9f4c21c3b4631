// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/theopenpresenter/tunnel/tunnel"
)

type fakeController struct {
	running  bool
	startErr error
}

func (c *fakeController) Start(context.Context) (tunnel.Status, error) {
	if c.startErr != nil {
		return tunnel.Status{}, c.startErr
	}
	if c.running {
		return tunnel.Status{}, tunnel.ErrAlreadyRunning
	}
	c.running = true
	return c.Status(), nil
}

func (c *fakeController) Stop() error {
	c.running = false
	return nil
}

func (c *fakeController) Status() tunnel.Status {
	if !c.running {
		return tunnel.Status{}
	}
	return tunnel.Status{Enabled: true, Ticket: "tunnelexample", NodeID: "12D3KooWExample"}
}

func (c *fakeController) Ticket() (string, bool) {
	if !c.running {
		return "", false
	}
	return "tunnelexample", true
}

func newTestServer(t *testing.T, controller bridgeController) *httptest.Server {
	t.Helper()
	registry := prometheus.NewRegistry()
	tunnel.NewMetrics(registry)
	server := httptest.NewServer(newStatusHandler(context.Background(), controller, registry, slog.New(slog.DiscardHandler)))
	t.Cleanup(server.Close)
	return server
}

func doRequest(t *testing.T, method, url string) (int, string) {
	t.Helper()
	request, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return response.StatusCode, string(body)
}

func decodeStatus(t *testing.T, body string) tunnel.Status {
	t.Helper()
	var status tunnel.Status
	if err := json.Unmarshal([]byte(body), &status); err != nil {
		t.Fatalf("decoding %q: %v", body, err)
	}
	return status
}

func TestStatusHandler_Lifecycle(t *testing.T) {
	controller := &fakeController{}
	server := newTestServer(t, controller)

	code, body := doRequest(t, http.MethodGet, server.URL+"/status")
	if code != http.StatusOK || decodeStatus(t, body).Enabled {
		t.Fatalf("GET /status = %d %s", code, body)
	}
	if code, _ := doRequest(t, http.MethodGet, server.URL+"/ticket"); code != http.StatusNotFound {
		t.Fatalf("GET /ticket while stopped = %d", code)
	}

	code, body = doRequest(t, http.MethodPost, server.URL+"/start")
	if code != http.StatusOK {
		t.Fatalf("POST /start = %d %s", code, body)
	}
	if status := decodeStatus(t, body); !status.Enabled || status.Ticket != "tunnelexample" {
		t.Fatalf("started status = %+v", status)
	}

	if code, _ := doRequest(t, http.MethodPost, server.URL+"/start"); code != http.StatusConflict {
		t.Fatalf("second POST /start = %d, want 409", code)
	}

	code, body = doRequest(t, http.MethodGet, server.URL+"/ticket")
	if code != http.StatusOK || strings.TrimSpace(body) != "tunnelexample" {
		t.Fatalf("GET /ticket = %d %q", code, body)
	}

	code, body = doRequest(t, http.MethodPost, server.URL+"/stop")
	if code != http.StatusOK || decodeStatus(t, body).Enabled {
		t.Fatalf("POST /stop = %d %s", code, body)
	}
}

func TestStatusHandler_StartFailure(t *testing.T) {
	server := newTestServer(t, &fakeController{startErr: errors.New("data directory locked")})
	code, body := doRequest(t, http.MethodPost, server.URL+"/start")
	if code != http.StatusInternalServerError || !strings.Contains(body, "locked") {
		t.Fatalf("POST /start = %d %q", code, body)
	}
}

func TestStatusHandler_Metrics(t *testing.T) {
	server := newTestServer(t, &fakeController{})
	code, body := doRequest(t, http.MethodGet, server.URL+"/metrics")
	if code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", code)
	}
	if !strings.Contains(body, "tunnel_active_forwards") {
		t.Fatalf("metrics output lacks tunnel collectors:\n%s", body)
	}
}

func TestStatusHandler_MethodNotAllowed(t *testing.T) {
	server := newTestServer(t, &fakeController{})
	if code, _ := doRequest(t, http.MethodGet, server.URL+"/stop"); code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /stop = %d, want 405", code)
	}
}

func TestParseRelays(t *testing.T) {
	key, err := tunnel.GenerateSecretKey()
	if err != nil {
		t.Fatalf("GenerateSecretKey: %v", err)
	}
	relayID, err := key.PeerID()
	if err != nil {
		t.Fatalf("PeerID: %v", err)
	}
	relays, err := parseRelays([]string{"/ip4/198.51.100.7/tcp/4001/p2p/" + relayID.String()})
	if err != nil {
		t.Fatalf("parseRelays: %v", err)
	}
	if len(relays) != 1 || len(relays[0].Addrs) != 1 {
		t.Fatalf("relays = %v", relays)
	}
	if _, err := parseRelays([]string{"/ip4/198.51.100.7/tcp/4001"}); err == nil {
		t.Fatal("expected an error for a relay without a peer ID")
	}
}
