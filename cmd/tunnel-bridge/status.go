// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/theopenpresenter/tunnel/tunnel"
)

// bridgeController is the part of *tunnel.Controller the HTTP surface
// drives.
type bridgeController interface {
	Start(ctx context.Context) (tunnel.Status, error)
	Stop() error
	Status() tunnel.Status
	Ticket() (string, bool)
}

// newStatusHandler serves the control surface. Bridges started through
// POST /start live under ctx, the process interrupt scope.
func newStatusHandler(ctx context.Context, controller bridgeController, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", func(writer http.ResponseWriter, request *http.Request) {
		writeJSON(writer, http.StatusOK, controller.Status())
	})

	mux.HandleFunc("GET /ticket", func(writer http.ResponseWriter, request *http.Request) {
		ticket, ok := controller.Ticket()
		if !ok {
			http.Error(writer, "bridge is not running", http.StatusNotFound)
			return
		}
		writer.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(writer, ticket)
	})

	mux.HandleFunc("POST /start", func(writer http.ResponseWriter, request *http.Request) {
		status, err := controller.Start(ctx)
		switch {
		case errors.Is(err, tunnel.ErrAlreadyRunning):
			http.Error(writer, err.Error(), http.StatusConflict)
		case err != nil:
			logger.Error("starting bridge", "error", err)
			http.Error(writer, err.Error(), http.StatusInternalServerError)
		default:
			writeJSON(writer, http.StatusOK, status)
		}
	})

	mux.HandleFunc("POST /stop", func(writer http.ResponseWriter, request *http.Request) {
		if err := controller.Stop(); err != nil {
			logger.Warn("stopping bridge", "error", err)
		}
		writeJSON(writer, http.StatusOK, controller.Status())
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}

func writeJSON(writer http.ResponseWriter, code int, value any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(code)
	json.NewEncoder(writer).Encode(value)
}
