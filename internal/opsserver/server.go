// Invigilo - Assessment Session Proctoring Engine
// Copyright 2026 Invigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/invigilo/invigilo

// Package opsserver exposes the read-only operational HTTP surface: process
// health, the live session snapshot, and Prometheus metrics. It consumes
// only the session's public snapshot API and never mutates engine state.
package opsserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/invigilo/invigilo/internal/logging"
	"github.com/invigilo/invigilo/internal/proctor"
)

// StatusSource is the slice of the session the ops surface reads.
// *proctor.Session satisfies it.
type StatusSource interface {
	Status() proctor.SessionSnapshot
}

// Config configures the listener.
type Config struct {
	Host string `json:"host"`
	Port int    `json:"port"`

	// Timeout bounds request handling and graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// Server is the operational HTTP listener.
type Server struct {
	httpServer *http.Server
	timeout    time.Duration
}

// healthResponse is the /healthz body.
type healthResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

// New builds the server and its routes.
func New(cfg Config, source StatusSource) *Server {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Get("/healthz", handleHealth(source))
	r.Get("/status", handleStatus(source))
	r.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		timeout: timeout,
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// HTTPServer exposes the underlying server for the supervisor wrapper.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ShutdownTimeout is the graceful shutdown budget.
func (s *Server) ShutdownTimeout() time.Duration {
	return s.timeout
}

func handleHealth(source StatusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := source.Status()
		writeJSON(w, http.StatusOK, healthResponse{
			Status:    "ok",
			SessionID: snap.SessionID,
			State:     string(snap.State),
		})
	}
}

func handleStatus(source StatusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, source.Status())
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error().Err(err).Msg("write ops response")
	}
}
