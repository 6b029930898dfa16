// Invigilo - Assessment Session Proctoring Engine
// Copyright 2026 Invigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/invigilo/invigilo

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/invigilo/invigilo/internal/proctor"
)

// AdapterService runs a detector adapter under supervision. A probe that
// fails to acquire makes Serve return an error, so suture retries the
// acquisition with backoff instead of the session giving up on the detector.
type AdapterService struct {
	adapter proctor.Adapter
}

// NewAdapterService wraps an adapter as a suture service.
func NewAdapterService(adapter proctor.Adapter) *AdapterService {
	return &AdapterService{adapter: adapter}
}

// Serve implements suture.Service. It starts the adapter, parks until the
// context is canceled, then stops it.
func (a *AdapterService) Serve(ctx context.Context) error {
	if err := a.adapter.Start(ctx); err != nil {
		return fmt.Errorf("start %s adapter: %w", a.adapter.Name(), err)
	}
	<-ctx.Done()
	if err := a.adapter.Stop(); err != nil {
		return fmt.Errorf("stop %s adapter: %w", a.adapter.Name(), err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer for suture logs.
func (a *AdapterService) String() string {
	return "adapter-" + a.adapter.Name()
}

// SessionService ties the session lifecycle to the tree: it initializes the
// session when the daemon comes up and stops it cleanly on shutdown. The
// session's own state machine guarantees the stop is a no-op after a
// termination has already fired.
type SessionService struct {
	session *proctor.Session
}

// NewSessionService wraps a session as a suture service.
func NewSessionService(session *proctor.Session) *SessionService {
	return &SessionService{session: session}
}

// Serve implements suture.Service.
func (s *SessionService) Serve(ctx context.Context) error {
	if err := s.session.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize session: %w", err)
	}
	<-ctx.Done()
	s.session.Stop()
	return ctx.Err()
}

// String implements fmt.Stringer for suture logs.
func (s *SessionService) String() string {
	return "proctor-session"
}

// HTTPService adapts a blocking http.Server to suture's context-aware Serve.
type HTTPService struct {
	server          *http.Server
	shutdownTimeout time.Duration
	name            string
}

// NewHTTPService wraps an HTTP server as a suture service.
func NewHTTPService(server *http.Server, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{
		server:          server,
		shutdownTimeout: shutdownTimeout,
		name:            "ops-http",
	}
}

// Serve implements suture.Service. ListenAndServe runs on its own goroutine;
// context cancellation triggers a graceful Shutdown bounded by the timeout.
func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ops http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("ops http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

// String implements fmt.Stringer for suture logs.
func (h *HTTPService) String() string {
	return h.name
}

// Collector is periodic maintenance work, like the audit store's value-log
// garbage collection.
type Collector interface {
	RunValueLogGC() error
}

// GCService runs a Collector on a fixed cadence.
type GCService struct {
	collector Collector
	interval  time.Duration
	name      string
}

// NewGCService wraps periodic maintenance as a suture service.
func NewGCService(name string, collector Collector, interval time.Duration) *GCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &GCService{
		collector: collector,
		interval:  interval,
		name:      name,
	}
}

// Serve implements suture.Service.
func (g *GCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// GC errors are the collector's to log; a full value log should
			// not crash-loop the delivery layer.
			_ = g.collector.RunValueLogGC()
		}
	}
}

// String implements fmt.Stringer for suture logs.
func (g *GCService) String() string {
	return g.name
}
