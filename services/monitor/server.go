// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/semiosis/services/telemetry"
)

const (
	serviceName  = "semiosis-monitor"
	writeTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
}

// Server serves run progress and metrics.
type Server struct {
	tracker *Tracker
	router  *gin.Engine
	srv     *http.Server
}

// NewServer builds the router. Nothing listens until Start.
//
// Routes:
//   - GET /healthz: liveness.
//   - GET /metrics: Prometheus exposition (404 unless the prometheus
//     exporter is active).
//   - GET /v1/progress: JSON snapshot of every run.
//   - GET /v1/progress/stream: websocket pushing a snapshot on each change.
func NewServer(tracker *Tracker, addr string) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))

	s := &Server{tracker: tracker, router: router}
	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", s.handleMetrics)
	v1 := router.Group("/v1")
	v1.GET("/progress", s.handleProgress)
	v1.GET("/progress/stream", s.handleStream)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, for embedding or tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the configured address in the background and returns
// the bound address.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return "", fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Monitor server stopped", "error", err)
		}
	}()
	slog.Info("Monitor server listening", "addr", ln.Addr().String())
	return ln.Addr().String(), nil
}

// Shutdown stops the server gracefully. Open websocket streams are closed
// by the hijacked connections' handlers when the client goes away.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleMetrics(c *gin.Context) {
	h := telemetry.MetricsHandler()
	if h == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "prometheus exporter not enabled"})
		return
	}
	h.ServeHTTP(c.Writer, c.Request)
}

func (s *Server) handleProgress(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"runs": s.tracker.Snapshot()})
}

func (s *Server) handleStream(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()

	updates, cancel := s.tracker.Subscribe()
	defer cancel()

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	if err := s.send(ws, s.tracker.Snapshot()); err != nil {
		return
	}
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := s.send(ws, snap); err != nil {
				return
			}
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (s *Server) send(ws *websocket.Conn, snap []Progress) error {
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteJSON(gin.H{"runs": snap}); err != nil {
		slog.Debug("Failed to write WebSocket JSON", "error", err)
		return err
	}
	return nil
}
