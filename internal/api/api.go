// Package api provides the HTTP surface of CarePing.
//
// It exposes the consultation upsert/cancel endpoints the booking workflow
// calls (which drive the reminder scheduler), a reminder listing for audit,
// a health check, and Prometheus metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CarePingHQ/CarePing/internal/reminder"
	"github.com/CarePingHQ/CarePing/internal/store"
)

// DefaultAddr is the default API listen address.
const DefaultAddr = ":8080"

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Server wires the HTTP handlers to the reminder scheduler and store.
type Server struct {
	scheduler *reminder.Scheduler
	store     store.Store
}

// NewServer creates an API server over the given scheduler and store.
func NewServer(scheduler *reminder.Scheduler, st store.Store) *Server {
	return &Server{scheduler: scheduler, store: st}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/consultations", s.upsertConsultationHandler)
	mux.HandleFunc("/consultations/cancel", s.cancelConsultationHandler)
	mux.HandleFunc("/reminders", s.listRemindersHandler)
	mux.HandleFunc("/healthz", s.healthHandler)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Run serves the API until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
