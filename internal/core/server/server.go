// Package server wires the HTTP routes and runs the listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	reuseport "github.com/kavu/go_reuseport"

	"github.com/bchartier/cadastre.gouv/internal/core/health"
	middleware "github.com/bchartier/cadastre.gouv/internal/core/middleware"
)

type Routes struct {
	// WMS answers every path not claimed by another route.
	WMS         http.Handler
	Metrics     http.Handler
	MetricsPath string
	Ready       []health.Check
}

func NewRouter(logger *slog.Logger, rt Routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(2*time.Second, rt.Ready...))
	if rt.Metrics != nil && rt.MetricsPath != "" {
		r.Get(rt.MetricsPath, rt.Metrics.ServeHTTP)
	}
	r.Get("/", rt.WMS.ServeHTTP)
	r.Get("/*", rt.WMS.ServeHTTP)
	return r
}

// Listen opens addr. With reusePort several processes may bind the same
// port and the kernel balances connections between them.
func Listen(addr string, reusePort bool) (net.Listener, error) {
	if reusePort {
		ln, err := reuseport.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("listen %s (reuseport): %w", addr, err)
		}
		return ln, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

// Run serves h on ln until ctx ends, then shuts down gracefully.
func Run(ctx context.Context, ln net.Listener, logger *slog.Logger, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", ln.Addr().String())
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
