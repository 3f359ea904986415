package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const readHeaderTimeout = 3 * time.Second

// Server exposes a registry's collectors at /metrics.
type Server struct {
	httpServer *http.Server
}

// NewServer builds a metrics server bound to addr. If addr is empty the
// server is disabled; Start then only waits for ctx to be cancelled and
// returns nil.
func NewServer(addr string, reg *prometheus.Registry) *Server {
	if addr == "" {
		return &Server{}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &Server{httpServer: &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}}
}

// Start blocks serving /metrics until ctx is cancelled, then shuts down
// gracefully. A disabled server returns nil as soon as ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.httpServer == nil {
		<-ctx.Done()
		return nil
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()
	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
