package metrics

import (
	"context"
	"net/http"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is a tiny HTTP server exposing /metrics, run alongside the
// callback endpoint on a separate port so scraping never competes with the
// dispatch-triggering surface for the bounded callback worker pool.
type Server struct {
	server *http.Server
	log    logr.Logger
}

func NewServer(addr string, log logr.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		server: &http.Server{Addr: addr, Handler: mux},
		log:    log.WithName("metrics-server"),
	}
}

// StartAsync starts the server in a background goroutine. Listener errors
// other than a clean shutdown, including a failure to bind addr, are only
// logged; they do not stop the process or change its exit code.
func (s *Server) StartAsync() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error(err, "metrics server stopped unexpectedly")
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
