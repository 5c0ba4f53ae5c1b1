package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/microplan/pkg/configuration"
	"github.com/iota-uz/microplan/pkg/constants"
	"github.com/iota-uz/microplan/pkg/middleware"
)

type Options struct {
	Logger        *logrus.Logger
	Configuration *configuration.Configuration
	Pool          *pgxpool.Pool
}

type HTTPServer struct {
	router *mux.Router
	srv    *http.Server
}

// New builds the ops shell: request-id and logging middleware on every
// route, a health probe, and the Prometheus handler when enabled.
func New(options *Options) *HTTPServer {
	r := mux.NewRouter()
	r.Use(
		middleware.RequestID(),
		middleware.WithLogger(options.Logger),
		middleware.Provide(constants.PoolKey, options.Pool),
	)

	r.HandleFunc("/health", healthHandler(options.Pool)).Methods(http.MethodGet)
	if options.Configuration.Prometheus.Enabled {
		r.Handle(options.Configuration.Prometheus.Path, promhttp.Handler()).Methods(http.MethodGet)
	}

	return &HTTPServer{router: r}
}

func (s *HTTPServer) Router() *mux.Router {
	return s.router
}

func (s *HTTPServer) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.srv.ListenAndServe()
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func healthHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		if err := pool.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]string{"status": "degraded", "database": err.Error()}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
