// Package serving exposes the prediction pipeline over HTTP.
//
// Routes:
//
//	GET  /health        liveness and readiness
//	POST /predict       one record
//	POST /predict_bulk  {"records": [...]}, answered in input order
//	GET  /metrics       Prometheus exposition
package serving

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/codegangsta/negroni"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/YuminosukeSato/failrisk/config"
	"github.com/YuminosukeSato/failrisk/dataset"
	"github.com/YuminosukeSato/failrisk/pkg/errors"
	"github.com/YuminosukeSato/failrisk/pkg/log"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 32 << 20

// Predictor is satisfied by *pipeline.PredictPipeline.
type Predictor interface {
	Ready() bool
	Predict(records []dataset.Record) ([]string, error)
}

// Server is the HTTP front of a Predictor.
type Server struct {
	predictor Predictor
	cfg       config.ServerConfig

	cache    *lru.Cache // nil when caching is disabled
	metrics  *Metrics
	registry *prometheus.Registry
	logger   log.Logger

	handler http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger log.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRegistry registers the service metrics on registry instead of a fresh one.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = registry
	}
}

// NewServer builds the router for predictor.
func NewServer(predictor Predictor, cfg config.ServerConfig, opts ...Option) (*Server, error) {
	if predictor == nil {
		return nil, errors.NewValueError("NewServer", "predictor is nil")
	}
	s := &Server{
		predictor: predictor,
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.NewNopLogger()
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = NewMetrics(s.registry)

	if cfg.CacheSize > 0 {
		cache, err := lru.New(cfg.CacheSize)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create prediction cache")
		}
		s.cache = cache
	}
	if predictor.Ready() {
		s.metrics.Ready.Set(1)
	}

	s.handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.withRequestID)

	r.HandleFunc("/health", s.instrument("health", s.health)).Methods(http.MethodGet)
	r.HandleFunc("/predict", s.instrument("predict", s.predict)).Methods(http.MethodPost)
	r.HandleFunc("/predict_bulk", s.instrument("predict_bulk", s.predictBulk)).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	cors := handlers.CORS(
		handlers.AllowedOrigins(s.cfg.CORSOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", requestIDHeader}),
		handlers.ExposedHeaders([]string{requestIDHeader}),
	)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
		handlers.PrintRecoveryStack(false),
	)
	return recovery(cors(r))
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
// within ShutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.cfg.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	s.logger.Info("Prediction service listening", log.AddrKey, ln.Addr().String())

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "server stopped")
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down prediction service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "graceful shutdown failed")
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server stopped")
	}
	return nil
}

// recoveryLogger adapts Logger to handlers.RecoveryHandlerLogger.
type recoveryLogger struct {
	logger log.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error("Recovered from panic in handler", "panic", fmt.Sprint(v...))
}

func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := negroni.NewResponseWriter(w)
		h(rw, r)
		elapsed := time.Since(start)

		// 何も書かなかったハンドラは net/http が 200 を返す
		status := rw.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.Requests.WithLabelValues(route, fmt.Sprint(status)).Inc()
		s.metrics.Latency.WithLabelValues(route).Observe(elapsed.Seconds())
		loggerFrom(r.Context(), s.logger).Info("HTTP request",
			log.MethodKey, r.Method,
			log.RouteKey, route,
			log.StatusKey, status,
			log.ResponseBytesKey, rw.Size(),
			log.DurationMsKey, elapsed.Milliseconds(),
		)
	}
}
