package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kadochi/shopcore/checkout"
	"github.com/kadochi/shopcore/errors"
	"github.com/kadochi/shopcore/health"
	"github.com/kadochi/shopcore/metric"
	"github.com/kadochi/shopcore/upstream"
)

const relayPrefix = "/relay"

// relayMaxBody caps buffered relay request bodies
const relayMaxBody = 4 << 20

// Config configures the HTTP server
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// AllowedOrigins lists origins permitted to use the relay endpoint;
	// "*" allows any
	AllowedOrigins []string
	// RelayRate and RelayBurst bound relay throughput; zero disables the
	// limiter
	RelayRate  float64
	RelayBurst int
}

// Server wires the shopcore HTTP surface together
type Server struct {
	cfg      Config
	flow     *checkout.Flow
	backend  *upstream.Client
	monitor  *health.Monitor
	registry *metric.MetricsRegistry
	logger   *slog.Logger
	limiter  *rate.Limiter
	mux      *http.ServeMux
}

// New creates a server. The flow and backend client are required; the
// monitor and registry are optional and their endpoints are only mounted
// when present.
func New(cfg Config, flow *checkout.Flow, backend *upstream.Client, opts ...Option) (*Server, error) {
	if flow == nil {
		return nil, fmt.Errorf("server: checkout flow is required")
	}
	if backend == nil {
		return nil, fmt.Errorf("server: backend client is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		cfg:     cfg,
		flow:    flow,
		backend: backend,
		logger:  slog.Default().With("component", "server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.RelayRate > 0 {
		burst := cfg.RelayBurst
		if burst <= 0 {
			burst = 10
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RelayRate), burst)
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/pay/start", s.flow.HandleStart)
	s.mux.HandleFunc("/pay/callback", s.flow.HandleCallback)
	s.mux.HandleFunc(relayPrefix+"/", s.handleRelay)
	if s.monitor != nil {
		s.mux.HandleFunc("/healthz", s.monitor.Handler("shopcore"))
	}
	if s.registry != nil {
		s.mux.Handle("/metrics", s.registry.Handler())
	}

	return s, nil
}

// Option configures a Server
type Option func(*Server)

// WithHealthMonitor mounts /healthz backed by the monitor
func WithHealthMonitor(m *health.Monitor) Option {
	return func(s *Server) { s.monitor = m }
}

// WithMetricsRegistry mounts /metrics backed by the registry
func WithMetricsRegistry(r *metric.MetricsRegistry) Option {
	return func(s *Server) { s.registry = r }
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// Handler returns the server's routing mux
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.mux,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("http server listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down http server")
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// handleRelay proxies a browser request onto the commerce backend with
// the same path-and-query shape, behind origin checks and rate limiting
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	s.applyCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if s.limiter != nil && !s.limiter.Allow() {
		http.Error(w, "relay rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, relayPrefix)
	if path == "" {
		path = "/"
	}

	var body []byte
	if r.Body != nil {
		data, err := io.ReadAll(io.LimitReader(r.Body, relayMaxBody))
		if err != nil {
			http.Error(w, "unreadable request body", http.StatusBadRequest)
			return
		}
		body = data
	}

	resp, err := s.backend.Call(r.Context(), upstream.Descriptor{
		Method: r.Method,
		Path:   path,
		Query:  r.URL.Query(),
		Header: conditionalHeaders(r.Header),
		Body:   body,
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	copySurfacedHeaders(w.Header(), resp.Header)
	if resp.NotModified {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// conditionalHeaders keeps only the request headers the backend should
// see through the relay
func conditionalHeaders(in http.Header) http.Header {
	out := http.Header{}
	for _, name := range []string{"If-None-Match", "If-Modified-Since", "Content-Type", "Accept"} {
		if v := in.Get(name); v != "" {
			out.Set(name, v)
		}
	}
	return out
}

// copySurfacedHeaders forwards the cacheability headers unchanged
func copySurfacedHeaders(dst, src http.Header) {
	for _, name := range []string{"ETag", "Cache-Control", "Vary", "Content-Type", "Last-Modified"} {
		if v := src.Get(name); v != "" {
			dst.Set(name, v)
		}
	}
}

// writeFailure maps a classified failure onto an HTTP response without
// leaking backend details
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	kind := errors.KindNetwork
	if f, ok := errors.AsFailure(err); ok {
		kind = f.Kind
		status = f.Kind.DefaultStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, kind.String())
}

// applyCORS mirrors the allowed origin back when it matches the
// configured list
func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")

	allowed := false
	for _, candidate := range s.cfg.AllowedOrigins {
		if candidate == "*" || candidate == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}

	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	} else {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, If-None-Match, If-Modified-Since")
	w.Header().Set("Access-Control-Max-Age", "3600")
}
