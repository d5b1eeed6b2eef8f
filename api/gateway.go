// Package api implements the HTTP front door for the sandboxed script
// executor: request/response execution, static validation, an in-flight
// tool-call relay over WebSocket, and the usual liveness/readiness/metrics
// trio. It is a convenience layer over sandbox.Executor — nothing here
// is reachable from the programmatic surface, and none of it persists
// anything past a single request's lifetime.
//
// Security:
//   - Bearer JWT authentication on every /v1/* route (HS256, constant-time
//     key comparison is the verifier's job, not ours).
//   - An IP-keyed token-bucket limiter throttles /v1/* before auth even
//     runs, so a single noisy caller can't exhaust the concurrency
//     semaphore for everyone else.
//   - A concurrency semaphore bounds simultaneous executions so an
//     unbounded burst of requests cannot spawn unbounded Lua VMs.
//   - TLS is expected via a reverse proxy, not handled here.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/scriptexec/internal/metrics"
	"github.com/BaSui01/scriptexec/internal/server"
	"github.com/BaSui01/scriptexec/sandbox"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ErrorBody is the standard error response shape for every non-2xx
// response this package returns.
type ErrorBody struct {
	Kind  string `json:"kind,omitempty"`
	Error string `json:"error"`
}

// Config configures the Gateway.
type Config struct {
	ListenAddr              string
	EnableDocs              bool
	MaxConcurrentExecutions int
	ReadTimeout             time.Duration
	WriteTimeout            time.Duration
	ShutdownTimeout         time.Duration
	JWTSigningKey           []byte

	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int
}

// Gateway is the HTTP API gateway fronting one Executor.
type Gateway struct {
	config   Config
	executor *sandbox.Executor
	metrics  *metrics.Collector
	logger   *zap.Logger

	sem chan struct{}

	manager *server.Manager
	okapi   *okapi.Okapi
	group   *okapi.Group
}

// NewGateway creates an HTTP API gateway over executor.
func NewGateway(cfg Config, executor *sandbox.Executor, collector *metrics.Collector, logger *zap.Logger) *Gateway {
	if cfg.MaxConcurrentExecutions <= 0 {
		cfg.MaxConcurrentExecutions = 64
	}
	return &Gateway{
		config:   cfg,
		executor: executor,
		metrics:  collector,
		logger:   logger,
		sem:      make(chan struct{}, cfg.MaxConcurrentExecutions),
		okapi:    okapi.New(),
	}
}

// Start registers every route, launches the HTTP server non-blocking
// through an internal/server.Manager, and blocks until ctx is canceled
// or the server exits on its own.
func (g *Gateway) Start(ctx context.Context) error {
	g.okapi.UseMiddleware(g.metricsMiddleware)
	if g.config.RateLimitEnabled {
		rl := newRateLimitMiddleware(ctx, g.config.RateLimitRPS, g.config.RateLimitBurst)
		g.okapi.UseMiddleware(rl.handler)
	}

	g.group = g.okapi.Group("/v1", g.authenticate)
	g.group.Post("/execute", g.handleExecute,
		okapi.DocSummary("Run a script to completion and return its result"),
		okapi.DocTags("Execution"),
		okapi.DocRequestBody(ExecuteRequest{}),
		okapi.DocResponse(ExecuteResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusRequestTimeout, ErrorBody{}),
		okapi.DocResponse(http.StatusRequestEntityTooLarge, ErrorBody{}),
	)
	g.group.Post("/validate", g.handleValidate,
		okapi.DocSummary("Statically screen a script without running it"),
		okapi.DocTags("Execution"),
		okapi.DocRequestBody(ValidateRequest{}),
		okapi.DocResponse(ValidateResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)

	g.okapi.HandleStd("GET", "/v1/execute/stream", g.handleExecuteStream)

	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)
	g.okapi.HandleStd("GET", "/metrics", promhttp.Handler().ServeHTTP)

	if g.config.EnableDocs {
		g.okapi.WithOpenAPIDocs(okapi.OpenAPI{Title: "Script Executor", Version: "v1"})
	}

	g.manager = server.NewManager(g.okapi, server.Config{
		Addr:            g.config.ListenAddr,
		ReadTimeout:     g.config.ReadTimeout,
		WriteTimeout:    g.config.WriteTimeout,
		ShutdownTimeout: g.config.ShutdownTimeout,
	}, g.logger)

	if err := g.manager.Start(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-g.manager.Errors():
		return err
	}
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.manager == nil {
		return nil
	}
	return g.manager.Shutdown(ctx)
}

// acquire blocks until a slot is free or ctx is done.
func (g *Gateway) acquire(ctx context.Context) bool {
	select {
	case g.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (g *Gateway) release() {
	<-g.sem
}

// --- Authentication ---

func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		raw := strings.TrimPrefix(authHeader, "Bearer ")
		if err := verifyJWT(raw, g.config.JWTSigningKey); err != nil {
			return c.AbortUnauthorized("invalid or expired token")
		}
		return next(c)
	}
}

// verifyJWT checks raw against an HS256 token signed with key. Shared
// by the okapi group middleware above and the WebSocket upgrade in
// stream.go, which can't go through okapi's middleware chain.
func verifyJWT(raw string, key []byte) error {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return key, nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return jwt.ErrTokenSignatureInvalid
	}
	return nil
}

// --- Metrics middleware ---

func (g *Gateway) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		if g.metrics != nil {
			g.metrics.RecordHTTPRequest(r.Method, r.URL.Path, sw.status, time.Since(start), r.ContentLength, sw.bytes)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	n, err := s.ResponseWriter.Write(b)
	s.bytes += int64(n)
	return n, err
}

// --- Health ---

// HealthResponse is the JSON response for the liveness/readiness probes.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

func (g *Gateway) handleReadiness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}
