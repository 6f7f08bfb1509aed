package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/net/netutil"

	"finerp/core"
	"finerp/observability"
	"finerp/observability/otel"
)

// Config holds the transport settings of the JSON-RPC server.
type Config struct {
	ListenAddress  string
	MaxConnections int
	// JWTSecret enables the dev namespace. Empty disables it.
	JWTSecret       string
	RateLimitPerSec float64
	RateLimitBurst  int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	// Metrics exposes GET /metrics.
	Metrics bool
}

type methodHandler func(r *http.Request, params []json.RawMessage) (interface{}, error)

// Server serves JSON-RPC 2.0 over HTTP for a single chain.
type Server struct {
	chain   *core.Chain
	cfg     Config
	logger  *slog.Logger
	limiter *rateLimiter
	auth    *authenticator
	hub     *eventHub
	methods map[string]methodHandler

	serverMu   sync.Mutex
	httpServer *http.Server
}

func NewServer(chain *core.Chain, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		chain:   chain,
		cfg:     cfg,
		logger:  logger.With("component", "rpc"),
		limiter: newRateLimiter(cfg.RateLimitPerSec, cfg.RateLimitBurst),
		auth:    newAuthenticator(cfg.JWTSecret),
		hub:     newEventHub(),
	}
	s.methods = s.routes()
	chain.OnCommit(s.hub.publish)
	return s
}

// Handler returns the HTTP handler with every route and middleware wired.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(withRequestID)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.With(s.limiter.middleware).Post("/rpc", s.handle)
	r.Get("/ws", s.handleEvents)
	if s.cfg.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	handler := otelhttp.NewHandler(r, "finerp-rpc")
	return h2c.NewHandler(handler, &http2.Server{})
}

// Serve accepts connections on listener until Shutdown is called.
func (s *Server) Serve(listener net.Listener) error {
	if s.cfg.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, s.cfg.MaxConnections)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	s.serverMu.Lock()
	s.httpServer = srv
	s.serverMu.Unlock()

	s.logger.Info("JSON-RPC server listening", "address", listener.Addr().String())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	return s.Serve(listener)
}

// Shutdown stops accepting requests and closes event streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.close()
	s.serverMu.Lock()
	srv := s.httpServer
	s.serverMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, &RPCError{Code: codeInvalidRequest, Message: message})
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, &RPCError{Code: codeInvalidRequest, Message: "request body required"})
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, &RPCError{Code: codeParseError, Message: "invalid JSON payload", Data: err.Error()})
		return
	}
	if req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, &RPCError{Code: codeInvalidRequest, Message: "unsupported jsonrpc version"})
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, &RPCError{Code: codeInvalidRequest, Message: "method required"})
		return
	}

	start := time.Now()
	ctx, span := otel.Tracer().Start(r.Context(), "rpc."+req.Method)
	span.SetAttributes(attribute.String("rpc.method", req.Method), attribute.String("rpc.request_id", requestID(r.Context())))
	defer span.End()

	result, rpcErr := s.dispatch(r.WithContext(ctx), req)
	duration := time.Since(start)

	metricMethod := req.Method
	if !s.knownMethod(req.Method) {
		metricMethod = "unknown"
	}
	logAttrs := []any{"requestid", requestID(r.Context()), "method", req.Method, "duration", duration}
	if rpcErr != nil {
		kind := "rpc"
		if data, ok := rpcErr.Data.(errorKindData); ok {
			kind = data.Kind
		}
		observability.RPC().Observe(metricMethod, kind, duration)
		span.SetStatus(codes.Error, rpcErr.Message)
		s.logger.Info("rpc request failed", append(logAttrs, "code", rpcErr.Code, "error", rpcErr.Message)...)
		status := http.StatusOK
		if rpcErr.Code == codeUnauthorized {
			status = http.StatusUnauthorized
		}
		writeError(w, status, req.ID, rpcErr)
		return
	}
	observability.RPC().Observe(metricMethod, "", duration)
	s.logger.Debug("rpc request", logAttrs...)
	writeResult(w, req.ID, result)
}

func (s *Server) dispatch(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	if strings.HasPrefix(req.Method, "dev_") {
		if authErr := s.auth.authorize(r); authErr != nil {
			observability.RPC().RecordThrottle("unauthorized")
			return nil, authErr
		}
	}
	var (
		result interface{}
		err    error
	)
	if handler, ok := s.methods[req.Method]; ok {
		result, err = handler(r, req.Params)
	} else if namespace, method, ok := strings.Cut(req.Method, "_"); ok && moduleNamespaces[namespace] {
		result, err = s.handleModuleView(namespace, method, req.Params)
	} else {
		return nil, &RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("method %s not found", req.Method)}
	}
	if err != nil {
		return nil, toRPCError(err)
	}
	return result, nil
}

func (s *Server) knownMethod(name string) bool {
	if _, ok := s.methods[name]; ok {
		return true
	}
	namespace, _, ok := strings.Cut(name, "_")
	return ok && moduleNamespaces[namespace]
}
