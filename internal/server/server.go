// Package server exposes the gateway over HTTP: streaming-HTTP JSON-RPC at
// /mcp/{slugOrId}, SSE streams at /sse/{slugOrId} with their /messages
// side channel, and health probes.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/rayven122/tumiki-sub015/internal/auth"
	"github.com/rayven122/tumiki-sub015/internal/config"
	customerrors "github.com/rayven122/tumiki-sub015/internal/errors"
	"github.com/rayven122/tumiki-sub015/internal/metrics"
	"github.com/rayven122/tumiki-sub015/internal/requestlog"
	"github.com/rayven122/tumiki-sub015/internal/session"
	"github.com/rayven122/tumiki-sub015/internal/tracing"
)

const (
	defaultKeepAliveInterval = 30 * time.Second
	defaultMaxBodyBytes      = 4 << 20
	readHeaderTimeout        = 10 * time.Second

	// HeaderSessionID carries the streaming-HTTP session id.
	HeaderSessionID = "Mcp-Session-Id"
)

// ToolExecutor runs tools on behalf of an authenticated request.
type ToolExecutor interface {
	Execute(ctx context.Context, ac *auth.AuthContext, fullName string, args map[string]any) (*mcp.CallToolResult, error)
	ExecuteUnified(ctx context.Context, ac *auth.AuthContext, fullName string, args map[string]any) (*mcp.CallToolResult, error)
	ListTools(ctx context.Context, ac *auth.AuthContext) ([]mcp.Tool, error)
}

// Dependencies are the components the HTTP surface is built on.
type Dependencies struct {
	Auth       *auth.Router
	Sessions   *session.Manager
	Executor   ToolExecutor
	RequestLog *requestlog.Logger
	Metrics    *metrics.Registry
	Tracing    *tracing.Provider

	// Ready reports whether the gateway accepts new work. Nil means always.
	Ready func() bool
}

// Server is the gateway's HTTP front door.
type Server struct {
	cfg     config.ServerConfig
	deps    Dependencies
	version string
	logger  *zap.Logger
	router  chi.Router
	streams *streamRegistry

	mu     sync.Mutex
	server *http.Server
	wg     sync.WaitGroup
}

// CreateServer builds the HTTP surface. Call Start to listen.
func CreateServer(cfg config.ServerConfig, deps Dependencies, version string, logger *zap.Logger) *Server {
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = defaultKeepAliveInterval
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		version: version,
		logger:  logger.With(zap.String("component", "server")),
		streams: newStreamRegistry(),
	}
	s.router = s.routes()

	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	authenticate := s.deps.Auth.Middleware(s.writeError)
	pathPattern := "/{" + auth.PathParam + "}"

	r.Route("/mcp", func(r chi.Router) {
		r.Use(s.deps.Tracing.Middleware("/mcp" + pathPattern))
		r.Use(s.trackRequest(string(session.KindStreamableHTTP)))
		r.With(authenticate).Post(pathPattern, s.handleStreamablePost)
		r.With(authenticate).Delete(pathPattern, s.handleStreamableDelete)
	})

	// SSE streams live for the whole session and get no request span.
	r.With(s.trackRequest(string(session.KindSSE)), authenticate).Get("/sse"+pathPattern, s.handleSSE)
	r.With(s.deps.Tracing.Middleware(messagesPath), s.trackRequest(string(session.KindSSE))).Post(messagesPath, s.handleMessage)

	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address in the background.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}

	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.logger.Info("Starting gateway server", zap.String("address", ln.Addr().String()))

		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Gateway server error", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown ends every open SSE stream and stops the listener, waiting for
// in-flight requests or ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.streams.closeAll()

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	s.wg.Wait()

	s.logger.Info("Gateway server stopped")

	return err
}

func (s *Server) ready() bool {
	return s.deps.Ready == nil || s.deps.Ready()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})

		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ready",
		"sessions": s.deps.Sessions.Count(),
	})
}

// writeError renders err as the normalized error shape and records it on the
// request's execution context.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	info := customerrors.ToErrorInfo(err)

	if ec, ok := requestlog.FromContext(r.Context()); ok {
		ec.SetError(err)
	}

	s.writeJSON(w, info.HTTPStatus, map[string]customerrors.ErrorInfo{"error": info})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("Failed to encode JSON response", zap.Error(err))
	}
}
