package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/esnunes/studio/internal/changes"
	"github.com/esnunes/studio/internal/db"
	"github.com/esnunes/studio/internal/gate"
	"github.com/esnunes/studio/internal/github"
	"github.com/esnunes/studio/internal/session"
)

// Deps are the services the HTTP layer drives. Repos may be nil, in which
// case the repository routes answer 503. Admins are the user ids allowed to
// toggle the gate and read the audit log.
type Deps struct {
	Sessions *session.Store
	Previews *changes.Builder
	Queries  *db.Queries
	Gate     *gate.Gate
	Repos    *github.Reader
	Admins   []string
	Logger   *slog.Logger
}

type Server struct {
	deps    Deps
	logger  *slog.Logger
	router  *gin.Engine
	httpSrv *http.Server
	ln      net.Listener
	addr    string
}

func New(deps Deps) (*Server, error) {
	if deps.Sessions == nil || deps.Previews == nil || deps.Queries == nil || deps.Gate == nil {
		return nil, errors.New("server: sessions, previews, queries and gate are required")
	}
	s := &Server{deps: deps, logger: deps.Logger}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.logger))
	s.registerRoutes(router)
	s.router = router

	s.httpSrv = &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	return s, nil
}

func (s *Server) registerRoutes(r *gin.Engine) {
	r.GET("/healthz", s.handleHealth)

	api := r.Group("/api", requireUser())
	api.GET("/sessions", s.handleListSessions)
	api.POST("/sessions", s.handleCreateSession)
	api.GET("/sessions/:id", s.handleGetSession)
	api.PATCH("/sessions/:id", s.handleUpdateSession)
	api.GET("/sessions/:id/previews", s.handleListPreviews)
	api.POST("/sessions/:id/previews", s.handleCreatePreview)
	api.GET("/sessions/:id/previews/:previewID", s.handleGetPreview)

	admin := requireAdmin(s.deps.Admins)
	api.GET("/admin/gate", s.handleGateStatus)
	api.POST("/admin/gate", admin, s.handleGateToggle)
	api.GET("/admin/audit", admin, s.handleAudit)

	api.GET("/repos/:owner/:name/default-branch", s.handleDefaultBranch)
	api.GET("/repos/:owner/:name/branches", s.handleBranches)
	api.GET("/repos/:owner/:name/tree", s.handleTree)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Listen binds addr. An addr with port 0 picks a free port; Addr reports the
// bound address. Call Serve to start handling requests.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}
	s.ln = ln
	s.addr = ln.Addr().String()
	return nil
}

// Serve handles requests until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("studio listening", "addr", "http://"+s.addr)
	if err := s.httpSrv.Serve(s.ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}
	s.logger.Info("studio stopped")
	return nil
}

func (s *Server) Addr() string {
	return s.addr
}

const userKey = "userID"

// requireUser trusts the X-User-ID header set by the authenticating proxy.
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-User-ID")
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing X-User-ID header"})
			return
		}
		c.Set(userKey, id)
		c.Next()
	}
}

// requireAdmin lets only the listed users through; an empty list denies
// everyone.
func requireAdmin(admins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(admins))
	for _, a := range admins {
		allowed[a] = true
	}
	return func(c *gin.Context) {
		if !allowed[userID(c)] {
			c.AbortWithStatusJSON(http.StatusForbidden, errorBody{Error: "admin access required"})
			return
		}
		c.Next()
	}
}

func userID(c *gin.Context) string {
	return c.GetString(userKey)
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration", time.Since(start),
		}
		if u := c.GetString(userKey); u != "" {
			attrs = append(attrs, "user", u)
		}
		switch {
		case status >= 500:
			logger.Error("request", attrs...)
		case status >= 400:
			logger.Warn("request", attrs...)
		default:
			logger.Debug("request", attrs...)
		}
	}
}
