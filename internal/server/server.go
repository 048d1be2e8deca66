// Package server is a development data service: the REST endpoints and the
// push socket the inbox client talks to, backed by SQLite.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/inbox/internal/auth"
	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/store"
	"go.uber.org/zap"
)

// Options configures a Server.
type Options struct {
	Addr string
	// JWTSecret enables bearer token verification. Empty accepts every request.
	JWTSecret []byte
	// PingInterval is how often push sockets are pinged.
	PingInterval time.Duration
	Logger       *zap.Logger
}

// Server serves users, conversations and messages, and broadcasts every
// conversation and message write to the push sockets.
type Server struct {
	db           *store.DB
	bus          *bus.Bus
	verifier     *auth.Verifier
	pingInterval time.Duration
	logger       *zap.Logger
	router       *gin.Engine
	http         *http.Server
}

// New creates a server over db. Writes are published on b.
func New(db *store.DB, b *bus.Bus, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	s := &Server{
		db:           db,
		bus:          b,
		pingInterval: opts.PingInterval,
		logger:       logger,
	}
	if len(opts.JWTSecret) > 0 {
		s.verifier = auth.NewVerifier(opts.JWTSecret)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.accessLog())

	api := router.Group("/", s.authenticate())
	api.GET("/users", s.listUsers)
	api.POST("/users", s.createUser)
	api.GET("/conversations", s.listConversations)
	api.GET("/conversations/:id", s.getConversation)
	api.POST("/conversations", s.createConversation)
	api.PATCH("/conversations/:id", s.patchConversation)
	api.GET("/messages", s.listMessages)
	api.POST("/messages", s.createMessage)
	api.GET("/push", s.pushSocket)

	s.router = router
	s.http = &http.Server{Addr: opts.Addr, Handler: router}
	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on the configured address. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}

// authenticate verifies the bearer token when a secret is configured.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.verifier == nil {
			c.Next()
			return
		}
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || token == "" {
			abort(c, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := s.verifier.Verify(token)
		if err != nil {
			abort(c, http.StatusUnauthorized, err.Error())
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

const claimsKey = "claims"

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
