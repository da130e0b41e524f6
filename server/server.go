// Package server exposes the stateless helpers of the proving client over
// HTTP: selective-disclosure selector packing and off-chain verification of
// disclosure proofs.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/anchorageoss/selfprove-teeclient/verify"
)

// Config holds the HTTP server settings
type Config struct {
	Addr string

	MaxRequestSize  int64
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	EnableCORS  bool
	CorsOrigins []string
}

// DefaultConfig returns the settings used by the serve command
func DefaultConfig() *Config {
	return &Config{
		Addr:            ":8080",
		MaxRequestSize:  1 << 20,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate rejects unusable settings
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.MaxRequestSize <= 0 {
		return fmt.Errorf("invalid max request size: %d", c.MaxRequestSize)
	}
	if c.EnableCORS && len(c.CorsOrigins) == 0 {
		return fmt.Errorf("CORS enabled but no origins configured")
	}
	return nil
}

// Verifier checks disclosure proofs. *verify.Service implements it.
type Verifier interface {
	Verify(ctx context.Context, req *verify.Request) (*verify.Result, error)
}

// Server serves the HTTP API
type Server struct {
	cfg       *Config
	verifier  Verifier
	formatter *verify.Formatter
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a server. A nil verifier disables /v1/verify.
func New(cfg *Config, verifier Verifier, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:       cfg,
		verifier:  verifier,
		formatter: verify.NewFormatter(),
		logger:    logger,
		now:       time.Now,
	}
}

// Handler returns the routed handler with its middleware
func (s *Server) Handler() http.Handler {
	return s.router()
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	httpServer := &http.Server{
		Addr:           s.cfg.Addr,
		Handler:        s.Handler(),
		ReadTimeout:    s.cfg.ReadTimeout,
		WriteTimeout:   s.cfg.WriteTimeout,
		IdleTimeout:    s.cfg.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", s.cfg.Addr), zap.Bool("verify", s.verifier != nil))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}
