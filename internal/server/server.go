// Package server exposes normalization, querying and nested-field
// classification over a stateless JSON HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"datagrid/internal/config"
	"datagrid/internal/logger"
	"datagrid/internal/pipeline"

	"github.com/gin-gonic/gin"
	"golang.org/x/text/language"
)

// Options configures the API.
type Options struct {
	Pipeline pipeline.Options

	// Locale is the collation locale used when a query request names none.
	Locale language.Tag

	// AllowSources permits requests to name a "source" (file path, URL, s3://)
	// instead of sending text inline.
	AllowSources bool

	RatePerMinute int
	Burst         int
	MaxBodyBytes  int64
}

// Server holds the configured router.
type Server struct {
	opts   Options
	engine *gin.Engine
}

// New builds the router and its middleware.
func New(opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 32 << 20
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(accessLog())

	s := &Server{opts: opts, engine: router}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	api.Use(rateLimit(opts.RatePerMinute, opts.Burst))
	api.POST("/normalize", s.normalize)
	api.POST("/query", s.query)
	api.POST("/classify", s.classify)
	api.POST("/sort", s.sort)

	return s
}

// FromConfig builds Options from loaded configuration.
func FromConfig(cfg config.Config, p pipeline.Options) (Options, error) {
	tag, err := language.Parse(cfg.Query.Locale)
	if cfg.Query.Locale == "" {
		tag, err = language.Und, nil
	}
	if err != nil {
		return Options{}, err
	}
	return Options{
		Pipeline:      p,
		Locale:        tag,
		AllowSources:  cfg.Server.AllowSources,
		RatePerMinute: cfg.Server.RatePerMinute,
		Burst:         cfg.Server.Burst,
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
	}, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string, readTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: readTimeout,
		ReadTimeout:       readTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("datagrid API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
