package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/xpol/internal/metrics"
	xtls "github.com/loykin/xpol/internal/tls"
	"github.com/loykin/xpol/pkg/client"
)

// MaxBodyBytes caps a request body.
const MaxBodyBytes = 32 << 20

// GeneStore is what the router serves.
type GeneStore interface {
	Fetch(ctx context.Context) ([]byte, error)
	Submit(ctx context.Context, payload []byte) error
}

// Router speaks the cross-pool form protocol.
// Endpoints:
//
//	POST {path}     form: todo=get | todo=put&data=...
//	GET  /healthz
//	GET  /metrics   when metrics are enabled
//
// Every protocol failure is a 500 with an empty body.
type Router struct {
	store   GeneStore
	path    string
	logger  *slog.Logger
	metrics bool
}

// NewRouter constructs a Router serving the protocol at base (default "/xpol").
func NewRouter(store GeneStore, base string, logger *slog.Logger) *Router {
	p := normalizePath(base)
	if p == "/" {
		p = "/xpol"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{store: store, path: p, logger: logger}
}

// WithMetrics mounts the Prometheus handler at /metrics.
func (r *Router) WithMetrics(enabled bool) *Router {
	r.metrics = enabled
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.logRequests)
	g.Any(r.path, r.handleExchange)
	g.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	if r.metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// normalizePath cleans p into an absolute path without a trailing slash.
func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	return path.Clean("/" + p)
}

func (r *Router) handleExchange(c *gin.Context) {
	// Only POST carries a todo field; every other method is a protocol error.
	if c.Request.Method != http.MethodPost {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)
	ctx := c.Request.Context()

	switch c.PostForm(client.FieldTodo) {
	case client.TodoGet:
		payload, err := r.store.Fetch(ctx)
		if err != nil {
			r.fail(c, "fetch", err)
			return
		}
		c.Data(http.StatusOK, "application/octet-stream", payload)
	case client.TodoPut:
		data, ok := c.GetPostForm(client.FieldData)
		if !ok {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		if err := r.store.Submit(ctx, []byte(data)); err != nil {
			r.fail(c, "submit", err)
			return
		}
		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(client.Ack))
	default:
		c.AbortWithStatus(http.StatusInternalServerError)
	}
}

func (r *Router) fail(c *gin.Context, op string, err error) {
	r.logger.Error("store request failed", "op", op, "error", err)
	c.AbortWithStatus(http.StatusInternalServerError)
}

func (r *Router) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	r.logger.Debug("request",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
		"remote", c.ClientIP(),
		"duration", time.Since(start))
}

// Config configures a standalone store server.
type Config struct {
	Listen string       `mapstructure:"listen"`
	Path   string       `mapstructure:"path"`
	TLS    xtls.Options `mapstructure:"tls"`
}

// NewServer builds an http.Server for the router; TLS is applied when enabled.
func NewServer(cfg Config, handler http.Handler) (*http.Server, error) {
	tlsCfg, err := xtls.Setup(cfg.TLS)
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}, nil
}

// Serve runs srv until ctx is done, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
