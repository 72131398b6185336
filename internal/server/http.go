package server

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/whisper-web/internal/metrics"
	"github.com/skypro1111/whisper-web/internal/relay"
	"github.com/skypro1111/whisper-web/internal/upload"
)

//go:embed templates/index.html
var templateFS embed.FS

// HTTPServer serves the upload form, the upload endpoint and monitoring routes
type HTTPServer struct {
	server  *http.Server
	handler http.Handler
	logger  *slog.Logger
	config  HTTPServerConfig
	gate    *upload.Gate
	relay   *relay.Relay
	metrics *metrics.Metrics

	listener  net.Listener
	startTime time.Time
}

// HTTPServerConfig contains HTTP server configuration
type HTTPServerConfig struct {
	Address       string
	Port          int
	MaxUploadSize int64         // request body cap for /upload, in bytes
	WriteTimeout  time.Duration // must outlast the relay timeout
}

// NewHTTPServer wires the router. gatherer backs the /metrics endpoint.
func NewHTTPServer(cfg HTTPServerConfig, logger *slog.Logger, gate *upload.Gate, r *relay.Relay,
	m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 330 * time.Second
	}

	h := &HTTPServer{
		logger:    logger,
		config:    cfg,
		gate:      gate,
		relay:     r,
		metrics:   m,
		startTime: time.Now(),
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.SetHTMLTemplate(template.Must(template.ParseFS(templateFS, "templates/index.html")))
	h.setupRoutes(router, gatherer)
	h.handler = router

	h.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Address, fmt.Sprintf("%d", cfg.Port)),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP routes
func (h *HTTPServer) setupRoutes(router *gin.Engine, gatherer prometheus.Gatherer) {
	router.Use(h.recovery(), h.requestLogger(), h.withMetrics())

	router.GET("/", h.handleIndex)
	router.POST("/upload", limitBody(h.config.MaxUploadSize), h.handleUpload)
	router.GET("/health", h.handleHealth)
	router.GET("/stats", h.handleStats)

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// Handler exposes the router, mainly for tests
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// Start binds the listener and serves in the background
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}
	h.listener = ln

	h.logger.Info("Starting HTTP server",
		slog.String("address", ln.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound address once Start succeeded
func (h *HTTPServer) Addr() string {
	if h.listener == nil {
		return h.server.Addr
	}
	return h.listener.Addr().String()
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")

	return h.server.Shutdown(ctx)
}
