package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/whisper-web/internal/config"
	"github.com/skypro1111/whisper-web/internal/metrics"
	"github.com/skypro1111/whisper-web/internal/relay"
	"github.com/skypro1111/whisper-web/internal/server"
	"github.com/skypro1111/whisper-web/internal/transcription"
	"github.com/skypro1111/whisper-web/internal/upload"
)

const (
	serviceName    = "whisper-web"
	serviceVersion = "1.0.0"
)

func main() {
	// An empty path means environment variables and defaults only
	configPath := flag.String("config", "", "Path to optional YAML configuration file")
	flag.Parse()

	cfg, err := config.Loader{Path: *configPath}.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("listen_address", cfg.Server.ListenAddress()),
		slog.String("whisper_backend", cfg.Whisper.Backend),
		slog.String("whisper_url", cfg.Whisper.BaseURL()),
		slog.Duration("whisper_timeout", cfg.Whisper.GetTimeoutDuration()),
		slog.String("upload_folder", cfg.Upload.Folder),
		slog.Int64("max_file_size", cfg.Upload.MaxFileSize),
		slog.String("log_level", cfg.Logging.Level),
	)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)

	gate, err := upload.NewGate(cfg.Upload.Folder, cfg.Upload.AllowedExtensions, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to prepare upload folder", slog.String("error", err.Error()))
		os.Exit(1)
	}

	transcriber, err := newTranscriber(cfg.Whisper)
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Address:       cfg.Server.Address,
		Port:          cfg.Server.Port,
		MaxUploadSize: cfg.Upload.MaxFileSize,
		WriteTimeout:  cfg.Whisper.GetTimeoutDuration() + cfg.Server.GetShutdownTimeoutDuration(),
	}, logger, gate, relay.New(transcriber, logger, appMetrics), appMetrics, prometheus.DefaultGatherer)

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("address", httpServer.Addr()),
	)

	<-ctx.Done()
	logger.Info("Starting graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GetShutdownTimeoutDuration())
	defer cancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	logger.Info("Service stopped")
}

// newTranscriber builds the client for the configured backend
func newTranscriber(cfg config.WhisperConfig) (transcription.Transcriber, error) {
	switch cfg.Backend {
	case config.BackendOpenAI:
		temperature, err := strconv.ParseFloat(cfg.Temperature, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid temperature %q: %w", cfg.Temperature, err)
		}
		return transcription.NewOpenAIClient(transcription.OpenAIConfig{
			BaseURL:     cfg.BaseURL() + "/v1",
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: float32(temperature),
			Timeout:     cfg.GetTimeoutDuration(),
		})
	default:
		return transcription.NewWhisperClient(transcription.Config{
			Endpoint:       cfg.InferenceURL(),
			Timeout:        cfg.GetTimeoutDuration(),
			Temperature:    cfg.Temperature,
			ResponseFormat: cfg.ResponseFormat,
		})
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
