// Command fakewhisper serves a canned /inference endpoint for local
// development without a real whisper.cpp server.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skypro1111/whisper-web/internal/whispertest"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "Listen address")
	text := flag.String("text", "This is a test transcription.", "Transcription returned for every request")
	status := flag.Int("status", http.StatusOK, "HTTP status to answer with")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated processing time")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	srv := &http.Server{
		Addr: *addr,
		Handler: &whispertest.Server{
			Text:       *text,
			StatusCode: *status,
			ErrorBody:  http.StatusText(*status),
			Delay:      *delay,
			Logger:     logger,
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Fake whisper server starting", slog.String("endpoint", "http://"+*addr+"/inference"))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
