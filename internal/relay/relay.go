// Package relay forwards a stored upload to the transcription backend and
// translates whatever comes back into the JSON result returned to the browser.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/skypro1111/whisper-web/internal/metrics"
	"github.com/skypro1111/whisper-web/internal/transcription"
	"github.com/skypro1111/whisper-web/internal/upload"
)

const (
	MsgConnectFailed  = "Failed to connect to Whisper server"
	MsgInternalFailed = "An error occurred during transcription"
)

// Success is the body returned when the remote server produced a transcription
type Success struct {
	Success       bool   `json:"success"`
	Transcription string `json:"transcription"`
	Filename      string `json:"filename"`
}

// Failure is the body returned for every relay error
type Failure struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// Result is an HTTP status paired with its JSON body
type Result struct {
	Status int
	Body   any
}

// Relay owns scratch files handed to it and sends them to a Transcriber
type Relay struct {
	transcriber transcription.Transcriber
	logger      *slog.Logger
	metrics     *metrics.Metrics

	mu    sync.RWMutex
	stats Stats
}

// Stats summarises relay traffic since startup
type Stats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	ServerErrors    uint64        `json:"server_errors"`
	ConnectErrors   uint64        `json:"connect_errors"`
	InternalErrors  uint64        `json:"internal_errors"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// New creates a Relay. m may be nil.
func New(t transcription.Transcriber, logger *slog.Logger, m *metrics.Metrics) *Relay {
	return &Relay{
		transcriber: t,
		logger:      logger,
		metrics:     m,
	}
}

// Transcribe relays scratch to the backend and always releases it before
// returning, whatever the outcome.
func (r *Relay) Transcribe(ctx context.Context, scratch *upload.ScratchFile) Result {
	defer scratch.Release()

	start := time.Now()
	resp, err := r.transcriber.Transcribe(ctx, transcription.Request{
		FilePath: scratch.Path,
		Filename: scratch.Name,
		Format:   scratch.Format,
	})
	elapsed := time.Since(start)

	outcome := transcription.Outcome(err)
	r.record(outcome, elapsed)
	if r.metrics != nil {
		r.metrics.RecordTranscription(outcome, elapsed.Seconds())
	}

	if err != nil {
		r.logger.Error("Transcription failed",
			slog.String("filename", scratch.Name),
			slog.String("outcome", outcome),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
		return failure(err)
	}

	r.logger.Info("Transcription completed",
		slog.String("filename", scratch.Name),
		slog.Int("chars", len(resp.Text)),
		slog.Duration("elapsed", elapsed),
	)

	return Result{
		Status: http.StatusOK,
		Body: Success{
			Success:       true,
			Transcription: resp.Text,
			Filename:      scratch.Name,
		},
	}
}

func failure(err error) Result {
	var serverErr *transcription.ServerError
	var connectErr *transcription.ConnectError

	body := Failure{Error: MsgInternalFailed, Details: err.Error()}
	switch {
	case errors.As(err, &serverErr):
		body = Failure{
			Error:   fmt.Sprintf("Whisper server error: %d", serverErr.StatusCode),
			Details: serverErr.Body,
		}
	case errors.As(err, &connectErr):
		body = Failure{Error: MsgConnectFailed, Details: connectErr.Error()}
	}

	return Result{Status: http.StatusInternalServerError, Body: body}
}

func (r *Relay) record(outcome string, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.TotalRequests++
	switch outcome {
	case "success":
		r.stats.SuccessRequests++
	case "server_error":
		r.stats.ServerErrors++
	case "connect_error":
		r.stats.ConnectErrors++
	default:
		r.stats.InternalErrors++
	}

	// Simple moving average
	if r.stats.AvgResponseTime == 0 {
		r.stats.AvgResponseTime = elapsed
	} else {
		r.stats.AvgResponseTime = (r.stats.AvgResponseTime + elapsed) / 2
	}
}

// GetStats returns current relay statistics
func (r *Relay) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := r.stats
	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.SuccessRequests) / float64(stats.TotalRequests) * 100
	}
	return stats
}
