// Package whispertest provides a stand-in for a whisper.cpp server's
// /inference endpoint, used by tests and by cmd/fakewhisper.
package whispertest

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/skypro1111/whisper-web/internal/audio"
)

// Received captures one inference request as seen by the server
type Received struct {
	Filename       string
	Temperature    string
	ResponseFormat string
	AudioFormat    string
	ContentLength  int64
	Audio          []byte
	WAV            *audio.WAVInfo
}

// Server answers POST /inference. The zero value replies 200 {"text": ""}.
type Server struct {
	Text       string        // transcription to return
	StatusCode int           // non-zero and not 200: reply with this status and ErrorBody
	ErrorBody  string        // raw body sent with StatusCode
	RawBody    string        // non-empty: sent verbatim with 200 instead of {"text": Text}
	Delay      time.Duration // sleep before answering
	Logger     *slog.Logger

	mu       sync.Mutex
	received []Received
}

type inferenceResponse struct {
	Text string `json:"text"`
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/inference" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	rec := Received{
		Filename:       header.Filename,
		Temperature:    r.FormValue("temperature"),
		ResponseFormat: r.FormValue("response-format"),
		AudioFormat:    r.FormValue("audio_format"),
		ContentLength:  r.ContentLength,
		Audio:          audioData,
	}
	if rec.AudioFormat == "wav" {
		if info, err := audio.ParseWAVInfo(audioData); err == nil {
			rec.WAV = info
		}
	}

	s.mu.Lock()
	s.received = append(s.received, rec)
	s.mu.Unlock()

	if s.Logger != nil {
		attrs := []any{
			slog.String("filename", rec.Filename),
			slog.Int("size", len(audioData)),
			slog.String("audio_format", rec.AudioFormat),
			slog.String("temperature", rec.Temperature),
		}
		if rec.WAV != nil {
			attrs = append(attrs, slog.Float64("duration_seconds", rec.WAV.Duration))
		}
		s.Logger.Info("Inference request received", attrs...)
	}

	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-r.Context().Done():
			return
		}
	}

	if s.StatusCode != 0 && s.StatusCode != http.StatusOK {
		w.WriteHeader(s.StatusCode)
		io.WriteString(w, s.ErrorBody)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if s.RawBody != "" {
		io.WriteString(w, s.RawBody)
		return
	}
	json.NewEncoder(w).Encode(inferenceResponse{Text: s.Text})
}

// Requests returns a copy of everything received so far
func (s *Server) Requests() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Received(nil), s.received...)
}
