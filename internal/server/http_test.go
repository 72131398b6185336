package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/whisper-web/internal/audio"
	"github.com/skypro1111/whisper-web/internal/metrics"
	"github.com/skypro1111/whisper-web/internal/relay"
	"github.com/skypro1111/whisper-web/internal/transcription"
	"github.com/skypro1111/whisper-web/internal/upload"
	"github.com/skypro1111/whisper-web/internal/whispertest"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

var testExtensions = []string{"wav", "mp3", "ogg", "flac", "m4a", "aac", "opus", "webm"}

type fixture struct {
	handler  http.Handler
	server   *HTTPServer
	gate     *upload.Gate
	metrics  *metrics.Metrics
	registry *prometheus.Registry
}

func newFixture(t *testing.T, endpoint string, maxUpload int64) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	gate, err := upload.NewGate(t.TempDir(), testExtensions, logger, m)
	if err != nil {
		t.Fatalf("NewGate failed: %v", err)
	}

	client, err := transcription.NewWhisperClient(transcription.Config{
		Endpoint: endpoint,
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewWhisperClient failed: %v", err)
	}

	srv := NewHTTPServer(HTTPServerConfig{
		Address:       "127.0.0.1",
		Port:          0,
		MaxUploadSize: maxUpload,
	}, logger, gate, relay.New(client, logger, m), m, reg)

	return &fixture{
		handler:  srv.Handler(),
		server:   srv,
		gate:     gate,
		metrics:  m,
		registry: reg,
	}
}

func startWhisper(t *testing.T, ws *whispertest.Server) string {
	t.Helper()
	ts := httptest.NewServer(ws)
	t.Cleanup(ts.Close)
	return ts.URL + "/inference"
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("Failed to write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Failed to close multipart writer: %v", err)
	}
	return body, mw.FormDataContentType()
}

func (f *fixture) upload(t *testing.T, body io.Reader, contentType string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("Response is not JSON: %v (%q)", err, rec.Body.String())
	}
	return rec, decoded
}

func assertScratchEmpty(t *testing.T, gate *upload.Gate) {
	t.Helper()
	entries, err := os.ReadDir(gate.Dir())
	if err != nil {
		t.Fatalf("Failed to read upload folder: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected empty upload folder, found %d entries", len(entries))
	}
}

func TestUploadSuccess(t *testing.T) {
	ws := &whispertest.Server{Text: "hello world"}
	f := newFixture(t, startWhisper(t, ws), 100<<20)

	wav, err := audio.EncodeWAV(audio.Tone(440, 16000, 0.25), 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	body, ct := multipartBody(t, "file", "clip.wav", wav)

	rec, resp := f.upload(t, body, ct)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp["success"] != true {
		t.Errorf("Expected success true, got %v", resp["success"])
	}
	if resp["transcription"] != "hello world" {
		t.Errorf("Expected transcription 'hello world', got %v", resp["transcription"])
	}
	if resp["filename"] != "clip.wav" {
		t.Errorf("Expected filename clip.wav, got %v", resp["filename"])
	}

	got := ws.Requests()
	if len(got) != 1 {
		t.Fatalf("Expected 1 inference request, got %d", len(got))
	}
	if got[0].Temperature != "0.2" {
		t.Errorf("Expected temperature 0.2, got %q", got[0].Temperature)
	}
	if got[0].ResponseFormat != "json" {
		t.Errorf("Expected response-format json, got %q", got[0].ResponseFormat)
	}
	if got[0].AudioFormat != "wav" {
		t.Errorf("Expected audio_format wav, got %q", got[0].AudioFormat)
	}
	if !bytes.Equal(got[0].Audio, wav) {
		t.Errorf("Forwarded audio differs from upload (%d vs %d bytes)", len(got[0].Audio), len(wav))
	}
	if got[0].WAV == nil || got[0].WAV.SampleRate != 16000 {
		t.Errorf("Expected a parseable 16kHz WAV at the remote server, got %+v", got[0].WAV)
	}

	assertScratchEmpty(t, f.gate)
}

func TestUploadSanitizesFilename(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     string
	}{
		{name: "spaces and punctuation", filename: "my song (1).MP3", want: "my_song_1.MP3"},
		{name: "path components", filename: "../../etc/passwd.wav", want: "passwd.wav"},
		{name: "non-ascii", filename: "résumé.ogg", want: "resume.ogg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := &whispertest.Server{Text: "ok"}
			f := newFixture(t, startWhisper(t, ws), 100<<20)

			body, ct := multipartBody(t, "file", tt.filename, []byte("audio"))
			rec, resp := f.upload(t, body, ct)

			if rec.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
			}
			if resp["filename"] != tt.want {
				t.Errorf("Expected filename %q, got %v", tt.want, resp["filename"])
			}
			if got := ws.Requests(); len(got) != 1 || got[0].Filename != tt.want {
				t.Errorf("Expected remote to receive %q, got %+v", tt.want, got)
			}
			assertScratchEmpty(t, f.gate)
		})
	}
}

func TestUploadRemoteError(t *testing.T) {
	ws := &whispertest.Server{StatusCode: http.StatusServiceUnavailable, ErrorBody: "overloaded"}
	f := newFixture(t, startWhisper(t, ws), 100<<20)

	body, ct := multipartBody(t, "file", "clip.mp3", []byte("audio"))
	rec, resp := f.upload(t, body, ct)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d", rec.Code)
	}
	if resp["error"] != "Whisper server error: 503" {
		t.Errorf("Expected remote status in error, got %v", resp["error"])
	}
	if resp["details"] != "overloaded" {
		t.Errorf("Expected raw remote body in details, got %v", resp["details"])
	}
	assertScratchEmpty(t, f.gate)
}

func TestUploadConnectionRefused(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	endpoint := ts.URL + "/inference"
	ts.Close()

	f := newFixture(t, endpoint, 100<<20)

	body, ct := multipartBody(t, "file", "clip.flac", []byte("audio"))
	rec, resp := f.upload(t, body, ct)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d", rec.Code)
	}
	if resp["error"] != "Failed to connect to Whisper server" {
		t.Errorf("Expected connect error, got %v", resp["error"])
	}
	if details, _ := resp["details"].(string); details == "" {
		t.Errorf("Expected non-empty details")
	}
	assertScratchEmpty(t, f.gate)
}

func TestUploadRejections(t *testing.T) {
	tests := []struct {
		name      string
		field     string
		filename  string
		wantError string
	}{
		{
			name:      "disallowed extension",
			field:     "file",
			filename:  "notes.txt",
			wantError: "File type not allowed. Allowed types: wav, mp3, ogg, flac, m4a, aac, opus, webm",
		},
		{
			name:      "no extension",
			field:     "file",
			filename:  "recording",
			wantError: "File type not allowed. Allowed types: wav, mp3, ogg, flac, m4a, aac, opus, webm",
		},
		{
			name:      "wrong field name",
			field:     "audio",
			filename:  "clip.wav",
			wantError: "No file part in the request",
		},
		{
			name:      "empty filename",
			field:     "file",
			filename:  "",
			wantError: "No file selected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := &whispertest.Server{Text: "unused"}
			f := newFixture(t, startWhisper(t, ws), 100<<20)

			body, ct := multipartBody(t, tt.field, tt.filename, []byte("data"))
			rec, resp := f.upload(t, body, ct)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("Expected status 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if resp["error"] != tt.wantError {
				t.Errorf("Expected error %q, got %v", tt.wantError, resp["error"])
			}
			if _, ok := resp["details"]; ok {
				t.Errorf("Validation errors must not carry details")
			}
			if len(ws.Requests()) != 0 {
				t.Errorf("Remote server must not be contacted on rejection")
			}
			assertScratchEmpty(t, f.gate)
		})
	}
}

func TestUploadNotMultipart(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:1/inference", 100<<20)

	rec, resp := f.upload(t, strings.NewReader(`{"file":"x"}`), "application/json")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", rec.Code)
	}
	if resp["error"] != "No file part in the request" {
		t.Errorf("Expected missing part error, got %v", resp["error"])
	}
}

func TestUploadTooLarge(t *testing.T) {
	const limit = 1 << 20
	ws := &whispertest.Server{Text: "unused"}
	f := newFixture(t, startWhisper(t, ws), limit)

	t.Run("declared length", func(t *testing.T) {
		body, ct := multipartBody(t, "file", "big.wav", make([]byte, limit+1))
		rec, resp := f.upload(t, body, ct)

		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("Expected status 413, got %d", rec.Code)
		}
		if resp["error"] != "File too large. Maximum size is 1 MB" {
			t.Errorf("Unexpected error message %v", resp["error"])
		}
	})

	t.Run("unknown length", func(t *testing.T) {
		body, ct := multipartBody(t, "file", "big.wav", make([]byte, limit+1))
		req := httptest.NewRequest(http.MethodPost, "/upload", io.NopCloser(body))
		req.Header.Set("Content-Type", ct)
		req.ContentLength = -1

		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("Expected status 413, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	if len(ws.Requests()) != 0 {
		t.Errorf("Remote server must not be contacted for oversized uploads")
	}
	assertScratchEmpty(t, f.gate)
}

func TestHealth(t *testing.T) {
	// Health does not depend on the remote server being reachable.
	f := newFixture(t, "http://127.0.0.1:1/inference", 100<<20)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"status":"healthy"}` {
		t.Errorf("Unexpected health body %q", rec.Body.String())
	}
}

func TestIndexPage(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:1/inference", 100<<20)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Expected text/html, got %q", ct)
	}

	page := rec.Body.String()
	for _, want := range []string{
		`action="/upload"`,
		`name="file"`,
		`enctype="multipart/form-data"`,
		"wav, mp3, ogg, flac, m4a, aac, opus, webm",
		"Maximum size: 100 MB",
	} {
		if !strings.Contains(page, want) {
			t.Errorf("Index page missing %q", want)
		}
	}
}

func TestUploadWrongMethod(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:1/inference", 100<<20)

	req := httptest.NewRequest(http.MethodGet, "/upload", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", rec.Code)
	}
}

func TestStatsAndMetrics(t *testing.T) {
	ws := &whispertest.Server{Text: "ok"}
	f := newFixture(t, startWhisper(t, ws), 100<<20)

	body, ct := multipartBody(t, "file", "clip.wav", []byte("audio"))
	f.upload(t, body, ct)
	body, ct = multipartBody(t, "file", "notes.txt", []byte("text"))
	f.upload(t, body, ct)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var stats struct {
		Transcription relay.Stats `json:"transcription"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("Failed to decode stats: %v", err)
	}
	if stats.Transcription.TotalRequests != 1 || stats.Transcription.SuccessRequests != 1 {
		t.Errorf("Expected one successful relay, got %+v", stats.Transcription)
	}

	if got := testutil.ToFloat64(f.metrics.UploadsRejected.WithLabelValues("extension")); got != 1 {
		t.Errorf("Expected 1 extension rejection, got %v", got)
	}
	if got := testutil.ToFloat64(f.metrics.HTTPRequests.WithLabelValues("POST", "/upload", "400")); got != 1 {
		t.Errorf("Expected 1 recorded 400 on /upload, got %v", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), "whisper_web_transcription_requests_total") {
		t.Errorf("Expected transcription counter in /metrics output")
	}
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:1/inference", 100<<20)

	if err := f.server.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	resp, err := http.Get("http://" + f.server.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	if err := f.server.Stop(context.Background()); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if _, err := os.Stat(f.gate.Dir()); err != nil {
		t.Errorf("Upload folder should survive shutdown: %v", err)
	}
}
