package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"sync"
	"time"
)

// Config contains whisper.cpp server client configuration
type Config struct {
	Endpoint       string // full URL of the /inference endpoint
	Timeout        time.Duration
	Temperature    string
	ResponseFormat string
}

// WhisperClient posts scratch files to a whisper.cpp server's /inference endpoint
type WhisperClient struct {
	config     Config
	httpClient *http.Client
}

// NewWhisperClient creates a new whisper.cpp HTTP client
func NewWhisperClient(config Config) (*WhisperClient, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 300 * time.Second
	}

	if config.Temperature == "" {
		config.Temperature = "0.2"
	}

	if config.ResponseFormat == "" {
		config.ResponseFormat = "json"
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &WhisperClient{
		config:     config,
		httpClient: httpClient,
	}, nil
}

// Transcribe streams the file at req.FilePath to the inference endpoint.
// There are no retries: the first failure is returned to the caller.
func (c *WhisperClient) Transcribe(ctx context.Context, req Request) (*Response, error) {
	file, err := os.Open(req.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat audio file: %w", err)
	}

	head, tail, contentType, err := c.multipartFrame(req)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	fileReader := &trackingReader{r: file}
	body := io.MultiReader(bytes.NewReader(head), fileReader, bytes.NewReader(tail))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.ContentLength = int64(len(head)) + info.Size() + int64(len(tail))
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if readErr := fileReader.Err(); readErr != nil {
			return nil, fmt.Errorf("failed to read audio file: %w", readErr)
		}
		return nil, &ConnectError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectError{Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ServerError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var transcriptionResp Response
	if err := json.Unmarshal(respBody, &transcriptionResp); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	return &transcriptionResp, nil
}

// multipartFrame renders every part of the form except the file content.
// The request body is head + file bytes + tail, which lets the file stream
// from disk with a known Content-Length.
func (c *WhisperClient) multipartFrame(req Request) (head, tail []byte, contentType string, err error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fields := []struct{ key, value string }{
		{"temperature", c.config.Temperature},
		{"response-format", c.config.ResponseFormat},
		{"audio_format", req.Format},
	}
	for _, field := range fields {
		if err := writer.WriteField(field.key, field.value); err != nil {
			return nil, nil, "", fmt.Errorf("failed to write field %s: %w", field.key, err)
		}
	}

	if _, err := writer.CreateFormFile("file", req.Filename); err != nil {
		return nil, nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	head = append([]byte(nil), buf.Bytes()...)
	buf.Reset()

	if err := writer.Close(); err != nil {
		return nil, nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	tail = append([]byte(nil), buf.Bytes()...)

	return head, tail, writer.FormDataContentType(), nil
}

// trackingReader remembers the first non-EOF read error so that a failing
// local file is not mistaken for a transport failure.
type trackingReader struct {
	r   io.Reader
	mu  sync.Mutex
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.mu.Lock()
		if t.err == nil {
			t.err = err
		}
		t.mu.Unlock()
	}
	return n, err
}

func (t *trackingReader) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
