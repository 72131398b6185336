package transcription

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the OpenAI-compatible backend. Many whisper
// servers expose /v1/audio/transcriptions next to /inference.
type OpenAIConfig struct {
	BaseURL     string // e.g. http://whisper:8080/v1
	APIKey      string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// OpenAIClient transcribes through an OpenAI-compatible audio endpoint
type OpenAIClient struct {
	config OpenAIConfig
	client *openai.Client
}

// NewOpenAIClient creates a client for an OpenAI-compatible server
func NewOpenAIClient(config OpenAIConfig) (*OpenAIClient, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}

	if config.Model == "" {
		config.Model = openai.Whisper1
	}

	if config.Timeout <= 0 {
		config.Timeout = 300 * time.Second
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	clientConfig.BaseURL = config.BaseURL
	clientConfig.HTTPClient = &http.Client{Timeout: config.Timeout}

	return &OpenAIClient{
		config: config,
		client: openai.NewClientWithConfig(clientConfig),
	}, nil
}

// Transcribe uploads the file at req.FilePath in a single attempt
func (c *OpenAIClient) Transcribe(ctx context.Context, req Request) (*Response, error) {
	file, err := os.Open(req.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	fileReader := &trackingReader{r: file}
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:       c.config.Model,
		FilePath:    req.Filename,
		Reader:      fileReader,
		Temperature: c.config.Temperature,
		Format:      openai.AudioResponseFormatJSON,
	})
	if err != nil {
		if readErr := fileReader.Err(); readErr != nil {
			return nil, fmt.Errorf("failed to read audio file: %w", readErr)
		}
		return nil, classifyOpenAIError(err)
	}

	return &Response{Text: resp.Text}, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	var urlErr *url.Error

	switch {
	case errors.As(err, &apiErr):
		return &ServerError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	case errors.As(err, &reqErr):
		return &ServerError{StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	case errors.As(err, &urlErr):
		return &ConnectError{Err: err}
	default:
		return err
	}
}
