package transcription

import (
	"context"
	"errors"
	"fmt"
)

// Request describes one stored upload to transcribe
type Request struct {
	FilePath string // scratch file to read the audio from
	Filename string // name reported to the remote server
	Format   string // audio_format hint, usually the file extension
}

// Response is the part of the remote answer the relay cares about
type Response struct {
	Text string `json:"text"`
}

// Transcriber sends audio to a remote transcription service. Implementations
// make exactly one attempt per call.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (*Response, error)
}

// ServerError is returned when the remote server answered with a status
// other than 200.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("whisper server returned HTTP %d: %s", e.StatusCode, e.Body)
}

// ConnectError wraps transport failures: refused connections, DNS errors,
// timeouts and broken response streams.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return e.Err.Error()
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Outcome classifies an error returned by a Transcriber.
func Outcome(err error) string {
	var serverErr *ServerError
	var connectErr *ConnectError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &serverErr):
		return "server_error"
	case errors.As(err, &connectErr):
		return "connect_error"
	default:
		return "internal_error"
	}
}
