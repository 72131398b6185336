// Package transcription implements the clients that relay a stored upload to
// a remote transcription server. Each call makes a single attempt and reports
// remote rejections and transport failures as distinct error types.
package transcription
