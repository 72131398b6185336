package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/skypro1111/whisper-web/internal/relay"
	"github.com/skypro1111/whisper-web/internal/upload"
)

// multipartMemory is how much of a form is kept in memory before parts spill to disk
const multipartMemory = 32 << 20

func (h *HTTPServer) handleIndex(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"Extensions": h.gate.AllowedExtensions(),
		"Accept":     acceptAttr(h.gate.AllowedExtensions()),
		"MaxSizeMB":  h.config.MaxUploadSize / (1024 * 1024),
	})
}

func (h *HTTPServer) handleUpload(c *gin.Context) {
	req := c.Request

	if err := req.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": tooLargeMessage(h.config.MaxUploadSize)})
		case errors.Is(err, http.ErrNotMultipart), errors.Is(err, http.ErrMissingBoundary):
			if h.metrics != nil {
				h.metrics.RecordUploadRejected(upload.RejectionReason(upload.ErrMissingFile))
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "No file part in the request"})
		default:
			h.logger.Warn("Malformed multipart request", slog.String("error", err.Error()))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed multipart request"})
		}
		return
	}
	defer req.MultipartForm.RemoveAll()

	scratch, err := h.gate.FromForm(req.MultipartForm)
	if err != nil {
		status, body := gateFailure(err)
		c.JSON(status, body)
		return
	}

	// The relay runs to completion or timeout even if the browser goes away.
	result := h.relay.Transcribe(context.WithoutCancel(req.Context()), scratch)
	c.JSON(result.Status, result.Body)
}

func gateFailure(err error) (int, any) {
	var extErr *upload.ExtensionError
	switch {
	case errors.Is(err, upload.ErrMissingFile):
		return http.StatusBadRequest, gin.H{"error": "No file part in the request"}
	case errors.Is(err, upload.ErrEmptyFilename):
		return http.StatusBadRequest, gin.H{"error": "No file selected"}
	case errors.As(err, &extErr):
		return http.StatusBadRequest, gin.H{
			"error": "File type not allowed. Allowed types: " + strings.Join(extErr.Allowed, ", "),
		}
	default:
		return http.StatusInternalServerError, relay.Failure{
			Error:   relay.MsgInternalFailed,
			Details: err.Error(),
		}
	}
}

func (h *HTTPServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *HTTPServer) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"uptime":             time.Since(h.startTime).String(),
		"timestamp":          time.Now().UTC(),
		"transcription":      h.relay.GetStats(),
		"allowed_extensions": h.gate.AllowedExtensions(),
		"max_upload_bytes":   h.config.MaxUploadSize,
	})
}

func acceptAttr(exts []string) string {
	dotted := make([]string, len(exts))
	for i, ext := range exts {
		dotted[i] = "." + ext
	}
	return strings.Join(dotted, ",")
}
