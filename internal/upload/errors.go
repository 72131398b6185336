package upload

import (
	"errors"
	"strings"
)

var (
	// ErrMissingFile means the multipart form carried no file field at all.
	ErrMissingFile = errors.New("no file part in the request")

	// ErrEmptyFilename means the file field was submitted without a name,
	// which is what browsers send when nothing was picked.
	ErrEmptyFilename = errors.New("no file selected")

	// ErrExtensionNotAllowed is matched by every *ExtensionError.
	ErrExtensionNotAllowed = errors.New("file type not allowed")
)

// ExtensionError reports a file whose suffix is outside the allowed set.
type ExtensionError struct {
	Filename string
	Allowed  []string
}

func (e *ExtensionError) Error() string {
	return "file type not allowed: " + e.Filename + " (allowed: " + strings.Join(e.Allowed, ", ") + ")"
}

func (e *ExtensionError) Is(target error) bool {
	return target == ErrExtensionNotAllowed
}

// RejectionReason returns a short label for a gate error, used for metrics
// and logs.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingFile):
		return "missing_file"
	case errors.Is(err, ErrEmptyFilename):
		return "empty_filename"
	case errors.Is(err, ErrExtensionNotAllowed):
		return "extension"
	default:
		return "storage"
	}
}
