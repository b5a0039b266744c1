package entity

import (
	"errors"
	"fmt"
)

var (
	// Frame capture layer. Per-frame, never fatal to a job.
	ErrUnseekableMedia = errors.New("unseekable media")
	ErrEncode          = errors.New("frame encode failed")

	// Detector layer.
	ErrTransport       = errors.New("detector transport error")
	ErrRequestRejected = errors.New("detector rejected request")
	ErrInferenceFailed = errors.New("inference failed")
	ErrMalformedRecord = errors.New("malformed detection record")

	// Job setup.
	ErrMissingInput   = errors.New("missing input")
	ErrInvalidRequest = errors.New("invalid ingestion request")
	ErrJobAborted     = errors.New("ingestion job aborted")
)

// RequestRejectedError carries the detector's non-success response.
type RequestRejectedError struct {
	StatusCode int
	Body       string
}

func (e *RequestRejectedError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("detector returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("detector returned status %d: %s", e.StatusCode, e.Body)
}

func (e *RequestRejectedError) Is(target error) bool {
	return target == ErrRequestRejected
}
