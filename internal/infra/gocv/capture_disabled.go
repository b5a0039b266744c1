//go:build !gocv

package gocv

import (
	"context"
	"errors"

	"github.com/fiapx/fiapx-detection-service/internal/domain/port"
	"go.uber.org/zap"
)

// Available reports whether this binary was built with OpenCV support.
const Available = false

var errNotBuilt = errors.New("gocv video backend requires building with -tags gocv")

type Opener struct{}

// NewOpener fails unless the binary was built with the gocv tag.
func NewOpener(_ *zap.Logger) (*Opener, error) {
	return nil, errNotBuilt
}

func (o *Opener) Open(context.Context, string) (port.VideoSource, error) {
	return nil, errNotBuilt
}
