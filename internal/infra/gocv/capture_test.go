//go:build !gocv

package gocv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestOpenerUnavailableWithoutTag(t *testing.T) {
	assert.False(t, Available)

	_, err := NewOpener(zap.NewNop())
	assert.ErrorIs(t, err, errNotBuilt)

	_, err = (&Opener{}).Open(context.Background(), "clip.mp4")
	assert.ErrorIs(t, err, errNotBuilt)
}
