package port

import (
	"context"
	"io"
)

type ArtifactStorage interface {
	DownloadVideo(ctx context.Context, objectKey string, destPath string) error
	DownloadModel(ctx context.Context, objectKey string, destPath string) error
	UploadResults(ctx context.Context, objectKey string, reader io.Reader, size int64) error
}
