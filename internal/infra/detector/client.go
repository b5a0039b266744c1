package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fiapx/fiapx-detection-service/internal/domain/entity"
	"github.com/fiapx/fiapx-detection-service/internal/domain/port"
	"github.com/fiapx/fiapx-detection-service/internal/infra/metrics"
	"go.uber.org/zap"
)

const (
	frameEndpoint  = "/api/yolov8/infer_image"
	streamEndpoint = "/api/yolov8/infer"
)

type ClientConfig struct {
	BaseURL string
	// FrameTimeout bounds one per-frame round trip. Streaming requests are
	// bounded only by their context.
	FrameTimeout time.Duration
}

// Client talks to the YOLO inference service over multipart HTTP.
type Client struct {
	baseURL      string
	frameTimeout time.Duration
	httpClient   *http.Client
	logger       *zap.Logger
}

func NewClient(cfg ClientConfig, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		frameTimeout: cfg.FrameTimeout,
		httpClient:   httpClient,
		logger:       logger,
	}
}

var _ port.Detector = (*Client)(nil)

type frameResponse struct {
	Detections []entity.Detection `json:"detections"`
}

// DetectFrame posts one JPEG still. The result carries no frame id; the caller attaches it.
func (c *Client) DetectFrame(ctx context.Context, req port.FrameRequest) ([]entity.Detection, error) {
	start := time.Now()
	if c.frameTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.frameTimeout)
		defer cancel()
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("image", fmt.Sprintf("frame%d.jpg", req.FrameID))
	if err != nil {
		return nil, fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(req.Image); err != nil {
		return nil, fmt.Errorf("write image part: %w", err)
	}
	if err := writeModelPart(writer, req.Model); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	resp, err := c.post(ctx, frameEndpoint, writer.FormDataContentType(), &buf)
	if err != nil {
		observe("frame", start, err)
		return nil, err
	}
	defer resp.Body.Close()

	detections, err := decodeFrameResponse(resp.Body)
	observe("frame", start, err)
	return detections, err
}

func decodeFrameResponse(body io.Reader) ([]entity.Detection, error) {
	var result frameResponse
	if err := json.NewDecoder(body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", entity.ErrInferenceFailed, err)
	}
	for i, d := range result.Detections {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("%w: detection %d: %v", entity.ErrInferenceFailed, i, err)
		}
	}
	if result.Detections == nil {
		result.Detections = []entity.Detection{}
	}
	return result.Detections, nil
}

// DetectVideo uploads the whole clip and returns the NDJSON response as a
// stream of records. The upload is piped from disk rather than buffered.
func (c *Client) DetectVideo(ctx context.Context, req port.VideoRequest) (port.RecordStream, error) {
	video, err := os.Open(req.VideoPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open video: %v", entity.ErrMissingInput, err)
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		defer video.Close()
		pw.CloseWithError(writeVideoForm(writer, video, filepath.Base(req.VideoPath), req.Model))
	}()

	start := time.Now()
	resp, err := c.post(ctx, streamEndpoint, writer.FormDataContentType(), pr)
	observe("video", start, err)
	if err != nil {
		pr.CloseWithError(err)
		return nil, err
	}

	c.logger.Debug("detector stream opened",
		zap.String("video", req.VideoPath),
		zap.String("content_type", resp.Header.Get("Content-Type")),
	)
	return newRecordStream(resp.Body, c.logger), nil
}

// observe records one detector request. Video requests are timed up to the
// response headers; the stream itself is not.
func observe(kind string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.DetectRequestDuration.WithLabelValues(kind, outcome).Observe(time.Since(start).Seconds())
}

func writeVideoForm(writer *multipart.Writer, video io.Reader, name string, model entity.ModelArtifact) error {
	part, err := writer.CreateFormFile("video", name)
	if err != nil {
		return fmt.Errorf("create video part: %w", err)
	}
	if _, err := io.Copy(part, video); err != nil {
		return fmt.Errorf("write video part: %w", err)
	}
	if err := writeModelPart(writer, model); err != nil {
		return err
	}
	return writer.Close()
}

func writeModelPart(writer *multipart.Writer, model entity.ModelArtifact) error {
	name := model.Name
	if name == "" {
		name = "model.pt"
	}
	part, err := writer.CreateFormFile("model", name)
	if err != nil {
		return fmt.Errorf("create model part: %w", err)
	}
	if _, err := part.Write(model.Data); err != nil {
		return fmt.Errorf("write model part: %w", err)
	}
	return nil
}

// post returns ErrTransport if no response arrived and a RequestRejectedError
// on a non-2xx status. On success the caller owns resp.Body.
func (c *Client) post(ctx context.Context, endpoint, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &entity.RequestRejectedError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(excerpt)),
		}
	}
	return resp, nil
}

// CheckHealth reports whether the detector answers at all.
func (c *Client) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/docs", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", entity.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("detector unhealthy: %d", resp.StatusCode)
	}
	return nil
}
