package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/fiapx/fiapx-detection-service/internal/domain/entity"
	"github.com/fiapx/fiapx-detection-service/internal/domain/port"
	"go.uber.org/zap"
)

// Opener opens videos through the ffprobe and ffmpeg binaries.
type Opener struct {
	ffmpegBin  string
	ffprobeBin string
	logger     *zap.Logger
}

func NewOpener(ffmpegBin, ffprobeBin string, logger *zap.Logger) *Opener {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	if ffprobeBin == "" {
		ffprobeBin = "ffprobe"
	}
	return &Opener{ffmpegBin: ffmpegBin, ffprobeBin: ffprobeBin, logger: logger}
}

var _ port.VideoOpener = (*Opener)(nil)

func (o *Opener) Open(_ context.Context, videoPath string) (port.VideoSource, error) {
	info, err := os.Stat(videoPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", entity.ErrMissingInput, videoPath)
		}
		return nil, fmt.Errorf("stat video: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", entity.ErrMissingInput, videoPath)
	}
	return &Source{opener: o, path: videoPath}, nil
}

// Source decodes one frame per Rasterize call by running ffmpeg with an input
// seek. The handle itself only remembers the position.
type Source struct {
	opener *Opener
	path   string

	mu       sync.Mutex
	meta     *entity.VideoMetadata
	position float64
	seeked   bool
}

type probeOutput struct {
	Streams []struct {
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		Duration   string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (s *Source) Metadata(ctx context.Context) (entity.VideoMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meta != nil {
		return *s.meta, nil
	}

	cmd := exec.CommandContext(ctx, s.opener.ffprobeBin,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,duration:format=duration",
		"-of", "json",
		s.path,
	)
	output, err := cmd.Output()
	if err != nil {
		return entity.VideoMetadata{}, fmt.Errorf("ffprobe: %w", err)
	}

	meta, err := parseProbe(output)
	if err != nil {
		return entity.VideoMetadata{}, err
	}
	s.meta = &meta

	s.opener.logger.Debug("probed video",
		zap.String("path", s.path),
		zap.Float64("duration", meta.DurationSeconds),
		zap.Float64("fps", meta.FrameRate),
		zap.Int("width", meta.Width),
		zap.Int("height", meta.Height),
	)
	return meta, nil
}

func parseProbe(output []byte) (entity.VideoMetadata, error) {
	var probe probeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return entity.VideoMetadata{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(probe.Streams) == 0 {
		return entity.VideoMetadata{}, errors.New("no video stream")
	}
	stream := probe.Streams[0]

	durationStr := strings.TrimSpace(probe.Format.Duration)
	if durationStr == "" || durationStr == "N/A" {
		durationStr = strings.TrimSpace(stream.Duration)
	}
	duration, err := strconv.ParseFloat(durationStr, 64)
	if err != nil {
		return entity.VideoMetadata{}, fmt.Errorf("parse duration: %w", err)
	}

	fps, err := parseFrameRate(stream.RFrameRate)
	if err != nil {
		return entity.VideoMetadata{}, err
	}

	return entity.VideoMetadata{
		DurationSeconds: duration,
		Width:           stream.Width,
		Height:          stream.Height,
		FrameRate:       fps,
	}, nil
}

// parseFrameRate reads ffprobe's rational rate, e.g. "30000/1001".
func parseFrameRate(rate string) (float64, error) {
	num, den, found := strings.Cut(strings.TrimSpace(rate), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("parse frame rate %q: %w", rate, err)
	}
	if !found {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil {
		return 0, fmt.Errorf("parse frame rate %q: %w", rate, err)
	}
	if d == 0 {
		return 0, nil
	}
	return n / d, nil
}

func (s *Source) Seek(_ context.Context, ts float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts < 0 {
		return fmt.Errorf("%w: negative timestamp", entity.ErrUnseekableMedia)
	}
	if s.meta != nil && ts > s.meta.DurationSeconds {
		return fmt.Errorf("%w: %.3fs beyond %.3fs", entity.ErrUnseekableMedia, ts, s.meta.DurationSeconds)
	}
	s.position = ts
	s.seeked = true
	return nil
}

func (s *Source) Rasterize(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	pos, seeked := s.position, s.seeked
	s.mu.Unlock()
	if !seeked {
		return nil, errors.New("rasterize before seek")
	}

	cmd := exec.CommandContext(ctx, s.opener.ffmpegBin,
		"-v", "error",
		"-ss", strconv.FormatFloat(pos, 'f', 6, 64),
		"-i", s.path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg error: %w, output: %s", err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%w: no frame at %.3fs", entity.ErrUnseekableMedia, pos)
	}

	img, err := png.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

func (s *Source) Close() error { return nil }
