package detector

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/fiapx/fiapx-detection-service/internal/domain/entity"
	"github.com/fiapx/fiapx-detection-service/internal/infra/metrics"
	"go.uber.org/zap"
)

const readChunkSize = 32 * 1024

// recordStream decodes an NDJSON body incrementally. Malformed lines are
// counted and skipped; a read error ends the stream with ErrTransport.
type recordStream struct {
	body     io.ReadCloser
	splitter LineSplitter
	buf      []byte
	queue    [][]byte
	eof      bool
	logger   *zap.Logger

	// Records without a frameNumber are numbered by arrival.
	nextFrame int

	mu        sync.Mutex
	malformed int
	closeOnce sync.Once
}

func newRecordStream(body io.ReadCloser, logger *zap.Logger) *recordStream {
	return &recordStream{
		body:   body,
		buf:    make([]byte, readChunkSize),
		logger: logger,
	}
}

func (s *recordStream) Next() (entity.DetectionRecord, error) {
	for {
		for len(s.queue) > 0 {
			line := s.queue[0]
			s.queue = s.queue[1:]
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			rec, err := s.decode(line)
			if err != nil {
				s.drop(line, err)
				continue
			}
			return rec, nil
		}
		if s.eof {
			return entity.DetectionRecord{}, io.EOF
		}
		if err := s.fill(); err != nil {
			return entity.DetectionRecord{}, err
		}
	}
}

func (s *recordStream) fill() error {
	n, err := s.body.Read(s.buf)
	if n > 0 {
		s.queue = append(s.queue, s.splitter.Feed(s.buf[:n])...)
	}
	switch {
	case errors.Is(err, io.EOF):
		s.eof = true
		if tail := s.splitter.Flush(); tail != nil {
			s.queue = append(s.queue, tail)
		}
		return nil
	case err != nil:
		return fmt.Errorf("%w: read stream: %v", entity.ErrTransport, err)
	}
	return nil
}

// wireRecord accepts records with or without frameNumber.
type wireRecord struct {
	FrameNumber *int               `json:"frameNumber"`
	Timestamp   *float64           `json:"timestamp"`
	Detections  []entity.Detection `json:"detections"`
}

func (s *recordStream) decode(line []byte) (entity.DetectionRecord, error) {
	var w wireRecord
	if err := json.Unmarshal(line, &w); err != nil {
		return entity.DetectionRecord{}, fmt.Errorf("%w: %v", entity.ErrMalformedRecord, err)
	}

	rec := entity.DetectionRecord{Timestamp: w.Timestamp, Detections: w.Detections}
	if rec.Detections == nil {
		rec.Detections = []entity.Detection{}
	}
	if w.FrameNumber != nil {
		rec.FrameNumber = *w.FrameNumber
	} else {
		rec.FrameNumber = s.nextFrame
	}
	if err := rec.Validate(); err != nil {
		return entity.DetectionRecord{}, fmt.Errorf("%w: %v", entity.ErrMalformedRecord, err)
	}
	s.nextFrame = rec.FrameNumber + 1
	return rec, nil
}

func (s *recordStream) drop(line []byte, err error) {
	s.mu.Lock()
	s.malformed++
	s.mu.Unlock()
	metrics.MalformedRecordsTotal.Inc()

	if len(line) > 200 {
		line = line[:200]
	}
	s.logger.Warn("dropping malformed detection line", zap.Error(err), zap.ByteString("line", line))
}

func (s *recordStream) Malformed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.malformed
}

func (s *recordStream) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.body.Close() })
	return err
}
