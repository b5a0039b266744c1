package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10.0, cfg.SamplingRate)
	assert.Equal(t, 15, cfg.ToleranceFrames)
	assert.Equal(t, 1, cfg.DetectConcurrency)
	assert.Equal(t, "PER_FRAME", cfg.DefaultMode)
	assert.Equal(t, 30*time.Second, cfg.DetectorTimeout)
	assert.Equal(t, "video.detection", cfg.RabbitMQDetectionQueue)
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
DETECTOR_URL: http://gpu-box:9000
SAMPLING_RATE: 5
DETECT_CONCURRENCY: 4
DETECTOR_TIMEOUT: 2m
`), 0o644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("DETECT_CONCURRENCY", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://gpu-box:9000", cfg.DetectorURL)
	assert.Equal(t, 5.0, cfg.SamplingRate)
	assert.Equal(t, 2, cfg.DetectConcurrency)
	assert.Equal(t, 2*time.Minute, cfg.DetectorTimeout)
}

func TestLoadRejectsNestedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("detector:\n  url: x\n"), 0o644))
	t.Setenv("CONFIG_FILE", path)

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load()
	assert.Error(t, err)
}
