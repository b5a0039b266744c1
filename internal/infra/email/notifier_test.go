package email

import (
	"context"
	"errors"
	"net/smtp"
	"testing"

	"github.com/fiapx/fiapx-detection-service/internal/domain/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNotifyFailureSendsToOwnerAndAdmin(t *testing.T) {
	n := NewSMTPNotifier("mailhog", 1025, "noreply@fiapx.local", "admin@fiapx.local", zap.NewNop())

	var gotAddr string
	var gotTo []string
	var gotMsg string
	n.send = func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	require.NoError(t, n.NotifyFailure(context.Background(), port.FailureNotice{
		UserEmail: "user@fiapx.local",
		JobID:     "job-1",
		VideoKey:  "u/clip.mp4",
		ModelKey:  "u/yolov8n.pt",
		Attempts:  3,
		Reason:    "ingest: moov atom not found",
	}))
	assert.Equal(t, "mailhog:1025", gotAddr)
	assert.Equal(t, []string{"user@fiapx.local", "admin@fiapx.local"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: FIAP X - Detection Ingestion Failed [Job job-1]")
	assert.Contains(t, gotMsg, "To: user@fiapx.local\r\n")
	assert.Contains(t, gotMsg, "Error: ingest: moov atom not found")
	assert.Contains(t, gotMsg, "after 3 attempt(s)")
	assert.Contains(t, gotMsg, "Model: u/yolov8n.pt")
	assert.NotContains(t, gotMsg, "admin@fiapx.local")
}

func TestNotifyFailureWrapsSendError(t *testing.T) {
	n := NewSMTPNotifier("mailhog", 1025, "noreply@fiapx.local", "", zap.NewNop())
	n.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("connection refused") }

	err := n.NotifyFailure(context.Background(), port.FailureNotice{UserEmail: "user@fiapx.local", JobID: "job-1", Reason: "boom"})
	assert.ErrorContains(t, err, "send email")
}
