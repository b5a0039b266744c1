package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/fiapx/fiapx-detection-service/internal/domain/port"
	"go.uber.org/zap"
)

type SMTPNotifier struct {
	host   string
	port   int
	from   string
	admin  string
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	logger *zap.Logger
}

// NewSMTPNotifier sends failure mails to the job owner. A non-empty admin
// address receives a blind copy.
func NewSMTPNotifier(host string, port int, from, admin string, logger *zap.Logger) *SMTPNotifier {
	return &SMTPNotifier{host: host, port: port, from: from, admin: admin, send: smtp.SendMail, logger: logger}
}

var _ port.FailureNotifier = (*SMTPNotifier)(nil)

func (n *SMTPNotifier) NotifyFailure(_ context.Context, notice port.FailureNotice) error {
	addr := fmt.Sprintf("%s:%d", n.host, n.port)

	recipients := []string{notice.UserEmail}
	if n.admin != "" && !strings.EqualFold(n.admin, notice.UserEmail) {
		recipients = append(recipients, n.admin)
	}

	err := n.send(addr, nil, n.from, recipients, composeFailureMail(n.from, notice))
	if err != nil {
		n.logger.Error("failed to send failure notification email",
			zap.String("to", notice.UserEmail),
			zap.String("job_id", notice.JobID),
			zap.Error(err),
		)
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("failure notification email sent",
		zap.String("to", notice.UserEmail),
		zap.String("job_id", notice.JobID),
	)
	return nil
}

func composeFailureMail(from string, notice port.FailureNotice) []byte {
	subject := fmt.Sprintf("FIAP X - Detection Ingestion Failed [Job %s]", notice.JobID)
	body := fmt.Sprintf(
		"Hello,\r\n\r\n"+
			"Object detection for your video could not be completed after %d attempt(s).\r\n"+
			"No detection results were exported for this job.\r\n\r\n"+
			"Job ID: %s\r\n"+
			"Video: %s\r\n"+
			"Model: %s\r\n"+
			"Error: %s\r\n\r\n"+
			"Check that the video is playable and the model file is valid, then submit it again.\r\n\r\n"+
			"-- FIAP X Detection Service",
		notice.Attempts, notice.JobID, notice.VideoKey, notice.ModelKey, notice.Reason,
	)
	return []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", from, notice.UserEmail, subject, body))
}
