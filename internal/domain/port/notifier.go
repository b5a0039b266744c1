package port

import "context"

// FailureNotice describes a detection job that was given up on.
type FailureNotice struct {
	UserEmail string
	JobID     string
	VideoKey  string
	ModelKey  string
	Attempts  int
	Reason    string
}

type FailureNotifier interface {
	NotifyFailure(ctx context.Context, notice FailureNotice) error
}
