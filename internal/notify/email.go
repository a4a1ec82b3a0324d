package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/alist-sync/alist-sync-go/internal/model"
)

// ErrNotConfigured is the error the email notifier logs each time it
// is invoked; no mail is ever sent.
var ErrNotConfigured = fmt.Errorf("notify: email is not configured")

// Email is a stub notifier: the engine carries no SMTP client, so
// this implementation exists only to satisfy the notify: config
// surface without pretending to send mail.
type Email struct {
	Log zerolog.Logger
}

// NotifyFailure logs that email notification was requested but is not
// implemented.
func (e *Email) NotifyFailure(ctx context.Context, w *model.TransferIntent) {
	e.Log.Warn().Err(ErrNotConfigured).Str("id", w.ID).Msg("notify: email notifier invoked")
}
