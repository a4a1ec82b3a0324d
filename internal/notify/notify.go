// Package notify tells something outside the sync engine when a
// transfer fails. The engine treats notification sinks as an
// interface boundary; the bundled implementations stay on plain
// net/http rather than taking on a delivery library.
package notify

import (
	"context"

	"github.com/alist-sync/alist-sync-go/internal/model"
)

// Notifier is told about terminal worker failures. Implementations
// must not block the caller meaningfully; NotifyFailure is invoked
// from the worker pool's finalize step.
type Notifier interface {
	NotifyFailure(ctx context.Context, w *model.TransferIntent)
}
