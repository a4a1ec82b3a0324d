package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/alist-sync/alist-sync-go/internal/config"
	"github.com/alist-sync/alist-sync-go/internal/model"
)

// Multi fans NotifyFailure out to every configured sink, the way the
// worker pool's finalize step only ever holds one Notifier regardless
// of how many notify: entries the config declares.
type Multi []Notifier

// NotifyFailure calls every sink in m in turn.
func (m Multi) NotifyFailure(ctx context.Context, w *model.TransferIntent) {
	for _, n := range m {
		n.NotifyFailure(ctx, w)
	}
}

// New builds a Notifier from the config's notify: entries. An empty
// list returns an empty Multi, which is a harmless no-op sink.
func New(entries []config.NotifyConfig, log zerolog.Logger) Notifier {
	m := make(Multi, 0, len(entries))
	for _, e := range entries {
		switch e.Type {
		case "webhook":
			m = append(m, NewWebhook(e.URL, taggedLogger(log, "webhook")))
		case "email":
			m = append(m, &Email{Log: taggedLogger(log, "email")})
		}
	}
	return m
}

func taggedLogger(base zerolog.Logger, sink string) zerolog.Logger {
	return base.With().Str("sink", sink).Logger()
}
