package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/alist-sync/alist-sync-go/internal/model"
)

// Webhook POSTs a JSON payload describing the failed transfer to a
// fixed URL over a plain net/http client, without the rate limiting
// internal/pathclient applies (a handful of failure notifications a
// day never needs one). Delivery is fire-and-forget: errors are only
// logged.
type Webhook struct {
	URL    string
	Client *http.Client
	Log    zerolog.Logger
}

// NewWebhook builds a Webhook notifier posting to url.
func NewWebhook(url string, log zerolog.Logger) *Webhook {
	return &Webhook{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
		Log:    log,
	}
}

type webhookPayload struct {
	Group    string    `json:"group"`
	Kind     string    `json:"kind"`
	Target   string    `json:"target_uri"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// NotifyFailure posts w's failure details to the configured URL. Send
// errors are logged, never returned — a notification failing must not
// affect the worker pool's own state.
func (w *Webhook) NotifyFailure(ctx context.Context, intent *model.TransferIntent) {
	body, err := json.Marshal(webhookPayload{
		Group:    intent.GroupName,
		Kind:     string(intent.Kind),
		Target:   intent.TargetURI,
		Error:    intent.Error,
		FailedAt: intent.DoneAt,
	})
	if err != nil {
		w.Log.Warn().Err(err).Msg("notify: failed to encode webhook payload")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		w.Log.Warn().Err(err).Msg("notify: failed to build webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		w.Log.Warn().Err(err).Str("url", w.URL).Msg("notify: webhook delivery failed")
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		w.Log.Warn().Int("status", resp.StatusCode).Str("url", w.URL).Msg("notify: webhook rejected")
	}
}
