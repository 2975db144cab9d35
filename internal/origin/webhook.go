package origin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/imroc/req/v3"
)

const (
	refreshTimeout = 60 * time.Second
	// give the downstream pipeline a moment to land objects before the
	// caller lists the project again
	refreshSettle = 4 * time.Second
)

// RefreshProject asks the propagation webhook to re-export a project's
// documents to the object store. Best effort: failures are logged, not
// returned, since the periodic pass will catch up regardless.
func (c *Client) RefreshProject(ctx context.Context, projectID int64) {
	if c.cfg.WebhookURL == "" {
		return
	}

	res, err := req.C().SetTimeout(refreshTimeout).R().
		SetContext(ctx).
		SetBody(map[string]any{"projectId": projectID}).
		Post(c.cfg.WebhookURL)
	if err != nil {
		slog.Warn("project refresh webhook failed", "projectId", projectID, "error", err)
		return
	}
	if res.IsErrorState() {
		slog.Warn("project refresh webhook failed",
			"projectId", projectID, "status", res.Status)
		return
	}

	slog.Info("project refresh requested", "projectId", projectID)
	select {
	case <-time.After(refreshSettle):
	case <-ctx.Done():
	}
}

// ProbeWithBackoff retries fn with the standard backoff schedule until it
// succeeds or attempts run out. Used where the Origin side is eventually
// consistent, like resolving a folder that a webhook only just created.
func ProbeWithBackoff(ctx context.Context, attempts int, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		select {
		case <-time.After(Backoff(i)):
		case <-ctx.Done():
			return fmt.Errorf("%w (last: %v)", ctx.Err(), err)
		}
	}
	return err
}
