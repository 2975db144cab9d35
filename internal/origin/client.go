// Package origin is the adapter for the case-management service: session
// authentication, project and folder lookups, document listing and download
// links, the one-file upload flow, and the webhook refresh trigger.
package origin

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/imroc/req/v3"

	"github.com/casebridge/casesync/internal/config"
	"github.com/casebridge/casesync/internal/version"
)

const (
	defaultBaseURL  = "https://api.filevineapp.com"
	folderCacheSize = 2048
	retryAttempts   = 5
)

// Client talks to the Origin REST API. All calls carry session headers and
// retry 429/5xx with exponential backoff; a 401 invalidates the session and
// is retried once after re-authentication.
type Client struct {
	http *req.Client
	cfg  config.OriginConfig
	auth *session

	// folderId -> resolved "A/B/C" path
	folderCache *lru.Cache[int64, string]
}

func NewClient(cfg config.OriginConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	cache, _ := lru.New[int64, string](folderCacheSize)
	c := &Client{
		cfg:         cfg,
		auth:        newSession(cfg),
		folderCache: cache,
	}

	c.http = req.C().
		SetBaseURL(cfg.BaseURL).
		SetUserAgent("casesync/"+version.Version).
		SetTimeout(30*time.Second).
		SetCommonRetryCount(retryAttempts).
		SetCommonRetryCondition(func(resp *req.Response, err error) bool {
			if err != nil {
				return true
			}
			code := resp.StatusCode
			return code == 401 || code == 429 || code >= 500
		}).
		SetCommonRetryInterval(func(resp *req.Response, attempt int) time.Duration {
			return Backoff(attempt)
		}).
		SetCommonRetryHook(func(resp *req.Response, err error) {
			if err != nil || resp.StatusCode != 401 {
				return
			}
			// middlewares ran before the first attempt, so the retried
			// request must get the fresh session headers here
			c.auth.Invalidate()
			headers, herr := c.auth.Headers(resp.Request.Context())
			if herr != nil {
				return
			}
			for k, v := range headers {
				resp.Request.SetHeader(k, v)
			}
		}).
		OnBeforeRequest(func(client *req.Client, r *req.Request) error {
			headers, err := c.auth.Headers(r.Context())
			if err != nil {
				return err
			}
			for k, v := range headers {
				r.SetHeader(k, v)
			}
			return nil
		})

	return c
}

// Enabled reports whether the client has credentials to call the API.
func (c *Client) Enabled() bool {
	return c.cfg.HasOriginCreds()
}

// bare returns a client without session headers for signed-URL transfers.
func (c *Client) bare() *req.Client {
	return req.C().
		SetUserAgent("casesync/" + version.Version).
		SetTimeout(5 * time.Minute)
}
