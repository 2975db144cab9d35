package origin

import (
	"context"
	"crypto/md5"
	"fmt"
	"sync"
	"time"

	"github.com/imroc/req/v3"

	"github.com/casebridge/casesync/internal/config"
)

// apiTimestampLayout is ISO-8601 with millisecond precision and a literal
// trailing Z; the session endpoint rejects anything else.
const apiTimestampLayout = "2006-01-02T15:04:05.000Z"

type sessionRequest struct {
	Mode         string `json:"mode"`
	APIKey       string `json:"apiKey"`
	APISecret    string `json:"apiSecret"`
	APIHash      string `json:"apiHash"`
	APITimestamp string `json:"apiTimestamp"`
	UserID       string `json:"userId"`
	OrgID        string `json:"orgId"`
}

type sessionResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId"`
}

// session caches the authenticated header set and rebuilds it on demand.
type session struct {
	cfg     config.OriginConfig
	mu      sync.Mutex
	headers map[string]string
}

func newSession(cfg config.OriginConfig) *session {
	return &session{cfg: cfg}
}

// APIHash computes md5(key + "/" + timestamp + "/" + secret) as lowercase hex.
func APIHash(apiKey, timestamp, apiSecret string) string {
	sum := md5.Sum([]byte(apiKey + "/" + timestamp + "/" + apiSecret))
	return fmt.Sprintf("%x", sum)
}

// Headers returns the current session headers, authenticating first when the
// cached session was never built or has been invalidated by a 401.
func (s *session) Headers(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.headers != nil {
		return s.headers, nil
	}

	ts := time.Now().UTC().Format(apiTimestampLayout)
	body := &sessionRequest{
		Mode:         "key",
		APIKey:       s.cfg.APIKey,
		APISecret:    s.cfg.APISecret,
		APIHash:      APIHash(s.cfg.APIKey, ts, s.cfg.APISecret),
		APITimestamp: ts,
		UserID:       s.cfg.UserID,
		OrgID:        s.cfg.OrgID,
	}

	var resp sessionResponse
	res, err := req.C().SetTimeout(30 * time.Second).R().
		SetContext(ctx).
		SetBody(body).
		SetSuccessResult(&resp).
		Post(s.cfg.SessionURL)
	if err != nil {
		return nil, fmt.Errorf("origin session: %w", err)
	}
	if res.IsErrorState() {
		return nil, fmt.Errorf("origin session: %s %s", res.Status, res.String())
	}

	s.headers = map[string]string{
		"Authorization":  "Bearer " + resp.AccessToken,
		"x-fv-userid":    resp.UserID,
		"x-fv-orgid":     s.cfg.OrgID,
		"x-fv-sessionid": resp.RefreshToken,
	}
	return s.headers, nil
}

// Invalidate drops the cached session so the next request re-authenticates.
func (s *session) Invalidate() {
	s.mu.Lock()
	s.headers = nil
	s.mu.Unlock()
}
