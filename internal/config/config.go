// Package config builds the single immutable configuration for the agent and
// the webhook daemon from flags, environment and an optional env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultPollInterval = 300 * time.Second
	DefaultListenAddr   = ":8090"
)

// OriginConfig carries everything needed to talk to the case-management
// service and its webhook.
type OriginConfig struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	UserID     string
	OrgID      string
	SessionURL string
	WebhookURL string // FILEVINE_TO_S3_WEBHOOK
}

// Config is assembled once at startup and never mutated afterwards.
type Config struct {
	// Local mirror root, one subdirectory per project.
	MirrorRoot string

	// Object store: "s3://<bucket>" plus the fixed key layout parts.
	S3Path        string
	Bucket        string
	S3RootPrefix  string
	OrgMarker     string
	OrgFolderName string

	// Origin upload behavior.
	RootFolderID       int64
	RequireResolved    bool
	EnableOriginUpload bool

	// Persisted project-name -> id dictionary.
	ProjectMapPath string

	// Poll loop interval for project re-discovery.
	PollInterval time.Duration

	// Webhook daemon listen address.
	ListenAddr string

	Origin OriginConfig
}

// LoadEnvFile loads a key=value file with '#' comments and optional
// double-quoted values into the process environment. A missing file is not
// an error; the variables may come from the real environment instead.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return godotenv.Load(path)
}

// FromEnv fills the Origin section from the environment. Missing credentials
// degrade features (no refresh, no upload) rather than failing startup.
func (c *Config) FromEnv() {
	c.Origin.BaseURL = envDefault("FILEVINE_BASE_URL", c.Origin.BaseURL)
	c.Origin.APIKey = os.Getenv("API_KEY")
	c.Origin.APISecret = os.Getenv("API_SECRET")
	c.Origin.UserID = os.Getenv("USER_ID")
	c.Origin.OrgID = os.Getenv("ORG_ID")
	c.Origin.SessionURL = os.Getenv("SESSION_URL")
	c.Origin.WebhookURL = os.Getenv("FILEVINE_TO_S3_WEBHOOK")
}

// Validate checks the bootstrap requirements. Only unrecoverable conditions
// are errors; degraded Origin config is reported by the callers that need it.
func (c *Config) Validate() error {
	if c.MirrorRoot == "" {
		return errors.New("mirror root is required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("invalid s3 path %q, want s3://<bucket>", c.S3Path)
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	return nil
}

// ParseS3Path extracts the bucket from an "s3://<bucket>" URI.
func ParseS3Path(s3Path string) (string, error) {
	rest, ok := strings.CutPrefix(s3Path, "s3://")
	if !ok {
		return "", fmt.Errorf("invalid s3 path %q, want s3://<bucket>", s3Path)
	}
	bucket := strings.Trim(rest, "/")
	if bucket == "" || strings.Contains(bucket, "/") {
		return "", fmt.Errorf("invalid s3 path %q, want s3://<bucket>", s3Path)
	}
	return bucket, nil
}

// HasOriginCreds reports whether the authenticated Origin API is usable.
func (c *OriginConfig) HasOriginCreds() bool {
	return c.APIKey != "" && c.APISecret != "" && c.SessionURL != ""
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
