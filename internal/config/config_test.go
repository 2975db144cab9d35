package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		input   string
		bucket  string
		wantErr bool
	}{
		{"s3://two-way-sync", "two-way-sync", false},
		{"s3://bucket/", "bucket", false},
		{"bucket", "", true},
		{"s3://", "", true},
		{"s3://bucket/prefix", "", true},
	}
	for _, tt := range tests {
		bucket, err := ParseS3Path(tt.input)
		if tt.wantErr {
			assert.Error(t, err, tt.input)
		} else {
			require.NoError(t, err, tt.input)
			assert.Equal(t, tt.bucket, bucket)
		}
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "# origin credentials\nAPI_KEY=fvk-123\nAPI_SECRET=\"fvs 456\"\nSESSION_URL=https://identity.example.com/session\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))

	t.Setenv("API_KEY", "")
	t.Setenv("API_SECRET", "")
	t.Setenv("SESSION_URL", "")
	os.Unsetenv("API_KEY")
	os.Unsetenv("API_SECRET")
	os.Unsetenv("SESSION_URL")

	require.NoError(t, LoadEnvFile(envFile))

	var cfg Config
	cfg.FromEnv()
	assert.Equal(t, "fvk-123", cfg.Origin.APIKey)
	assert.Equal(t, "fvs 456", cfg.Origin.APISecret)
	assert.True(t, cfg.Origin.HasOriginCreds())

	// missing file is not an error
	assert.NoError(t, LoadEnvFile(filepath.Join(dir, "absent.env")))
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		MirrorRoot:   "/mnt/z",
		S3Path:       "s3://bucket",
		Bucket:       "bucket",
		PollInterval: DefaultPollInterval,
	}
	assert.NoError(t, cfg.Validate())

	assert.Error(t, (&Config{Bucket: "b", PollInterval: 1}).Validate())
	assert.Error(t, (&Config{MirrorRoot: "/mnt/z", PollInterval: 1}).Validate())
}
