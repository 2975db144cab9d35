// Package manifest persists the per-project snapshot of the last observed
// union state. It exists solely so the reconciler can tell a deletion apart
// from a file that was never seen.
package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
)

// Sources for a manifest record.
const (
	SourceLocal = "local"
	SourceS3    = "s3"
)

// Record is the last observed state for one RelKey.
type Record struct {
	Source       string    `json:"source"`
	LastModified time.Time `json:"lastModified"`
	RelOriginal  string    `json:"relOriginal,omitempty"`
}

// Manifest maps folded RelKey to its last observed record.
type Manifest map[string]Record

// std-compatible config so map keys marshal sorted; two identical states
// must produce byte-identical manifest files.
var json = sonic.ConfigStd

// Load reads a manifest file. A missing or unparsable file is an empty
// manifest with a warning, never an error: treating the store as empty for
// one pass is safe, aborting the pass is not.
func Load(path string) Manifest {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("manifest read failed, treating as empty", "path", path, "error", err)
		}
		return Manifest{}
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		slog.Warn("manifest parse failed, treating as empty", "path", path, "error", err)
		return Manifest{}
	}
	return m
}

// Save atomically replaces the manifest file (write temp, then rename).
func Save(path string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}
