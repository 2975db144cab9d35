// Package sidecar persists out-of-band metadata for local files: which side
// last wrote the bytes, their fingerprint, and when they were marked. The
// reconciler's echo shield is built on this record.
package sidecar

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"

	"github.com/casebridge/casesync/internal/pathutil"
)

// Origin values for Meta.Origin.
const (
	OriginLocal    = "local"
	OriginFilevine = "filevine"
)

// Meta is the sidecar record for one local file.
type Meta struct {
	Origin      string    `json:"origin"`
	Fingerprint string    `json:"fingerprint"`
	MarkedAt    time.Time `json:"markedAt"`
}

// Store keeps sidecar records in a shadow .sync/ directory under the project
// root, keyed by folded RelKey. The reference implementation used NTFS
// alternate data streams; a shadow directory is the portable equivalent and
// is rebuilt on first miss after a file move.
type Store struct {
	root string
}

func NewStore(projectRoot string) *Store {
	return &Store{root: filepath.Join(projectRoot, pathutil.SidecarDirName)}
}

func (s *Store) metaPath(rel string) string {
	folded := pathutil.Fold(pathutil.NormalizeRel(rel))
	return filepath.Join(s.root, filepath.FromSlash(folded)+".json")
}

// Get returns the sidecar record for a RelKey, or nil when none exists.
func (s *Store) Get(rel string) (*Meta, error) {
	data, err := os.ReadFile(s.metaPath(rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var m Meta
	if err := sonic.Unmarshal(data, &m); err != nil {
		// corrupt sidecar is the same as no sidecar; it gets rewritten on
		// the next mark
		return nil, nil
	}
	return &m, nil
}

// Set writes the sidecar record for a RelKey.
func (s *Store) Set(rel string, m *Meta) error {
	p := s.metaPath(rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	data, err := sonic.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

// Mark records that side origin wrote the current bytes of the file at
// localPath, stamping the fingerprint and time.
func (s *Store) Mark(rel, localPath, origin string) error {
	return s.Set(rel, &Meta{
		Origin:      origin,
		Fingerprint: Fingerprint(localPath),
		MarkedAt:    time.Now().UTC(),
	})
}

// Delete removes the sidecar record for a RelKey. Missing records are fine.
func (s *Store) Delete(rel string) error {
	err := os.Remove(s.metaPath(rel))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
