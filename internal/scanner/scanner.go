// Package scanner enumerates the local side of a project for a
// reconciliation pass.
package scanner

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/casebridge/casesync/internal/pathutil"
)

// LocalFile is one regular file under a project root.
type LocalFile struct {
	// RelOriginal is the original-case RelKey as it exists on disk.
	RelOriginal string

	AbsPath      string
	LastModified time.Time
	Size         int64
}

// Scan walks the project root and returns all regular files keyed by folded
// RelKey. Ignored basenames and the sidecar directory are skipped; symlinks
// are not followed.
func Scan(projectRoot string) (map[string]*LocalFile, error) {
	out := make(map[string]*LocalFile)

	err := filepath.WalkDir(projectRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", p, err)
		}

		name := d.Name()
		if d.IsDir() {
			if p != projectRoot && pathutil.IsIgnored(name) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || pathutil.IsIgnored(name) {
			return nil
		}

		rel, err := filepath.Rel(projectRoot, p)
		if err != nil {
			return err
		}
		rel = pathutil.NormalizeRel(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		out[pathutil.Fold(rel)] = &LocalFile{
			RelOriginal:  rel,
			AbsPath:      p,
			LastModified: info.ModTime().UTC().Truncate(time.Second),
			Size:         info.Size(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
