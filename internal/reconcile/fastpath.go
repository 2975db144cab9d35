package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/casebridge/casesync/internal/manifest"
	"github.com/casebridge/casesync/internal/pathutil"
	"github.com/casebridge/casesync/internal/sidecar"
)

// FastPath mirrors one changed local path right away instead of waiting
// for the next full pass. Directories and ignored names are dropped. A
// file that still exists goes up; a file that vanished takes its object
// with it.
func (r *Reconciler) FastPath(ctx context.Context, project, absPath string) error {
	projectRoot := r.projectRoot(project)

	rel, err := filepath.Rel(projectRoot, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("path %s outside project %s", absPath, project)
	}
	rel = pathutil.NormalizeRel(rel)
	if rel == "" {
		return nil
	}
	// every segment counts: a file under an ignored directory is as
	// invisible to the scanner as an ignored basename, so mirroring it
	// here would only be undone by the next full pass
	for _, seg := range strings.Split(rel, "/") {
		if pathutil.IsIgnored(seg) {
			return nil
		}
	}

	lock := r.Lock(project)
	lock.Lock()
	defer lock.Unlock()

	k := pathutil.Fold(rel)
	side := sidecar.NewStore(projectRoot)

	info, statErr := os.Stat(pathutil.LongPath(absPath))
	if statErr == nil {
		if info.IsDir() {
			return nil
		}

		// echo shield: the event is our own inbound write bouncing back
		curr := sidecar.Fingerprint(absPath)
		if meta, _ := side.Get(k); meta != nil && curr != "" && meta.Fingerprint == curr {
			return nil
		}

		key := r.store.KeyFor(project, rel)
		if err := r.store.Upload(ctx, absPath, key); err != nil {
			return fmt.Errorf("fast-path upload %s: %w", rel, err)
		}
		if err := side.Mark(k, absPath, sidecar.OriginLocal); err != nil {
			slog.Warn("sidecar mark failed", "project", project, "rel", rel, "error", err)
		}
		r.updateManifest(project, k, manifest.Record{
			Source:       manifest.SourceLocal,
			LastModified: info.ModTime().UTC().Truncate(time.Second),
			RelOriginal:  rel,
		}, false)
		slog.Info("fast-path uploaded", "project", project, "rel", rel)

		if r.origin != nil {
			r.origin.UploadLocal(ctx, project, rel, absPath)
		}
		return nil
	}

	// file is gone; remove its object
	key := r.store.KeyFor(project, rel)
	if err := r.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("fast-path delete %s: %w", rel, err)
	}
	side.Delete(k)
	r.updateManifest(project, k, manifest.Record{}, true)
	slog.Info("fast-path deleted object", "project", project, "rel", rel)
	return nil
}

// updateManifest applies one record change under the already-held project
// lock so fast-path outcomes survive a crash before the next full pass.
func (r *Reconciler) updateManifest(project, k string, rec manifest.Record, drop bool) {
	p := r.manifestPath(project)
	m := manifest.Load(p)
	if drop {
		delete(m, k)
	} else {
		m[k] = rec
	}
	if err := manifest.Save(p, m); err != nil {
		slog.Warn("manifest update failed", "project", project, "error", err)
	}
}
