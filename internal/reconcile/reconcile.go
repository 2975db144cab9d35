// Package reconcile is the sync engine: the fast path fired by watcher
// events and the full three-way pass over manifest, local tree and object
// listing.
package reconcile

import (
	"context"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/casebridge/casesync/internal/manifest"
	"github.com/casebridge/casesync/internal/objstore"
	"github.com/casebridge/casesync/internal/pathutil"
	"github.com/casebridge/casesync/internal/scanner"
	"github.com/casebridge/casesync/internal/sidecar"
)

// skewGuard is the modification-time window inside which two sides are
// treated as the same write. Object stores round timestamps and local
// clocks drift; transfers inside the window would just ping-pong bytes.
const skewGuard = 2 * time.Second

// Store is the object-store surface the engine needs.
type Store interface {
	ListProject(ctx context.Context, project string) (map[string]*objstore.RemoteFile, error)
	KeyFor(project, rel string) string
	Upload(ctx context.Context, localPath, key string) error
	Download(ctx context.Context, key, localPath string) error
	Delete(ctx context.Context, key string) error
}

// Origin receives best-effort notifications toward the case-management
// side. A nil Origin disables both.
type Origin interface {
	// Refresh asks the origin-side exporter to re-publish the project
	// before the pass lists the object store.
	Refresh(ctx context.Context, project string)
	// UploadLocal pushes a locally born file up to the origin.
	UploadLocal(ctx context.Context, project, rel, absPath string)
}

// Stats counts the actions of one reconciliation.
type Stats struct {
	Uploaded      int
	Downloaded    int
	DeletedLocal  int
	DeletedRemote int
	Skipped       int
	Failed        int
}

// Reconciler runs per-project reconciliations. All entry points for the
// same project serialize on one mutex; distinct projects run concurrently.
type Reconciler struct {
	store  Store
	origin Origin
	root   string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(store Store, origin Origin, mirrorRoot string) *Reconciler {
	return &Reconciler{
		store:  store,
		origin: origin,
		root:   mirrorRoot,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Lock returns the mutex serializing all reconciliation for a project,
// created on first use.
func (r *Reconciler) Lock(project string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[project]
	if !ok {
		l = &sync.Mutex{}
		r.locks[project] = l
	}
	return l
}

func (r *Reconciler) projectRoot(project string) string {
	return filepath.Join(r.root, project)
}

func (r *Reconciler) manifestPath(project string) string {
	return filepath.Join(r.projectRoot(project), pathutil.ManifestName)
}

// sortKeys orders folded keys for processing: placeholders first so their
// directories exist before files land, then shallow to deep, then lex.
func sortKeys(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		pi, pj := pathutil.IsPlaceholder(keys[i]), pathutil.IsPlaceholder(keys[j])
		if pi != pj {
			return pi
		}
		di, dj := pathutil.Depth(keys[i]), pathutil.Depth(keys[j])
		if di != dj {
			return di < dj
		}
		return keys[i] < keys[j]
	})
}

// FullPass reconciles one project end to end. hydrateOnly suppresses every
// outbound write: no uploads, no object deletes, no origin notifications.
// Per-key failures are logged and the key's previous manifest record is
// carried forward so the next pass retries.
func (r *Reconciler) FullPass(ctx context.Context, project string, hydrateOnly bool) (*Stats, error) {
	lock := r.Lock(project)
	lock.Lock()
	defer lock.Unlock()

	if r.origin != nil && !hydrateOnly {
		r.origin.Refresh(ctx, project)
	}

	projectRoot := r.projectRoot(project)
	prev := manifest.Load(r.manifestPath(project))

	local, err := scanner.Scan(projectRoot)
	if err != nil {
		return nil, err
	}
	remote, err := r.store.ListProject(ctx, project)
	if err != nil {
		return nil, err
	}

	union := make(map[string]struct{}, len(local)+len(remote)+len(prev))
	for k := range local {
		union[k] = struct{}{}
	}
	for k := range remote {
		union[k] = struct{}{}
	}
	for k := range prev {
		union[k] = struct{}{}
	}
	keys := make([]string, 0, len(union))
	for k := range union {
		keys = append(keys, k)
	}
	sortKeys(keys)

	side := sidecar.NewStore(projectRoot)
	next := manifest.Manifest{}
	stats := &Stats{}

	for _, k := range keys {
		r.reconcileKey(ctx, project, k, local[k], remote[k], prev, next, side, hydrateOnly, stats)
	}

	if err := manifest.Save(r.manifestPath(project), next); err != nil {
		return stats, err
	}

	slog.Info("full pass complete", "project", project, "hydrateOnly", hydrateOnly,
		"uploaded", stats.Uploaded, "downloaded", stats.Downloaded,
		"deletedLocal", stats.DeletedLocal, "deletedRemote", stats.DeletedRemote,
		"skipped", stats.Skipped, "failed", stats.Failed)
	return stats, nil
}

// reconcileKey classifies and applies one folded key. It writes the key's
// outcome into next; keys with no surviving state get no record.
func (r *Reconciler) reconcileKey(ctx context.Context, project, k string, lf *scanner.LocalFile, rf *objstore.RemoteFile, prev, next manifest.Manifest, side *sidecar.Store, hydrateOnly bool, stats *Stats) {
	prevRec, inPrev := prev[k]
	projectRoot := r.projectRoot(project)

	carry := func() {
		if inPrev {
			next[k] = prevRec
		}
	}

	if pathutil.IsPlaceholder(k) {
		if rf == nil {
			// placeholder withdrawn upstream; the local directory stays
			return
		}
		dir := filepath.Join(projectRoot, filepath.FromSlash(path.Dir(rf.RelOriginal)))
		if err := os.MkdirAll(pathutil.LongPath(dir), 0o755); err != nil {
			slog.Error("create folder failed", "project", project, "dir", dir, "error", err)
			stats.Failed++
			carry()
			return
		}
		next[k] = manifest.Record{
			Source:       manifest.SourceS3,
			LastModified: rf.LastModified,
			RelOriginal:  rf.RelOriginal,
		}
		return
	}

	// placeholders aside, ignored names never move and never enter the
	// manifest
	if pathutil.IsIgnored(path.Base(k)) {
		return
	}

	switch {
	case lf != nil && rf != nil:
		r.compare(ctx, project, k, lf, rf, next, side, hydrateOnly, stats, carry)

	case lf != nil:
		// present locally only
		if inPrev && prevRec.Source == manifest.SourceS3 {
			// the store introduced it and has now removed it
			if err := os.Remove(pathutil.LongPath(lf.AbsPath)); err != nil {
				slog.Error("delete local failed", "project", project, "rel", lf.RelOriginal, "error", err)
				stats.Failed++
				carry()
				return
			}
			side.Delete(k)
			stats.DeletedLocal++
			slog.Info("deleted local (removed upstream)", "project", project, "rel", lf.RelOriginal)
			return
		}
		r.uploadNew(ctx, project, k, lf, next, side, hydrateOnly, stats, carry)

	case rf != nil:
		// present on the store only
		if inPrev && prevRec.Source == manifest.SourceLocal {
			// born locally, deleted locally
			if hydrateOnly {
				carry()
				return
			}
			if err := r.store.Delete(ctx, rf.RealKey); err != nil {
				slog.Error("delete object failed", "project", project, "key", rf.RealKey, "error", err)
				stats.Failed++
				carry()
				return
			}
			side.Delete(k)
			stats.DeletedRemote++
			slog.Info("deleted object (removed locally)", "project", project, "rel", rf.RelOriginal)
			return
		}
		r.download(ctx, project, k, lf, rf, next, side, stats, carry)

	default:
		// gone from both sides; drop the record and any stale sidecar
		side.Delete(k)
	}
}

// compare decides the direction for a key present on both sides.
func (r *Reconciler) compare(ctx context.Context, project, k string, lf *scanner.LocalFile, rf *objstore.RemoteFile, next manifest.Manifest, side *sidecar.Store, hydrateOnly bool, stats *Stats, carry func()) {
	noop := func() {
		stats.Skipped++
		carry()
		if _, ok := next[k]; !ok {
			next[k] = manifest.Record{
				Source:       manifest.SourceLocal,
				LastModified: lf.LastModified,
				RelOriginal:  lf.RelOriginal,
			}
		}
	}

	curr := sidecar.Fingerprint(lf.AbsPath)
	meta, err := side.Get(k)
	if err != nil {
		slog.Warn("sidecar read failed", "project", project, "rel", lf.RelOriginal, "error", err)
	}

	// echo shield: bytes unchanged since we last wrote or saw them
	if meta != nil && curr != "" && meta.Fingerprint == curr {
		noop()
		return
	}

	lt, st := lf.LastModified, rf.LastModified
	diff := lt.Sub(st)
	if diff < 0 {
		diff = -diff
	}
	if diff < skewGuard {
		noop()
		return
	}

	if lt.After(st) {
		if hydrateOnly {
			carry()
			return
		}
		r.copyUp(ctx, project, k, lf.RelOriginal, lf.AbsPath, lf.LastModified, next, side, stats, carry)
		return
	}
	r.download(ctx, project, k, lf, rf, next, side, stats, carry)
}

// uploadNew handles a key present locally with no object behind it.
func (r *Reconciler) uploadNew(ctx context.Context, project, k string, lf *scanner.LocalFile, next manifest.Manifest, side *sidecar.Store, hydrateOnly bool, stats *Stats, carry func()) {
	if hydrateOnly {
		carry()
		return
	}

	// files the origin wrote need a content change before they may go
	// back up; re-uploading an unchanged copy would just echo
	meta, _ := side.Get(k)
	if meta != nil && meta.Origin == sidecar.OriginFilevine {
		if curr := sidecar.Fingerprint(lf.AbsPath); curr != "" && meta.Fingerprint == curr {
			stats.Skipped++
			carry()
			return
		}
	}

	r.copyUp(ctx, project, k, lf.RelOriginal, lf.AbsPath, lf.LastModified, next, side, stats, carry)
}

// copyUp uploads a local file, marks its sidecar local and records it in
// the manifest, then notifies the origin side. On failure the previous
// record is carried forward so the next pass retries with history intact.
func (r *Reconciler) copyUp(ctx context.Context, project, k, rel, absPath string, mtime time.Time, next manifest.Manifest, side *sidecar.Store, stats *Stats, carry func()) {
	key := r.store.KeyFor(project, rel)
	if err := r.store.Upload(ctx, absPath, key); err != nil {
		slog.Error("upload failed", "project", project, "rel", rel, "error", err)
		stats.Failed++
		carry()
		return
	}
	if err := side.Mark(k, absPath, sidecar.OriginLocal); err != nil {
		slog.Warn("sidecar mark failed", "project", project, "rel", rel, "error", err)
	}
	next[k] = manifest.Record{
		Source:       manifest.SourceLocal,
		LastModified: mtime,
		RelOriginal:  rel,
	}
	stats.Uploaded++
	slog.Info("uploaded", "project", project, "rel", rel)

	if r.origin != nil {
		r.origin.UploadLocal(ctx, project, rel, absPath)
	}
}

// download copies an object to the mirror, preferring the existing local
// path's case when the file already exists.
func (r *Reconciler) download(ctx context.Context, project, k string, lf *scanner.LocalFile, rf *objstore.RemoteFile, next manifest.Manifest, side *sidecar.Store, stats *Stats, carry func()) {
	rel := rf.RelOriginal
	absPath := filepath.Join(r.projectRoot(project), filepath.FromSlash(rel))
	if lf != nil {
		rel = lf.RelOriginal
		absPath = lf.AbsPath
	}

	if err := r.store.Download(ctx, rf.RealKey, absPath); err != nil {
		slog.Error("download failed", "project", project, "rel", rel, "error", err)
		stats.Failed++
		carry()
		return
	}
	if err := side.Mark(k, absPath, sidecar.OriginFilevine); err != nil {
		slog.Warn("sidecar mark failed", "project", project, "rel", rel, "error", err)
	}
	next[k] = manifest.Record{
		Source:       manifest.SourceS3,
		LastModified: rf.LastModified,
		RelOriginal:  rf.RelOriginal,
	}
	stats.Downloaded++
	slog.Info("downloaded", "project", project, "rel", rel)
}
