// Package orchestrator owns the agent lifecycle: project discovery on both
// sides, serial hydration, one watcher per project, and the periodic full
// reconciliation loop.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/casebridge/casesync/internal/config"
	"github.com/casebridge/casesync/internal/pathutil"
	"github.com/casebridge/casesync/internal/projectmap"
	"github.com/casebridge/casesync/internal/reconcile"
	"github.com/casebridge/casesync/internal/watcher"
)

// lockFileName guards the mirror root against a second agent instance.
const lockFileName = ".casesync.lock"

// Store is the object-store surface the orchestrator needs on top of what
// the reconciler uses.
type Store interface {
	reconcile.Store
	ListProjects(ctx context.Context) ([]string, error)
	HasProjectPrefix(ctx context.Context, project string) (bool, error)
	SeedProject(ctx context.Context, project string) error
}

// OriginAPI is the authenticated Origin surface consumed through the glue.
type OriginAPI interface {
	Enabled() bool
	ResolveProjectID(ctx context.Context, name string) (int64, error)
	GuessRootFolderID(ctx context.Context, projectID int64) (int64, error)
	UploadFile(ctx context.Context, projectID int64, localPath, folderSubpath string, rootFolderID int64, requireResolved bool) (int64, error)
	RefreshProject(ctx context.Context, projectID int64)
}

// Orchestrator runs the agent: it discovers projects, hydrates them,
// watches them and keeps the poll loop going until the context ends.
type Orchestrator struct {
	cfg   *config.Config
	store Store
	rec   *reconcile.Reconciler
	pmap  *projectmap.Map

	watchers map[string]*watcher.Watcher
	lock     *flock.Flock
}

func New(cfg *config.Config, store Store, origin OriginAPI) *Orchestrator {
	pmap := projectmap.Load(cfg.ProjectMapPath)

	var glue reconcile.Origin
	if origin != nil && origin.Enabled() {
		glue = newOriginGlue(cfg, origin, pmap)
	}

	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		rec:      reconcile.New(store, glue, cfg.MirrorRoot),
		pmap:     pmap,
		watchers: make(map[string]*watcher.Watcher),
	}
}

// Run blocks until ctx is done. It is an error if another agent already
// holds the mirror root.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := os.MkdirAll(o.cfg.MirrorRoot, 0o755); err != nil {
		return fmt.Errorf("create mirror root: %w", err)
	}

	o.lock = flock.New(filepath.Join(o.cfg.MirrorRoot, lockFileName))
	locked, err := o.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock mirror root: %w", err)
	}
	if !locked {
		return fmt.Errorf("mirror root %s is already being synced by another agent", o.cfg.MirrorRoot)
	}
	defer o.lock.Unlock()
	defer o.stopWatchers()

	if err := o.discoverAndAdopt(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("shutting down")
			return nil
		case <-ticker.C:
			if err := o.discoverAndAdopt(ctx); err != nil {
				slog.Error("poll cycle failed", "error", err)
			}
		}
	}
}

// passParallelism caps how many projects reconcile at once. Projects are
// independent; the limit just keeps transfer fan-out in check.
const passParallelism = 4

// discoverAndAdopt merges the store-side and local-side project sets,
// hydrates and watches anything new, then runs a full pass over everything.
// New projects hydrate serially: a watcher on a half-hydrated tree would
// read its own downloads as local creations. The passes themselves run
// concurrently across projects.
func (o *Orchestrator) discoverAndAdopt(ctx context.Context) error {
	projects, err := o.discover(ctx)
	if err != nil {
		return err
	}

	var ready []string
	for _, project := range projects {
		if _, watched := o.watchers[project]; !watched {
			if err := o.adopt(ctx, project); err != nil {
				slog.Error("project adoption failed", "project", project, "error", err)
				continue
			}
		}
		ready = append(ready, project)
		if ctx.Err() != nil {
			return nil
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(passParallelism)
	for _, project := range ready {
		g.Go(func() error {
			if _, err := o.rec.FullPass(gctx, project, false); err != nil {
				slog.Error("full pass failed", "project", project, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// discover returns the union of store-side projects (ensuring their local
// directories exist) and local top-level directories (seeding their store
// prefix when absent).
func (o *Orchestrator) discover(ctx context.Context) ([]string, error) {
	remote, err := o.store.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover store projects: %w", err)
	}

	seen := make(map[string]struct{}, len(remote))
	var projects []string
	for _, project := range remote {
		seen[project] = struct{}{}
		projects = append(projects, project)
		dir := filepath.Join(o.cfg.MirrorRoot, project)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				slog.Error("create project dir failed", "project", project, "error", err)
				continue
			}
			slog.Info("created local project dir", "project", project)
		}
	}

	entries, err := os.ReadDir(o.cfg.MirrorRoot)
	if err != nil {
		return nil, fmt.Errorf("read mirror root: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || pathutil.IsIgnored(name) {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		has, err := o.store.HasProjectPrefix(ctx, name)
		if err != nil {
			slog.Error("project prefix check failed", "project", name, "error", err)
			continue
		}
		if !has {
			if err := o.store.SeedProject(ctx, name); err != nil {
				slog.Error("seed project failed", "project", name, "error", err)
				continue
			}
			slog.Info("seeded store prefix for local project", "project", name)
		}
		projects = append(projects, name)
	}
	return projects, nil
}

// adopt brings one newly discovered project into the sync set: hydrate it
// to local currency, then start its watcher.
func (o *Orchestrator) adopt(ctx context.Context, project string) error {
	slog.Info("adopting project", "project", project)

	if _, err := o.rec.FullPass(ctx, project, true); err != nil {
		return fmt.Errorf("hydrate: %w", err)
	}

	w, err := watcher.Start(ctx, project, filepath.Join(o.cfg.MirrorRoot, project), o.rec)
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	o.watchers[project] = w
	return nil
}

func (o *Orchestrator) stopWatchers() {
	for project, w := range o.watchers {
		w.Stop()
		delete(o.watchers, project)
	}
}
