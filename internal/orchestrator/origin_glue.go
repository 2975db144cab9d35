package orchestrator

import (
	"context"
	"log/slog"
	"path"
	"sync"

	"github.com/casebridge/casesync/internal/config"
	"github.com/casebridge/casesync/internal/projectmap"
)

// originGlue adapts the authenticated Origin client to the reconciler's
// notification surface, translating project names to ids through the
// persisted map and caching root-folder inference per project.
type originGlue struct {
	cfg  *config.Config
	o    OriginAPI
	pmap *projectmap.Map

	mu    sync.Mutex
	roots map[int64]int64 // projectID -> root folder id
}

func newOriginGlue(cfg *config.Config, o OriginAPI, pmap *projectmap.Map) *originGlue {
	return &originGlue{cfg: cfg, o: o, pmap: pmap, roots: make(map[int64]int64)}
}

func (g *originGlue) Refresh(ctx context.Context, project string) {
	id, err := g.pmap.Resolve(ctx, g.o, project)
	if err != nil {
		slog.Warn("project refresh skipped, id unresolved", "project", project, "error", err)
		return
	}
	g.o.RefreshProject(ctx, id)
}

func (g *originGlue) UploadLocal(ctx context.Context, project, rel, absPath string) {
	if !g.cfg.EnableOriginUpload {
		return
	}

	id, err := g.pmap.Resolve(ctx, g.o, project)
	if err != nil {
		slog.Warn("origin upload skipped, project id unresolved",
			"project", project, "rel", rel, "error", err)
		return
	}

	rootID, err := g.rootFolder(ctx, id)
	if err != nil {
		slog.Warn("origin upload skipped, no root folder",
			"project", project, "rel", rel, "error", err)
		return
	}

	folder := path.Dir(rel)
	if folder == "." {
		folder = ""
	}

	docID, err := g.o.UploadFile(ctx, id, absPath, folder, rootID, g.cfg.RequireResolved)
	if err != nil {
		slog.Error("origin upload failed", "project", project, "rel", rel, "error", err)
		return
	}
	slog.Info("uploaded to origin", "project", project, "rel", rel, "documentId", docID)
}

func (g *originGlue) rootFolder(ctx context.Context, projectID int64) (int64, error) {
	if g.cfg.RootFolderID != 0 {
		return g.cfg.RootFolderID, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if id, ok := g.roots[projectID]; ok {
		return id, nil
	}
	id, err := g.o.GuessRootFolderID(ctx, projectID)
	if err != nil {
		return 0, err
	}
	g.roots[projectID] = id
	return id, nil
}
