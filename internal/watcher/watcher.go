// Package watcher turns filesystem events under a project root into
// fast-path reconciliations.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/rjeczalik/notify"

	"github.com/casebridge/casesync/internal/pathutil"
)

// queueSize bounds the per-project event buffer. A full buffer drops the
// event; the periodic full pass picks the change up instead.
const queueSize = 1024

// FastPather is the reconciler entry point the watcher drives.
type FastPather interface {
	FastPath(ctx context.Context, project, absPath string) error
}

// Watcher is one recursive watch on a project root, drained by a single
// goroutine so the event source never blocks.
type Watcher struct {
	project string
	root    string
	rec     FastPather

	events chan notify.EventInfo
	stop   chan struct{}
	done   chan struct{}
}

// Start begins watching projectRoot recursively for creates, writes,
// removes and renames.
func Start(ctx context.Context, project, projectRoot string, rec FastPather) (*Watcher, error) {
	w := &Watcher{
		project: project,
		root:    projectRoot,
		rec:     rec,
		events:  make(chan notify.EventInfo, queueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	watchPath := filepath.Join(projectRoot, "...")
	if err := notify.Watch(watchPath, w.events, notify.Create|notify.Write|notify.Remove|notify.Rename); err != nil {
		return nil, err
	}

	go w.drain(ctx)
	slog.Info("watcher started", "project", project, "root", projectRoot)
	return w, nil
}

// Stop tears the watch down and waits for the drain goroutine.
func (w *Watcher) Stop() {
	notify.Stop(w.events)
	close(w.stop)
	<-w.done
}

func (w *Watcher) drain(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case ev := <-w.events:
			w.handle(ctx, ev.Path())
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) handle(ctx context.Context, absPath string) {
	if !w.relevant(absPath) {
		return
	}
	if err := w.rec.FastPath(ctx, w.project, absPath); err != nil {
		slog.Error("fast path failed", "project", w.project, "path", absPath, "error", err)
	}
}

// relevant filters events before they cost a reconciliation: anything in
// the sidecar directory and any ignored basename is dropped here. The
// reconciler's own shield catches whatever slips through.
func (w *Watcher) relevant(absPath string) bool {
	rel, err := filepath.Rel(w.root, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = pathutil.NormalizeRel(rel)
	if rel == "" {
		return false
	}
	for _, seg := range strings.Split(rel, "/") {
		if pathutil.IsIgnored(seg) {
			return false
		}
	}
	return true
}
