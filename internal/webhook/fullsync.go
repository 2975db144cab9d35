package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/casebridge/casesync/internal/pathutil"
)

// SyncProject exports a whole project into the object store: every folder
// becomes a placeholder chain, every document lands at its exact path.
// Per-document failures are logged and skipped so one bad link cannot stall
// the export.
func (s *Service) SyncProject(ctx context.Context, projectID int64) error {
	started := time.Now()
	project := pathutil.Sanitize(s.origin.ProjectName(ctx, projectID))
	slog.Info("full project sync starting", "project", project, "projectId", projectID)

	rootID, err := s.origin.GuessRootFolderID(ctx, projectID)
	if err != nil {
		return fmt.Errorf("project %d: %w", projectID, err)
	}

	tree, err := s.origin.EnumerateFolders(ctx, rootID)
	if err != nil {
		return fmt.Errorf("project %d folders: %w", projectID, err)
	}
	paths := make([]string, 0, len(tree))
	for _, p := range tree {
		paths = append(paths, p)
	}
	s.store.EnsurePlaceholders(ctx, project, paths)

	docs, err := s.origin.FetchAllDocuments(ctx, projectID)
	if err != nil {
		return fmt.Errorf("project %d documents: %w", projectID, err)
	}

	ids := make([]int64, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	links, err := s.origin.DownloadLinks(ctx, ids)
	if err != nil {
		return fmt.Errorf("project %d download links: %w", projectID, err)
	}

	var synced, failed int
	var totalBytes int64
	for i := range docs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		doc := &docs[i]

		url, ok := links[doc.ID]
		if !ok {
			slog.Warn("document has no download link, skipping",
				"projectId", projectID, "documentId", doc.ID)
			failed++
			continue
		}

		body, err := s.origin.FetchBody(ctx, url)
		if err != nil {
			slog.Warn("document fetch failed, skipping",
				"projectId", projectID, "documentId", doc.ID, "error", err)
			failed++
			continue
		}

		folderPath := s.docFolderPath(ctx, doc, rootID, tree)
		filename := pathutil.Sanitize(doc.Filename)
		rel := relFor(folderPath, filename)
		key := s.store.KeyFor(project, rel)

		err = s.store.PutBytes(ctx, key, body, filename,
			documentMetadata(doc.ID, projectID, doc.FolderID, folderPath),
			documentTags(doc.ID, projectID))
		if err != nil {
			slog.Warn("document put failed, skipping",
				"projectId", projectID, "documentId", doc.ID, "error", err)
			failed++
			continue
		}
		synced++
		totalBytes += int64(len(body))
	}

	slog.Info("full project sync finished",
		"project", project, "projectId", projectID,
		"folders", len(tree), "synced", synced, "failed", failed,
		"transferred", humanize.Bytes(uint64(totalBytes)),
		"elapsed", time.Since(started).Round(time.Millisecond))
	if failed > 0 && synced == 0 && len(docs) > 0 {
		return fmt.Errorf("project %d: all %d documents failed", projectID, failed)
	}
	return nil
}
