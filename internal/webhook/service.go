// Package webhook receives case-management events and propagates them into
// the object store: single-document upserts and deletes on document events,
// and full project exports for background syncs.
package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strconv"

	"github.com/bytedance/sonic"

	"github.com/casebridge/casesync/internal/origin"
	"github.com/casebridge/casesync/internal/pathutil"
)

const allowlistEnv = "PROJECT_ALLOWLIST_JSON"

// resolveAttempts bounds the backoff probes for folder paths that the
// origin side may not have settled yet.
const resolveAttempts = 4

// OriginAPI is the authenticated Origin surface the service consumes.
type OriginAPI interface {
	ProjectName(ctx context.Context, projectID int64) string
	GuessRootFolderID(ctx context.Context, projectID int64) (int64, error)
	EnumerateFolders(ctx context.Context, rootFolderID int64) (map[int64]string, error)
	ResolvePath(ctx context.Context, folderID, rootFolderID int64, strict bool) (string, error)
	GetDocument(ctx context.Context, documentID int64) (*origin.Document, error)
	DocumentExists(ctx context.Context, documentID int64) bool
	FetchAllDocuments(ctx context.Context, projectID int64) ([]origin.Document, error)
	DownloadLinks(ctx context.Context, documentIDs []int64) (map[int64]string, error)
	FetchBody(ctx context.Context, url string) ([]byte, error)
}

// StoreAPI is the object-store surface the service consumes.
type StoreAPI interface {
	KeyFor(project, rel string) string
	PutBytes(ctx context.Context, key string, body []byte, filename string, metadata, tags map[string]string) error
	Delete(ctx context.Context, key string) error
	FindKeysByDocID(ctx context.Context, project string, docID int64) ([]string, error)
	HasProjectPrefix(ctx context.Context, project string) (bool, error)
	EnsurePlaceholders(ctx context.Context, project string, folderPaths []string)
}

// Service routes classified events to store operations.
type Service struct {
	origin OriginAPI
	store  StoreAPI

	// allowed is nil when every project is in scope.
	allowed map[int64]struct{}
}

func NewService(originAPI OriginAPI, store StoreAPI) *Service {
	return &Service{
		origin:  originAPI,
		store:   store,
		allowed: loadAllowlist(),
	}
}

// loadAllowlist reads the optional JSON array of project ids that limits
// which projects this deployment propagates.
func loadAllowlist() map[int64]struct{} {
	raw := os.Getenv(allowlistEnv)
	if raw == "" {
		return nil
	}
	var ids []int64
	if err := sonic.Unmarshal([]byte(raw), &ids); err != nil {
		slog.Warn("allowlist unparsable, allowing all projects", "error", err)
		return nil
	}
	out := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func (s *Service) projectAllowed(id int64) bool {
	if s.allowed == nil {
		return true
	}
	_, ok := s.allowed[id]
	return ok
}

// Handle applies one classified event. FullSync work is long; callers run
// Handle off the request goroutine for that kind.
func (s *Service) Handle(ctx context.Context, ev *Event) error {
	if ev.ProjectID == 0 {
		return fmt.Errorf("event without project id")
	}
	if !s.projectAllowed(ev.ProjectID) {
		slog.Info("project not in allowlist, ignoring", "projectId", ev.ProjectID)
		return nil
	}

	switch ev.Kind {
	case FullSync:
		return s.SyncProject(ctx, ev.ProjectID)

	case DocumentDelete:
		return s.deleteDocument(ctx, ev.ProjectID, ev.DocumentID)

	case DocumentCreateOrUpdate:
		return s.upsertDocument(ctx, ev.ProjectID, ev.DocumentID)

	case ProbeThenDecide:
		if s.origin.DocumentExists(ctx, ev.DocumentID) {
			return s.upsertDocument(ctx, ev.ProjectID, ev.DocumentID)
		}
		return s.deleteDocument(ctx, ev.ProjectID, ev.DocumentID)
	}
	return fmt.Errorf("unhandled event kind %v", ev.Kind)
}

// upsertDocument downloads one document from the origin and lands it at its
// exact folder path. A project whose prefix is still empty gets a full sync
// instead; the single document would otherwise arrive into a skeleton no
// agent has adopted yet.
func (s *Service) upsertDocument(ctx context.Context, projectID, documentID int64) error {
	if documentID == 0 {
		return fmt.Errorf("create/update event without document id")
	}

	project := pathutil.Sanitize(s.origin.ProjectName(ctx, projectID))
	seeded, err := s.store.HasProjectPrefix(ctx, project)
	if err != nil {
		return fmt.Errorf("check project prefix: %w", err)
	}
	if !seeded {
		slog.Info("project prefix empty, running initial full sync",
			"project", project, "projectId", projectID)
		return s.SyncProject(ctx, projectID)
	}

	doc, err := s.origin.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}

	rootID, err := s.origin.GuessRootFolderID(ctx, projectID)
	if err != nil {
		return err
	}

	// the folder may have been created moments ago; probe with backoff
	// before giving up on the exact path
	var folderPath string
	err = origin.ProbeWithBackoff(ctx, resolveAttempts, func() error {
		var rerr error
		folderPath, rerr = s.origin.ResolvePath(ctx, doc.FolderID, rootID, true)
		return rerr
	})
	if err != nil {
		slog.Warn("folder path unresolved, using folder name",
			"documentId", documentID, "folderId", doc.FolderID, "error", err)
		folderPath = pathutil.Sanitize(doc.FolderName)
	}

	if folderPath != "" {
		s.store.EnsurePlaceholders(ctx, project, []string{folderPath})
	}

	links, err := s.origin.DownloadLinks(ctx, []int64{documentID})
	if err != nil {
		return err
	}
	url, ok := links[documentID]
	if !ok {
		return fmt.Errorf("document %d: no download link", documentID)
	}
	body, err := s.origin.FetchBody(ctx, url)
	if err != nil {
		return err
	}

	filename := pathutil.Sanitize(doc.Filename)
	rel := filename
	if folderPath != "" {
		rel = folderPath + "/" + filename
	}
	key := s.store.KeyFor(project, rel)

	err = s.store.PutBytes(ctx, key, body, filename,
		documentMetadata(documentID, projectID, doc.FolderID, folderPath),
		documentTags(documentID, projectID))
	if err != nil {
		return err
	}
	slog.Info("document propagated", "projectId", projectID, "documentId", documentID, "rel", rel)
	return nil
}

// deleteDocument removes every object carrying the document's identity.
func (s *Service) deleteDocument(ctx context.Context, projectID, documentID int64) error {
	if documentID == 0 {
		return fmt.Errorf("delete event without document id")
	}

	project := pathutil.Sanitize(s.origin.ProjectName(ctx, projectID))
	keys, err := s.store.FindKeysByDocID(ctx, project, documentID)
	if err != nil {
		return fmt.Errorf("locate document %d: %w", documentID, err)
	}
	if len(keys) == 0 {
		slog.Info("delete event for unknown document", "projectId", projectID, "documentId", documentID)
		return nil
	}

	for _, key := range keys {
		if err := s.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		slog.Info("document object deleted", "documentId", documentID, "key", key)
	}
	return nil
}

func documentMetadata(documentID, projectID, folderID int64, folderPath string) map[string]string {
	return map[string]string{
		"documentid": strconv.FormatInt(documentID, 10),
		"projectid":  strconv.FormatInt(projectID, 10),
		"folderid":   strconv.FormatInt(folderID, 10),
		"folderpath": folderPath,
	}
}

func documentTags(documentID, projectID int64) map[string]string {
	return map[string]string{
		"origin":    "filevine",
		"fv_docid":  strconv.FormatInt(documentID, 10),
		"projectId": strconv.FormatInt(projectID, 10),
	}
}

// docFolderPath picks the folder path for a listed document during a full
// sync: the enumerated tree first, then a lenient parent walk, then the
// bare folder name.
func (s *Service) docFolderPath(ctx context.Context, doc *origin.Document, rootID int64, tree map[int64]string) string {
	if doc.FolderID == 0 || doc.FolderID == rootID {
		return ""
	}
	if p, ok := tree[doc.FolderID]; ok {
		return p
	}
	if p, err := s.origin.ResolvePath(ctx, doc.FolderID, rootID, false); err == nil && p != "" {
		return p
	}
	return pathutil.Sanitize(doc.FolderName)
}

func relFor(folderPath, filename string) string {
	if folderPath == "" {
		return filename
	}
	return path.Join(folderPath, filename)
}
