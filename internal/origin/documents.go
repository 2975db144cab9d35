package origin

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

const (
	documentPageSize  = 200
	downloadBatchSize = 10
	// server-side TTL for signed download links, in seconds
	downloadLinkTTL = 600
)

func (d *documentItem) toDocument() Document {
	modified := d.ModifiedDate
	if modified == "" {
		modified = d.UploadDate
	}
	return Document{
		ID:         d.DocumentID.Int64(),
		Filename:   d.Filename,
		Size:       d.Size,
		FolderID:   d.FolderID.Int64(),
		FolderName: d.FolderName,
		Modified:   modified,
	}
}

// FetchAllDocuments pages through every document of a project.
func (c *Client) FetchAllDocuments(ctx context.Context, projectID int64) ([]Document, error) {
	var all []Document
	offset := 0
	for {
		var page pagedItems[documentItem]
		res, err := c.http.R().
			SetContext(ctx).
			SetQueryParamsAnyType(map[string]any{
				"projectId": projectID,
				"offset":    offset,
				"limit":     documentPageSize,
			}).
			SetSuccessResult(&page).
			Get("/core/documents")
		if err != nil {
			return nil, fmt.Errorf("list documents: %w", err)
		}
		if res.IsErrorState() {
			return nil, fmt.Errorf("list documents: %s", res.Status)
		}
		for _, item := range page.Items {
			all = append(all, item.toDocument())
		}
		if !page.HasMore || len(page.Items) == 0 {
			return all, nil
		}
		offset += len(page.Items)
	}
}

// GetDocument fetches a single document's metadata.
func (c *Client) GetDocument(ctx context.Context, documentID int64) (*Document, error) {
	var item documentItem
	res, err := c.http.R().
		SetContext(ctx).
		SetSuccessResult(&item).
		Get(fmt.Sprintf("/core/documents/%d", documentID))
	if err != nil {
		return nil, fmt.Errorf("document %d: %w", documentID, err)
	}
	if res.StatusCode == 404 {
		return nil, fmt.Errorf("document %d: not found", documentID)
	}
	if res.IsErrorState() {
		return nil, fmt.Errorf("document %d: %s", documentID, res.Status)
	}
	doc := item.toDocument()
	if doc.ID == 0 {
		doc.ID = documentID
	}
	return &doc, nil
}

// DocumentExists probes whether a document is still present. Only a clean
// 404 counts as gone; transport errors and other statuses report true so an
// ambiguous probe never triggers a delete downstream.
func (c *Client) DocumentExists(ctx context.Context, documentID int64) bool {
	res, err := c.http.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/core/documents/%d", documentID))
	if err != nil {
		slog.Warn("document probe failed, assuming present",
			"documentId", documentID, "error", err)
		return true
	}
	return res.StatusCode != 404
}

type downloadLinkItem struct {
	DocumentID NativeID `json:"documentId"`
	URL        string   `json:"url"`
	Link       string   `json:"link"`
	Href       string   `json:"href"`
}

func (d *downloadLinkItem) url() string {
	for _, u := range []string{d.URL, d.Link, d.Href} {
		if u != "" {
			return u
		}
	}
	return ""
}

// DownloadLinks resolves signed download URLs for a set of documents in
// batches, falling back to per-document requests for any batch that fails.
// The result maps document id to URL; documents the API would not link are
// simply absent.
func (c *Client) DownloadLinks(ctx context.Context, documentIDs []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(documentIDs))
	for start := 0; start < len(documentIDs); start += downloadBatchSize {
		end := min(start+downloadBatchSize, len(documentIDs))
		batch := documentIDs[start:end]

		links, err := c.batchDownloadLinks(ctx, batch)
		if err != nil {
			slog.Warn("batch download links failed, retrying per document",
				"batch", len(batch), "error", err)
			for _, id := range batch {
				u, err := c.singleDownloadLink(ctx, id)
				if err != nil {
					slog.Warn("download link unavailable", "documentId", id, "error", err)
					continue
				}
				out[id] = u
			}
			continue
		}
		for id, u := range links {
			out[id] = u
		}
	}
	return out, nil
}

func (c *Client) batchDownloadLinks(ctx context.Context, ids []int64) (map[int64]string, error) {
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = strconv.FormatInt(id, 10)
	}

	var items []downloadLinkItem
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsAnyType(map[string]any{
			"documentIds": strings.Join(strIDs, ","),
			"ttl":         downloadLinkTTL,
		}).
		SetSuccessResult(&items).
		Get("/core/documents/downloadlinks")
	if err != nil {
		return nil, err
	}
	if res.IsErrorState() {
		return nil, fmt.Errorf("download links: %s", res.Status)
	}

	out := make(map[int64]string, len(items))
	for _, item := range items {
		if id, u := item.DocumentID.Int64(), item.url(); id != 0 && u != "" {
			out[id] = u
		}
	}
	return out, nil
}

func (c *Client) singleDownloadLink(ctx context.Context, documentID int64) (string, error) {
	var item downloadLinkItem
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsAnyType(map[string]any{"ttl": downloadLinkTTL}).
		SetSuccessResult(&item).
		Get(fmt.Sprintf("/core/documents/%d/downloadlink", documentID))
	if err != nil {
		return "", err
	}
	if res.IsErrorState() {
		return "", fmt.Errorf("download link: %s", res.Status)
	}
	u := item.url()
	if u == "" {
		return "", fmt.Errorf("download link: empty response")
	}
	return u, nil
}

// FetchBody downloads a signed URL and returns the raw bytes. Signed URLs
// carry their own auth, so this goes through a bare client without the
// session headers.
func (c *Client) FetchBody(ctx context.Context, url string) ([]byte, error) {
	res, err := c.bare().R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch document body: %w", err)
	}
	if res.IsErrorState() {
		return nil, fmt.Errorf("fetch document body: %s", res.Status)
	}
	return res.Bytes(), nil
}
