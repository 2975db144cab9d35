package origin

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/casebridge/casesync/internal/objstore"
	"github.com/casebridge/casesync/internal/pathutil"
)

type registerRequest struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	FolderID int64  `json:"folderId"`
}

// registerResponse covers both upload transports the API hands out: a
// presigned PUT url, or a form POST with provided fields.
type registerResponse struct {
	DocumentID NativeID          `json:"documentId"`
	URL        string            `json:"url"`
	UploadURL  string            `json:"uploadUrl"`
	Method     string            `json:"method"`
	Fields     map[string]string `json:"fields"`
}

func (r *registerResponse) uploadURL() string {
	if r.UploadURL != "" {
		return r.UploadURL
	}
	return r.URL
}

// UploadFile pushes a local file into the project under folderSubpath
// (mirror-relative, "A/B"). The folder is resolved under rootFolderID; with
// requireResolved set an unresolvable subpath aborts, otherwise the file
// lands in the root folder. Returns the new document id.
func (c *Client) UploadFile(ctx context.Context, projectID int64, localPath, folderSubpath string, rootFolderID int64, requireResolved bool) (int64, error) {
	folderID := rootFolderID
	if folderSubpath != "" {
		id, err := c.ResolveSmartPath(ctx, rootFolderID, folderSubpath)
		if err != nil {
			if requireResolved {
				return 0, fmt.Errorf("resolve folder %q: %w", folderSubpath, err)
			}
			slog.Warn("folder unresolved, uploading to root",
				"folder", folderSubpath, "error", err)
		} else {
			folderID = id
		}
	}

	info, err := os.Stat(pathutil.LongPath(localPath))
	if err != nil {
		return 0, fmt.Errorf("stat upload source: %w", err)
	}
	filename := filepath.Base(localPath)

	reg, err := c.registerDocument(ctx, projectID, &registerRequest{
		Filename: filename,
		Size:     info.Size(),
		FolderID: folderID,
	})
	if err != nil {
		return 0, err
	}

	if err := c.transferUpload(ctx, reg, localPath, filename); err != nil {
		return 0, err
	}

	docID := reg.DocumentID.Int64()
	if err := c.finalizeDocument(ctx, docID, projectID, folderID, filename, info.Size()); err != nil {
		return 0, err
	}
	return docID, nil
}

func (c *Client) registerDocument(ctx context.Context, projectID int64, body *registerRequest) (*registerResponse, error) {
	var reg registerResponse
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsAnyType(map[string]any{"projectId": projectID}).
		SetBody(body).
		SetSuccessResult(&reg).
		Post("/core/documents")
	if err != nil {
		return nil, fmt.Errorf("register document: %w", err)
	}
	if res.IsErrorState() {
		return nil, fmt.Errorf("register document: %s %s", res.Status, res.String())
	}
	if reg.DocumentID.Int64() == 0 || reg.uploadURL() == "" {
		return nil, fmt.Errorf("register document: incomplete response")
	}
	return &reg, nil
}

func (c *Client) transferUpload(ctx context.Context, reg *registerResponse, localPath, filename string) error {
	longPath := pathutil.LongPath(localPath)

	if len(reg.Fields) > 0 || reg.Method == "POST" {
		r := c.bare().R().SetContext(ctx)
		for k, v := range reg.Fields {
			r.SetFormData(map[string]string{k: v})
		}
		res, err := r.SetFile("file", longPath).Post(reg.uploadURL())
		if err != nil {
			return fmt.Errorf("upload form post: %w", err)
		}
		if res.IsErrorState() {
			return fmt.Errorf("upload form post: %s", res.Status)
		}
		return nil
	}

	f, err := os.Open(longPath)
	if err != nil {
		return fmt.Errorf("open upload source: %w", err)
	}
	defer f.Close()

	res, err := c.bare().R().
		SetContext(ctx).
		SetContentType(objstore.DetectContentType(filename)).
		SetBody(f).
		Put(reg.uploadURL())
	if err != nil {
		return fmt.Errorf("upload put: %w", err)
	}
	if res.IsErrorState() {
		return fmt.Errorf("upload put: %s", res.Status)
	}
	return nil
}

func (c *Client) finalizeDocument(ctx context.Context, documentID, projectID, folderID int64, filename string, size int64) error {
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsAnyType(map[string]any{"folderId": folderID}).
		SetBody(map[string]any{
			"projectId": projectID,
			"filename":  filename,
			"size":      size,
		}).
		Post(fmt.Sprintf("/core/documents/%d/finalize", documentID))
	if err != nil {
		return fmt.Errorf("finalize document %d: %w", documentID, err)
	}
	if res.IsErrorState() {
		return fmt.Errorf("finalize document %d: %s", documentID, res.Status)
	}
	return nil
}
