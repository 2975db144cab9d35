package origin

import (
	"context"
	"fmt"
	"strings"

	"github.com/casebridge/casesync/internal/pathutil"
)

const folderPageSize = 500

// listFolders pages through every folder of a project.
func (c *Client) listFolders(ctx context.Context, projectID int64) ([]folderItem, error) {
	var all []folderItem
	offset := 0
	for {
		var page pagedItems[folderItem]
		res, err := c.http.R().
			SetContext(ctx).
			SetQueryParamsAnyType(map[string]any{"offset": offset, "limit": folderPageSize}).
			SetSuccessResult(&page).
			Get(fmt.Sprintf("/core/projects/%d/folders", projectID))
		if err != nil {
			return nil, fmt.Errorf("list folders: %w", err)
		}
		if res.IsErrorState() {
			return nil, fmt.Errorf("list folders: %s", res.Status)
		}
		all = append(all, page.Items...)
		if !page.HasMore || len(page.Items) == 0 {
			return all, nil
		}
		offset += len(page.Items)
	}
}

// GuessRootFolderID infers the project's root Documents folder: the parent
// id that the most top-level folders share. Listings do not flag the root
// explicitly, so majority vote is the only reliable signal.
func (c *Client) GuessRootFolderID(ctx context.Context, projectID int64) (int64, error) {
	folders, err := c.listFolders(ctx, projectID)
	if err != nil {
		return 0, err
	}
	counts := make(map[int64]int)
	for _, f := range folders {
		if pid := f.ParentID.Int64(); pid != 0 {
			counts[pid]++
		}
	}
	var best int64
	bestN := 0
	for id, n := range counts {
		if n > bestN {
			best, bestN = id, n
		}
	}
	if best == 0 {
		return 0, fmt.Errorf("project %d: cannot infer root folder", projectID)
	}
	return best, nil
}

// Children lists the direct child folders of parentID.
func (c *Client) Children(ctx context.Context, parentID int64) ([]folderItem, error) {
	var all []folderItem
	offset := 0
	for {
		var page pagedItems[folderItem]
		res, err := c.http.R().
			SetContext(ctx).
			SetQueryParamsAnyType(map[string]any{"offset": offset, "limit": folderPageSize}).
			SetSuccessResult(&page).
			Get(fmt.Sprintf("/core/folders/%d/children", parentID))
		if err != nil {
			return nil, fmt.Errorf("folder %d children: %w", parentID, err)
		}
		if res.IsErrorState() {
			return nil, fmt.Errorf("folder %d children: %s", parentID, res.Status)
		}
		all = append(all, page.Items...)
		if !page.HasMore || len(page.Items) == 0 {
			return all, nil
		}
		offset += len(page.Items)
	}
}

func (c *Client) folderInfo(ctx context.Context, folderID int64) (*folderInfo, error) {
	var info folderInfo
	res, err := c.http.R().
		SetContext(ctx).
		SetSuccessResult(&info).
		Get(fmt.Sprintf("/core/folders/%d", folderID))
	if err != nil {
		return nil, fmt.Errorf("folder %d: %w", folderID, err)
	}
	if res.IsErrorState() {
		return nil, fmt.Errorf("folder %d: %s", folderID, res.Status)
	}
	return &info, nil
}

// ResolvePath walks folderID's parent chain up to rootFolderID and returns
// the slash-joined path of sanitized folder names, e.g. "Discovery/To Client".
// Resolved paths are cached per folder id. With strict set, any lookup
// failure is an error; otherwise the walk stops and returns what it has.
func (c *Client) ResolvePath(ctx context.Context, folderID, rootFolderID int64, strict bool) (string, error) {
	if folderID == 0 || folderID == rootFolderID {
		return "", nil
	}
	if p, ok := c.folderCache.Get(folderID); ok {
		return p, nil
	}

	var parts []string
	cur := folderID
	for cur != 0 && cur != rootFolderID {
		if len(parts) > 64 {
			return "", fmt.Errorf("folder %d: parent chain too deep", folderID)
		}
		info, err := c.folderInfo(ctx, cur)
		if err != nil {
			if strict {
				return "", err
			}
			break
		}
		name := pathutil.Sanitize(info.Name)
		parts = append([]string{name}, parts...)
		cur = info.parentID()
	}
	if strict && cur != rootFolderID && cur != 0 {
		return "", fmt.Errorf("folder %d: chain did not reach root %d", folderID, rootFolderID)
	}

	path := strings.Join(parts, "/")
	c.folderCache.Add(folderID, path)
	return path, nil
}

// EnumerateFolders walks the whole folder tree under rootFolderID breadth
// first and returns folder id -> path. Empty folders are included, which is
// what lets the mirror materialize them as placeholder objects.
func (c *Client) EnumerateFolders(ctx context.Context, rootFolderID int64) (map[int64]string, error) {
	out := make(map[int64]string)
	type node struct {
		id   int64
		path string
	}
	queue := []node{{id: rootFolderID}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		children, err := c.Children(ctx, cur.id)
		if err != nil {
			return nil, err
		}
		for _, ch := range children {
			id := ch.FolderID.Int64()
			if id == 0 {
				continue
			}
			p := pathutil.Sanitize(ch.Name)
			if cur.path != "" {
				p = cur.path + "/" + p
			}
			if _, seen := out[id]; seen {
				continue
			}
			out[id] = p
			c.folderCache.Add(id, p)
			queue = append(queue, node{id: id, path: p})
		}
	}
	return out, nil
}

// ResolveUnderRoot walks subpath ("A/B/C") down from rootFolderID, matching
// each segment against child folder names case-insensitively, and returns
// the id of the final folder. Empty subpath resolves to the root itself.
func (c *Client) ResolveUnderRoot(ctx context.Context, rootFolderID int64, subpath string) (int64, error) {
	cur := rootFolderID
	for _, seg := range strings.Split(subpath, "/") {
		if seg == "" {
			continue
		}
		children, err := c.Children(ctx, cur)
		if err != nil {
			return 0, err
		}
		found := int64(0)
		for _, ch := range children {
			if strings.EqualFold(pathutil.Sanitize(ch.Name), seg) {
				found = ch.FolderID.Int64()
				break
			}
		}
		if found == 0 {
			return 0, fmt.Errorf("folder path %q: segment %q not found", subpath, seg)
		}
		cur = found
	}
	return cur, nil
}

// ResolveSmartPath resolves a mirror-relative folder path that may or may
// not carry the leading "Documents" segment, trying the literal path first
// and then the stripped and prefixed variants.
func (c *Client) ResolveSmartPath(ctx context.Context, rootFolderID int64, subpath string) (int64, error) {
	subpath = strings.Trim(subpath, "/")
	candidates := []string{subpath}
	if rest, ok := strings.CutPrefix(subpath, "Documents/"); ok {
		candidates = append(candidates, rest)
	} else if subpath == "Documents" {
		candidates = append(candidates, "")
	} else {
		candidates = append(candidates, "Documents/"+subpath)
	}

	var lastErr error
	for _, cand := range candidates {
		id, err := c.ResolveUnderRoot(ctx, rootFolderID, cand)
		if err == nil {
			return id, nil
		}
		lastErr = err
	}
	return 0, lastErr
}
