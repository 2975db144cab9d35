package origin

import (
	"context"
	"fmt"
	"strings"
)

const projectPageSize = 50

type projectItem struct {
	ProjectID           NativeID `json:"projectId"`
	ProjectName         string   `json:"projectName"`
	ProjectOrClientName string   `json:"projectOrClientName"`
}

func (p *projectItem) name() string {
	if p.ProjectOrClientName != "" {
		return p.ProjectOrClientName
	}
	return p.ProjectName
}

// ResolveProjectID finds the project whose name matches case-insensitively,
// paging through /core/projects until found or exhausted.
func (c *Client) ResolveProjectID(ctx context.Context, name string) (int64, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	offset := 0
	for {
		var page pagedItems[projectItem]
		res, err := c.http.R().
			SetContext(ctx).
			SetQueryParamsAnyType(map[string]any{"offset": offset, "limit": projectPageSize}).
			SetSuccessResult(&page).
			Get("/core/projects")
		if err != nil {
			return 0, fmt.Errorf("list projects: %w", err)
		}
		if res.IsErrorState() {
			return 0, fmt.Errorf("list projects: %s", res.Status)
		}

		for _, item := range page.Items {
			if strings.ToLower(strings.TrimSpace(item.name())) == want {
				return item.ProjectID.Int64(), nil
			}
		}

		if !page.HasMore || len(page.Items) == 0 {
			return 0, fmt.Errorf("project %q not found", name)
		}
		offset += len(page.Items)
	}
}

// ProjectName returns the display name for a project id, falling back to
// "Project_<id>" when the lookup fails so callers always get a usable
// folder name.
func (c *Client) ProjectName(ctx context.Context, projectID int64) string {
	var item projectItem
	res, err := c.http.R().
		SetContext(ctx).
		SetSuccessResult(&item).
		Get(fmt.Sprintf("/core/projects/%d", projectID))
	if err == nil && res.IsSuccessState() && item.name() != "" {
		return item.name()
	}
	return fmt.Sprintf("Project_%d", projectID)
}
