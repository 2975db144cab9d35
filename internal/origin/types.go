package origin

import (
	"regexp"
	"strconv"

	"github.com/bytedance/sonic"
)

// NativeID is an Origin entity id. The API emits ids in several shapes
// (a bare number, a numeric string, or an object {"native": 123}) and
// webhook payloads mix them freely.
type NativeID int64

func (n *NativeID) UnmarshalJSON(data []byte) error {
	var wrapped struct {
		Native *int64 `json:"native"`
	}
	if err := sonic.Unmarshal(data, &wrapped); err == nil && wrapped.Native != nil {
		*n = NativeID(*wrapped.Native)
		return nil
	}

	var scalar int64
	if err := sonic.Unmarshal(data, &scalar); err == nil {
		*n = NativeID(scalar)
		return nil
	}

	var str string
	if err := sonic.Unmarshal(data, &str); err == nil {
		if v, err := strconv.ParseInt(str, 10, 64); err == nil {
			*n = NativeID(v)
			return nil
		}
	}

	// unknown shape: leave zero rather than failing the whole payload
	*n = 0
	return nil
}

func (n NativeID) Int64() int64 { return int64(n) }

type pagedItems[T any] struct {
	Items   []T  `json:"items"`
	HasMore bool `json:"hasMore"`
}

// Document is one project document as listed by the Origin API.
type Document struct {
	ID         int64
	Filename   string
	Size       int64
	FolderID   int64
	FolderName string
	Modified   string
}

type documentItem struct {
	DocumentID   NativeID `json:"documentId"`
	Filename     string   `json:"filename"`
	Size         int64    `json:"size"`
	FolderID     NativeID `json:"folderId"`
	FolderName   string   `json:"folderName"`
	ModifiedDate string   `json:"modifiedDate"`
	UploadDate   string   `json:"uploadDate"`
}

type folderItem struct {
	FolderID NativeID `json:"folderId"`
	ParentID NativeID `json:"parentId"`
	Name     string   `json:"name"`
}

type folderInfo struct {
	Name           string   `json:"name"`
	ParentID       NativeID `json:"parentId"`
	ParentFolderID NativeID `json:"parentFolderId"`
	ParentFolder   NativeID `json:"parentFolder"`
	Links          struct {
		Parent string `json:"parent"`
	} `json:"links"`
}

var linkParentRe = regexp.MustCompile(`/folders/(\d+)`)

// parentID normalizes the several shapes Origin uses for a folder's parent.
func (f *folderInfo) parentID() int64 {
	for _, id := range []NativeID{f.ParentID, f.ParentFolderID, f.ParentFolder} {
		if id != 0 {
			return id.Int64()
		}
	}
	if m := linkParentRe.FindStringSubmatch(f.Links.Parent); m != nil {
		if v, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return v
		}
	}
	return 0
}
