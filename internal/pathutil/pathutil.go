// Package pathutil holds the path sanitization, relative-key and ignore
// rules shared by the scanner, the watcher and the reconciler.
package pathutil

import (
	"path"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	// PlaceholderName is the basename of the zero-byte objects that mark
	// otherwise-empty folders in the object store.
	PlaceholderName = ".placeholder"

	// ManifestName is the per-project manifest file kept at the project root.
	ManifestName = ".last_sync_state.json"

	// SidecarDirName is the shadow directory holding per-file sync metadata.
	SidecarDirName = ".sync"
)

// IgnoreGlobs matches transient, editor and sync-internal files. Matched
// names are never uploaded, downloaded, deleted or recorded in the manifest.
// Placeholders are matched here too; the reconciler handles them separately
// for folder creation.
var IgnoreGlobs = []string{
	"*" + PlaceholderName,
	"~$*",
	"*.tmp",
	".DS_Store",
	"Thumbs.db",
	ManifestName,
	"*.part",
	"*.crdownload",
	"*.temp",
	"*.swp",
	"*.swx",
	"*.lnk",
}

// hex-suffixed editor scratch names, e.g. "report.docx.4C8A1F02"
var hexScratchRe = regexp.MustCompile(`^.+\..+\.[0-9A-Fa-f]{8}$`)

var illegalChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
var multiSpace = regexp.MustCompile(`\s+`)

// Sanitize makes a project or folder display name filesystem safe. Empty
// results collapse to "Unnamed".
func Sanitize(name string) string {
	name = illegalChars.ReplaceAllString(name, "")
	name = multiSpace.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)
	name = strings.Trim(name, ".")
	if name == "" {
		return "Unnamed"
	}
	return name
}

// IsIgnored reports whether a basename matches the ignore rules.
func IsIgnored(basename string) bool {
	if basename == SidecarDirName {
		return true
	}
	for _, glob := range IgnoreGlobs {
		if ok, _ := doublestar.Match(glob, basename); ok {
			return true
		}
	}
	return hexScratchRe.MatchString(basename)
}

// IsPlaceholder reports whether a relative key names a folder placeholder.
func IsPlaceholder(rel string) bool {
	return path.Base(rel) == PlaceholderName
}

// NormalizeRel converts a local or object-store path fragment into the
// canonical RelKey form: forward slashes, no leading or trailing slash,
// no empty segments.
func NormalizeRel(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	segs := strings.Split(p, "/")
	out := segs[:0]
	for _, s := range segs {
		if s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, "/")
}

// Fold returns the case-insensitive comparison form of a RelKey. Writes
// always use the original-case form; comparison always uses the folded one.
func Fold(rel string) string {
	return strings.ToLower(rel)
}

// Depth counts the number of path segments in a RelKey.
func Depth(rel string) int {
	if rel == "" {
		return 0
	}
	return strings.Count(rel, "/") + 1
}
