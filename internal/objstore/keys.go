package objstore

import (
	"strings"

	"github.com/casebridge/casesync/internal/pathutil"
)

// Layout describes the fixed object-key shape used as the rendezvous
// between Origin and the local mirror:
//
//	<rootPrefix>/<project>/<orgSegment>/<project>/<relKey>
//
// OrgMarker is the segment expected in listings; OrgFolderName is the one
// written. They are normally the same organization display name.
type Layout struct {
	RootPrefix    string
	OrgMarker     string
	OrgFolderName string
}

// ProjectPrefix returns the full key prefix for a project, with a trailing
// slash.
func (l Layout) ProjectPrefix(project string) string {
	project = pathutil.Sanitize(project)
	parts := []string{l.RootPrefix, project, l.OrgFolderName, project}
	return joinKey(parts...) + "/"
}

// RootScope returns the prefix used for one-level project discovery.
func (l Layout) RootScope() string {
	if l.RootPrefix == "" {
		return ""
	}
	return joinKey(l.RootPrefix) + "/"
}

// KeyFor builds the real object key for a RelKey within a project.
func (l Layout) KeyFor(project, rel string) string {
	return l.ProjectPrefix(project) + pathutil.NormalizeRel(rel)
}

// RelFromKey strips the project prefix from a real object key, returning the
// original-case RelKey and whether the key belongs to the project at all.
func (l Layout) RelFromKey(project, key string) (string, bool) {
	prefix := l.ProjectPrefix(project)
	rest, ok := cutPrefixFold(key, prefix)
	if !ok || rest == "" {
		return "", false
	}
	return pathutil.NormalizeRel(rest), true
}

func joinKey(parts ...string) string {
	trimmed := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.ReplaceAll(p, "\\", "/"), "/")
		if p != "" {
			trimmed = append(trimmed, p)
		}
	}
	return strings.Join(trimmed, "/")
}

// cutPrefixFold is strings.CutPrefix with case-insensitive matching; object
// keys written by different producers may disagree on project-name case.
func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) {
		return "", false
	}
	if !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return s[len(prefix):], true
}
