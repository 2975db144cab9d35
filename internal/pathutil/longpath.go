package pathutil

import (
	"runtime"
	"strings"
)

const longPathPrefix = `\\?\`

// LongPath adorns local drive-letter paths with the Windows long-path prefix
// so deep case trees survive the MAX_PATH limit. UNC and already-extended
// paths pass through, as does everything on platforms without the limit.
func LongPath(p string) string {
	if runtime.GOOS != "windows" {
		return p
	}
	return adornLongPath(p)
}

func adornLongPath(p string) string {
	if strings.HasPrefix(p, longPathPrefix) || strings.HasPrefix(p, `\\`) {
		return p
	}
	if len(p) >= 2 && p[1] == ':' && isDriveLetter(p[0]) {
		return longPathPrefix + p
	}
	return p
}

func isDriveLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
