package sidecar

import (
	"crypto/md5"
	"fmt"
	"io"
	"os"
)

// Fingerprint computes the content identity of a local file as
// "md5hex|size". It returns "" when the file cannot be read; callers treat
// that as "no fingerprint" rather than an error, matching the per-key
// best-effort policy of the reconciler.
func Fingerprint(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	h := md5.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%x|%d", h.Sum(nil), n)
}
