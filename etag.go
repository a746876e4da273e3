package webdav

import (
	"fmt"
	"strings"
)

// ETag computes the opaque entity tag for a file's mutation-observable
// state (§4.3): the literal letter "S" separates the mtime (Unix nanos)
// from the size, quoted per RFC 7232. Two files are the "same revision"
// iff their ETags are equal.
func ETag(fi FileInfo) string {
	return fmt.Sprintf(`"%dS%d"`, fi.ModTime.UnixNano(), fi.Size)
}

// ETagMatches reports whether etag satisfies a comma-separated If-Match /
// If-None-Match list, or the wildcard "*". ETags never contain commas, so
// a naive split is safe.
func ETagMatches(etag, list string) bool {
	list = strings.TrimSpace(list)
	if list == "*" {
		return true
	}
	for _, candidate := range strings.Split(list, ",") {
		if strings.TrimSpace(candidate) == etag {
			return true
		}
	}
	return false
}
