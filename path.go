package webdav

import (
	"context"
	"os"
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// AccessMode selects which containment/lock checks PathResolver applies,
// per §4.1's {r, w, wl, wd} enumeration.
type AccessMode int

const (
	// ModeRead: readable, 404 if absent.
	ModeRead AccessMode = iota
	// ModeWrite: writable; parent must exist if target is absent; checks
	// the lock manager unless the caller suppresses it.
	ModeWrite
	// ModeWriteNoLock: write, but skip lock verification (shared LOCK
	// acquisition).
	ModeWriteNoLock
	// ModeWriteDeep: write, plus a recursive lock check over descendants
	// (DELETE, MOVE source).
	ModeWriteDeep
)

// NormalizeForm selects Unicode normalization applied to incoming path
// segments before they reach the filesystem, per the unicode_normalize
// config option (§6).
type NormalizeForm int

const (
	NormalizeNone NormalizeForm = iota
	NormalizeNFC
	NormalizeNFD
	NormalizeNFKC
	NormalizeNFKD
)

// PathResolver translates request-relative paths into filesystem paths,
// validates containment under the configured root, and enforces the
// access/deny lists (§4.1).
type PathResolver struct {
	FS          Filesystem
	Locks       LockManager
	Normalize   NormalizeForm
	DenyRead    []string // glob patterns, matched per path segment
	DenyWrite   []string
}

// Clean validates and normalizes a request-relative path. A leading "/" is
// optional; empty and "." segments are dropped, and any ".." segment is
// rejected with 404. The remaining segments are Unicode-normalized and
// re-joined into the canonical "/"-rooted form.
func (r *PathResolver) Clean(rel string) (string, error) {
	rel = strings.TrimPrefix(rel, "/")
	segments := strings.Split(rel, "/")
	clean := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" || seg == "." {
			continue
		}
		if seg == ".." {
			return "", Status(404, errNotFound)
		}
		clean = append(clean, r.normalizeSegment(seg))
	}
	p := "/" + strings.Join(clean, "/")
	// descendant_of(real, root) invariant: path.Clean never reintroduces a
	// ".." because we've already rejected it segment by segment.
	if path.Clean(p) != p {
		return "", Status(404, errNotFound)
	}
	return p, nil
}

func (r *PathResolver) normalizeSegment(seg string) string {
	switch r.Normalize {
	case NormalizeNFC:
		return norm.NFC.String(seg)
	case NormalizeNFD:
		return norm.NFD.String(seg)
	case NormalizeNFKC:
		return norm.NFKC.String(seg)
	case NormalizeNFKD:
		return norm.NFKD.String(seg)
	default:
		return seg
	}
}

func matchesAny(patterns []string, rel string) bool {
	for _, seg := range strings.Split(strings.TrimPrefix(rel, "/"), "/") {
		for _, pat := range patterns {
			if ok, _ := path.Match(pat, seg); ok {
				return true
			}
		}
	}
	return false
}

// CheckRead implements check_read (§4.1): deny-list, existence, readability.
func (r *PathResolver) CheckRead(ctx context.Context, rel string) (FileInfo, error) {
	if matchesAny(r.DenyRead, rel) {
		return FileInfo{}, Status(403, errForbidden)
	}
	fi, err := r.FS.Stat(ctx, rel)
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, Status(404, errNotFound)
		}
		if os.IsPermission(err) {
			return FileInfo{}, Status(403, errForbidden)
		}
		return FileInfo{}, Status(500, err)
	}
	return fi, nil
}

// CheckWrite implements check_write / check_write_deep (§4.1). mode must
// be ModeWrite, ModeWriteNoLock or ModeWriteDeep.
func (r *PathResolver) CheckWrite(ctx context.Context, rel string, mode AccessMode, provided map[lockKey]bool) error {
	if matchesAny(r.DenyWrite, rel) || matchesAny(r.DenyRead, rel) {
		return Status(403, errForbidden)
	}

	fi, err := r.FS.Stat(ctx, rel)
	switch {
	case err == nil:
		// exists; fall through to lock check
	case os.IsNotExist(err):
		parentFi, perr := r.FS.Stat(ctx, parentOf(rel))
		if perr != nil {
			if os.IsNotExist(perr) {
				return Status(409, errConflict)
			}
			return Status(500, perr)
		}
		if !parentFi.IsDir {
			return Status(409, errConflict)
		}
	default:
		return Status(500, err)
	}
	_ = fi

	if mode == ModeWriteNoLock || r.Locks == nil {
		return nil
	}
	recursive := mode == ModeWriteDeep
	locks, err := r.Locks.GetLocks(ctx, rel, recursive)
	if err != nil {
		return AsStatus(err)
	}
	for _, lk := range locks {
		if provided[lockKey{lk.Path, lk.URN}] {
			continue
		}
		if !provided[lockKey{lk.Path, lk.URN}] {
			return Precondition(StatusLocked, "", errLocked)
		}
	}
	return nil
}

func parentOf(rel string) string {
	d := path.Dir(rel)
	return d
}
