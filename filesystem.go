package webdav

import (
	"context"
	"errors"
	"io"
	"time"
)

// FileInfo is the subset of file metadata the engine needs, independent of
// the underlying storage. It has no ETag field; ETag (etag.go) derives one
// from ModTime and Size.
type FileInfo struct {
	Path    string // request-relative path, slash-separated, "/"-rooted
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Filesystem is the capability the engine consumes to do anything to
// bytes on disk (§1 Purpose & Scope: "a Filesystem capability (stat, read,
// write, mkdir, rename, remove, walk)"). A path passed to any method here
// is already resolved and containment-checked by PathResolver.
type Filesystem interface {
	Stat(ctx context.Context, name string) (FileInfo, error)

	// Open opens name for reading. The caller closes it.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Create truncates (or creates) name and returns a writer. The caller
	// closes it; Close must commit the bytes durably enough for an
	// immediately following Stat to observe the new size/mtime.
	Create(ctx context.Context, name string) (io.WriteCloser, error)

	Mkdir(ctx context.Context, name string) error

	// Remove deletes a single file or an empty directory.
	Remove(ctx context.Context, name string) error

	// RemoveAll recursively deletes name (file or directory tree).
	RemoveAll(ctx context.Context, name string) error

	// Rename moves oldName to newName, which may cross directories but not
	// filesystems backed by different roots. Implementations fall back to
	// copy+delete when the underlying os.Rename can't cross devices.
	Rename(ctx context.Context, oldName, newName string) error

	// CopyFile copies a single regular file's content and mode bits.
	CopyFile(ctx context.Context, src, dst string) error

	// Walk visits name and, if it is a directory, descendants up to depth
	// levels deep (depth < 0 means unlimited). fn is called with each
	// visited entry's FileInfo, whose Path is request-relative; fn prunes a
	// directory's descendants by returning the sentinel ErrSkipDir.
	Walk(ctx context.Context, name string, depth int, fn WalkFunc) error

	// SetModTime implements the writable getlastmodified property.
	SetModTime(ctx context.Context, name string, t time.Time) error
}

// WalkFunc is called once per visited path. Returning ErrSkipDir from a
// call on a directory prunes its descendants without aborting the walk;
// any other non-nil error aborts the walk.
type WalkFunc func(info FileInfo) error

// ErrSkipDir, returned by a WalkFunc, prunes a directory's descendants.
var ErrSkipDir = errors.New("webdav: skip directory")
