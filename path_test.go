package webdav

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathResolverClean(t *testing.T) {
	r := &PathResolver{}
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"/", "/", false},
		{"", "/", false},
		{"/a/b", "/a/b", false},
		{"a/b/", "/a/b", false},
		{"/a/./b", "/a/b", false},
		{"/a//b", "/a/b", false},
		{"/a/../b", "", true},
		{"/../etc/passwd", "", true},
		{"/a/..", "", true},
	}
	for _, c := range cases {
		got, err := r.Clean(c.in)
		if c.wantErr {
			assert.Error(t, err, c.in)
			continue
		}
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestPathResolverCheckReadDeny(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "public.txt"), []byte("x"), 0644))

	fs, fsErr := NewLocalFilesystem(dir)
	require.NoError(t, fsErr)
	t.Cleanup(func() { fs.Close() })
	r := &PathResolver{FS: fs, DenyRead: []string{"secret*"}}

	_, err := r.CheckRead(context.Background(), "/secret.txt")
	require.Error(t, err)
	assert.Equal(t, 403, AsStatus(err).Status)

	fi, err := r.CheckRead(context.Background(), "/public.txt")
	require.NoError(t, err)
	assert.Equal(t, "/public.txt", fi.Path)

	_, err = r.CheckRead(context.Background(), "/missing.txt")
	require.Error(t, err)
	assert.Equal(t, 404, AsStatus(err).Status)
}

func TestPathResolverCheckWriteParentMustExist(t *testing.T) {
	dir := t.TempDir()
	fs, fsErr := NewLocalFilesystem(dir)
	require.NoError(t, fsErr)
	t.Cleanup(func() { fs.Close() })
	r := &PathResolver{FS: fs}

	err := r.CheckWrite(context.Background(), "/missingdir/file.txt", ModeWrite, nil)
	require.Error(t, err)
	assert.Equal(t, 409, AsStatus(err).Status)
}

func TestPathResolverCheckWriteLocked(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0644))
	fs, fsErr := NewLocalFilesystem(dir)
	require.NoError(t, fsErr)
	t.Cleanup(func() { fs.Close() })
	locks, closeLocks := newTestLockManager(t)
	defer closeLocks()

	r := &PathResolver{FS: fs, Locks: locks}
	lk, err := locks.Create(context.Background(), "/a.txt", false, "X", DepthZero, 0)
	require.NoError(t, err)

	err = r.CheckWrite(context.Background(), "/a.txt", ModeWrite, nil)
	require.Error(t, err)
	assert.Equal(t, StatusLocked, AsStatus(err).Status)

	err = r.CheckWrite(context.Background(), "/a.txt", ModeWrite, map[lockKey]bool{{Path: "/a.txt", URN: lk.URN}: true})
	assert.NoError(t, err)
}
