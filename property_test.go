package webdav

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, locks LockManager) (*PropertyRegistry, FileInfo) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0644))
	fs, fsErr := NewLocalFilesystem(dir)
	require.NoError(t, fsErr)
	t.Cleanup(func() { fs.Close() })
	fi, err := fs.Stat(context.Background(), "/a.txt")
	require.NoError(t, err)
	return &PropertyRegistry{FS: fs, Locks: locks}, fi
}

func TestPropertyRegistryReadNamedProps(t *testing.T) {
	reg, fi := newTestRegistry(t, nil)
	byStatus := reg.Read(context.Background(), fi, PropfindRequest{Names: []string{"{DAV:}getcontentlength", "{DAV:}bogus"}})
	require.Len(t, byStatus[200], 1)
	assert.Equal(t, "{DAV:}getcontentlength", x2s(byStatus[200][0].XMLName))
	require.Len(t, byStatus[404], 1)
}

func TestPropertyRegistryReadAllProp(t *testing.T) {
	reg, fi := newTestRegistry(t, nil)
	byStatus := reg.Read(context.Background(), fi, PropfindRequest{AllProp: true})
	assert.NotEmpty(t, byStatus[200])
	// supportedlock is omitted (locking disabled).
	for _, e := range byStatus[200] {
		assert.NotEqual(t, "{DAV:}supportedlock", x2s(e.XMLName))
	}
}

func TestPropertyRegistryReadPropName(t *testing.T) {
	reg, fi := newTestRegistry(t, nil)
	byStatus := reg.Read(context.Background(), fi, PropfindRequest{PropName: true})
	assert.Len(t, byStatus[200], len(allPropertyNames))
}

func TestPropertyRegistryApplyAllOrNothing(t *testing.T) {
	reg, fi := newTestRegistry(t, nil)
	instructions := []ProppatchInstruction{
		{Name: "{DAV:}getlastmodified", Value: time.Now().UTC().Format(time.RFC1123), IsSet: true},
		{Name: "{DAV:}resourcetype", Value: "", IsSet: true},
	}
	results, err := reg.Apply(context.Background(), fi, instructions)
	require.NoError(t, err)
	assert.Equal(t, StatusFailedDependency, results["{DAV:}getlastmodified"].Status)
	assert.Equal(t, 403, results["{DAV:}resourcetype"].Status)
}

func TestPropertyRegistryApplySucceeds(t *testing.T) {
	reg, fi := newTestRegistry(t, nil)
	newTime := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	instructions := []ProppatchInstruction{
		{Name: "{DAV:}getlastmodified", Value: newTime.Format(time.RFC1123), IsSet: true},
	}
	results, err := reg.Apply(context.Background(), fi, instructions)
	require.NoError(t, err)
	assert.Equal(t, 200, results["{DAV:}getlastmodified"].Status)

	updated, err := reg.FS.Stat(context.Background(), fi.Path)
	require.NoError(t, err)
	assert.WithinDuration(t, newTime, updated.ModTime, time.Second)
}
