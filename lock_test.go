package webdav

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLockManager(t *testing.T) (*SQLiteLockManager, func()) {
	t.Helper()
	dir := t.TempDir()
	m, err := OpenSQLiteLockManager(context.Background(), filepath.Join(dir, "locks.db"), time.Hour, 5*time.Second)
	require.NoError(t, err)
	return m, func() { m.Close() }
}

func TestLockManagerCreateValidateRelease(t *testing.T) {
	m, closeM := newTestLockManager(t)
	defer closeM()
	ctx := context.Background()

	lk, err := m.Create(ctx, "/a.txt", false, "alice", DepthZero, time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, lk.URN)

	ok, err := m.Validate(ctx, "/a.txt", lk.URN)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, m.Release(ctx, "/a.txt", lk.URN))

	ok, err = m.Validate(ctx, "/a.txt", lk.URN)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLockManagerExclusiveConflict(t *testing.T) {
	m, closeM := newTestLockManager(t)
	defer closeM()
	ctx := context.Background()

	_, err := m.Create(ctx, "/a.txt", false, "alice", DepthZero, time.Minute)
	require.NoError(t, err)

	_, err = m.Create(ctx, "/a.txt", false, "bob", DepthZero, time.Minute)
	require.Error(t, err)
	assert.Equal(t, StatusLocked, AsStatus(err).Status)
}

func TestLockManagerSharedLocksCoexist(t *testing.T) {
	m, closeM := newTestLockManager(t)
	defer closeM()
	ctx := context.Background()

	_, err := m.Create(ctx, "/a.txt", true, "alice", DepthZero, time.Minute)
	require.NoError(t, err)
	_, err = m.Create(ctx, "/a.txt", true, "bob", DepthZero, time.Minute)
	assert.NoError(t, err)
}

func TestLockManagerInfiniteDepthCoversDescendants(t *testing.T) {
	m, closeM := newTestLockManager(t)
	defer closeM()
	ctx := context.Background()

	lk, err := m.Create(ctx, "/dir", true, "alice", DepthInfinity, time.Minute)
	require.NoError(t, err)

	ok, err := m.Validate(ctx, "/dir/sub/file", lk.URN)
	require.NoError(t, err)
	assert.True(t, ok)

	locks, err := m.GetLocks(ctx, "/dir/sub/file", false)
	require.NoError(t, err)
	require.Len(t, locks, 1)
	assert.Equal(t, lk.URN, locks[0].URN)
}

func TestLockManagerPurgeSubtree(t *testing.T) {
	m, closeM := newTestLockManager(t)
	defer closeM()
	ctx := context.Background()

	lkRoot, err := m.Create(ctx, "/dir", false, "alice", DepthZero, time.Minute)
	require.NoError(t, err)
	lkChild, err := m.Create(ctx, "/dir/sub/file", false, "bob", DepthZero, time.Minute)
	require.NoError(t, err)
	lkOutside, err := m.Create(ctx, "/other.txt", false, "carol", DepthZero, time.Minute)
	require.NoError(t, err)

	require.NoError(t, m.PurgeSubtree(ctx, "/dir"))

	ok, _ := m.Validate(ctx, "/dir", lkRoot.URN)
	assert.False(t, ok)
	ok, _ = m.Validate(ctx, "/dir/sub/file", lkChild.URN)
	assert.False(t, ok)
	ok, _ = m.Validate(ctx, "/other.txt", lkOutside.URN)
	assert.True(t, ok)
}

func TestLockManagerRefreshMismatch(t *testing.T) {
	m, closeM := newTestLockManager(t)
	defer closeM()
	ctx := context.Background()

	_, err := m.Refresh(ctx, "/a.txt", "urn:uuid:does-not-exist", time.Minute)
	require.Error(t, err)
	se := AsStatus(err)
	assert.Equal(t, 412, se.Status)
	assert.Equal(t, precondLockTokenMatchesURI, se.Precond)
}

func TestLockManagerReleaseMismatch(t *testing.T) {
	m, closeM := newTestLockManager(t)
	defer closeM()
	ctx := context.Background()

	err := m.Release(ctx, "/a.txt", "urn:uuid:does-not-exist")
	require.Error(t, err)
	se := AsStatus(err)
	assert.Equal(t, 409, se.Status)
	assert.Equal(t, precondLockTokenMatchesURI, se.Precond)
}

func TestLockManagerRefreshReleaseCoverDescendant(t *testing.T) {
	m, closeM := newTestLockManager(t)
	defer closeM()
	ctx := context.Background()

	lk, err := m.Create(ctx, "/dir", true, "alice", DepthInfinity, time.Minute)
	require.NoError(t, err)

	refreshed, err := m.Refresh(ctx, "/dir/sub/file", lk.URN, 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, lk.URN, refreshed.URN)

	require.NoError(t, m.Release(ctx, "/dir/sub/file", lk.URN))

	ok, err := m.Validate(ctx, "/dir", lk.URN)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLockManagerPurgeExpired(t *testing.T) {
	m, closeM := newTestLockManager(t)
	defer closeM()
	ctx := context.Background()

	lk, err := m.Create(ctx, "/a.txt", false, "alice", DepthZero, time.Millisecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, m.PurgeExpired(ctx))
	ok, err := m.Validate(ctx, "/a.txt", lk.URN)
	require.NoError(t, err)
	assert.False(t, ok)
}
