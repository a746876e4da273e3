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

func TestParseIfHeaderValue(t *testing.T) {
	h, err := parseIfHeaderValue(`(<urn:uuid:1> ["abc"]) (Not <urn:uuid:2>)`)
	require.NoError(t, err)
	require.Len(t, h.Lists, 2)
	assert.Len(t, h.Lists[0].Conditions, 2)
	assert.Equal(t, "urn:uuid:1", h.Lists[0].Conditions[0].Token)
	assert.Equal(t, `"abc"`, h.Lists[0].Conditions[1].ETag)
	assert.True(t, h.Lists[1].Conditions[0].Not)

	h, err = parseIfHeaderValue(`<http://example.com/a.txt> (<urn:uuid:3>)`)
	require.NoError(t, err)
	require.Len(t, h.Lists, 1)
	assert.Equal(t, "http://example.com/a.txt", h.Lists[0].Resource)

	_, err = parseIfHeaderValue(`(`)
	assert.Error(t, err)
}

func TestConditionalGateETagCondition(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0644))
	fs, fsErr := NewLocalFilesystem(dir)
	require.NoError(t, fsErr)
	t.Cleanup(func() { fs.Close() })
	resolver := &PathResolver{FS: fs}

	fi, err := fs.Stat(context.Background(), "/a.txt")
	require.NoError(t, err)
	etag := ETag(fi)

	gate := &ConditionalGate{Resolver: resolver}

	provided, err := gate.Evaluate(context.Background(), `(["`+stripQuotes(etag)+`"])`, "/a.txt", "example.com")
	require.NoError(t, err)
	assert.NotNil(t, provided)

	_, err = gate.Evaluate(context.Background(), `(["wrong-etag"])`, "/a.txt", "example.com")
	require.Error(t, err)
	assert.Equal(t, 412, AsStatus(err).Status)
}

func stripQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func TestConditionalGateTokenCondition(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0644))
	fs, fsErr := NewLocalFilesystem(dir)
	require.NoError(t, fsErr)
	t.Cleanup(func() { fs.Close() })
	locks, closeLocks := newTestLockManager(t)
	defer closeLocks()

	resolver := &PathResolver{FS: fs, Locks: locks}
	gate := &ConditionalGate{Resolver: resolver, Locks: locks}

	lk, err := locks.Create(context.Background(), "/a.txt", false, "alice", DepthZero, time.Minute)
	require.NoError(t, err)

	provided, err := gate.Evaluate(context.Background(), "(<"+lk.URN+">)", "/a.txt", "example.com")
	require.NoError(t, err)
	assert.True(t, provided[lockKey{Path: "/a.txt", URN: lk.URN}])

	_, err = gate.Evaluate(context.Background(), "(<urn:uuid:bogus>)", "/a.txt", "example.com")
	require.Error(t, err)
	assert.Equal(t, 412, AsStatus(err).Status)
}

func TestConditionalGateEmptyHeader(t *testing.T) {
	gate := &ConditionalGate{Resolver: &PathResolver{}}
	provided, err := gate.Evaluate(context.Background(), "", "/a.txt", "example.com")
	require.NoError(t, err)
	assert.Empty(t, provided)
}
