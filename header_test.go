package webdav

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDepth(t *testing.T) {
	cases := []struct {
		header string
		def    int
		want   int
	}{
		{"", DepthInfinity, DepthInfinity},
		{"0", DepthInfinity, DepthZero},
		{"1", DepthInfinity, DepthOne},
		{"infinity", DepthZero, DepthInfinity},
	}
	for _, c := range cases {
		got, err := ParseDepth(c.header, c.def)
		require.NoError(t, err, c.header)
		assert.Equal(t, c.want, got, c.header)
	}

	_, err := ParseDepth("2", DepthZero)
	assert.Error(t, err)
}

func TestParseOverwrite(t *testing.T) {
	ok, err := ParseOverwrite("")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ParseOverwrite("f")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ParseOverwrite("maybe")
	assert.Error(t, err)
}

func TestParseTimeout(t *testing.T) {
	got, err := ParseTimeout("", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, got)

	got, err = ParseTimeout("Second-30", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, got)

	got, err = ParseTimeout("Infinite, Second-30", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), got)

	got, err = ParseTimeout("Bogus-Form, Second-15", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, got)

	_, err = ParseTimeout("Bogus-Form", time.Hour)
	assert.Error(t, err)
}

func TestParseDestination(t *testing.T) {
	rel, err := ParseDestination("http://example.com/dav/a/b.txt", "example.com", "/dav")
	require.NoError(t, err)
	assert.Equal(t, "/a/b.txt", rel)

	_, err = ParseDestination("http://other.com/dav/a/b.txt", "example.com", "/dav")
	assert.Error(t, err)

	_, err = ParseDestination("", "example.com", "/dav")
	assert.Error(t, err)
}

func TestParseLockToken(t *testing.T) {
	tok, err := ParseLockToken("<urn:uuid:abc>")
	require.NoError(t, err)
	assert.Equal(t, "urn:uuid:abc", tok)

	_, err = ParseLockToken("urn:uuid:abc")
	assert.Error(t, err)
}
