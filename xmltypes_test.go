package webdav

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePropfindRequestEmptyBodyIsAllProp(t *testing.T) {
	req, err := ParsePropfindRequest(strings.NewReader(""))
	require.NoError(t, err)
	assert.True(t, req.AllProp)
}

func TestParsePropfindRequestNamedProps(t *testing.T) {
	body := `<?xml version="1.0"?><D:propfind xmlns:D="DAV:"><D:prop><D:getcontentlength/><D:resourcetype/></D:prop></D:propfind>`
	req, err := ParsePropfindRequest(strings.NewReader(body))
	require.NoError(t, err)
	assert.False(t, req.AllProp)
	assert.ElementsMatch(t, []string{"{DAV:}getcontentlength", "{DAV:}resourcetype"}, req.Names)
}

func TestParseProppatchRequestOrderPreserved(t *testing.T) {
	body := `<?xml version="1.0"?><D:propertyupdate xmlns:D="DAV:">
		<D:set><D:prop><D:getlastmodified>Mon, 02 Jan 2006 15:04:05 GMT</D:getlastmodified></D:prop></D:set>
		<D:remove><D:prop><D:resourcetype/></D:prop></D:remove>
	</D:propertyupdate>`
	instructions, err := ParseProppatchRequest(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, instructions, 2)
	assert.True(t, instructions[0].IsSet)
	assert.Equal(t, "{DAV:}getlastmodified", instructions[0].Name)
	assert.False(t, instructions[1].IsSet)
	assert.Equal(t, "{DAV:}resourcetype", instructions[1].Name)
}

func TestParseLockInfoRequestRefresh(t *testing.T) {
	req, err := ParseLockInfoRequest(strings.NewReader(""))
	require.NoError(t, err)
	assert.True(t, req.Refresh)
}

func TestParseLockInfoRequestAcquire(t *testing.T) {
	body := `<?xml version="1.0"?><D:lockinfo xmlns:D="DAV:">
		<D:lockscope><D:exclusive/></D:lockscope>
		<D:locktype><D:write/></D:locktype>
		<D:owner>alice</D:owner>
	</D:lockinfo>`
	req, err := ParseLockInfoRequest(strings.NewReader(body))
	require.NoError(t, err)
	assert.False(t, req.Refresh)
	assert.False(t, req.Shared)
	assert.Equal(t, "alice", req.Owner)
}

func TestMultistatusWriterBytes(t *testing.T) {
	var ms MultistatusWriter
	ms.AddPropstats("/a.txt", map[int][]anyElem{200: {{XMLName: s2x("{DAV:}getcontentlength"), Inner: "5"}}})
	assert.False(t, ms.Empty())
	b, err := ms.Bytes()
	require.NoError(t, err)
	assert.Contains(t, string(b), "<D:multistatus")
	assert.Contains(t, string(b), "getcontentlength")
	assert.Contains(t, string(b), "HTTP/1.1 200 OK")
}
