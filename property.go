package webdav

import (
	"context"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"
)

// propGetter computes one property's rendered inner XML for a resource.
// present reports whether the property applies at all (e.g.
// getcontentlength never applies to a directory); when it doesn't, the
// caller treats a name-requested lookup as 404 and an allprop sweep as a
// silent omission.
type propGetter func(reg *PropertyRegistry, fi FileInfo) (inner string, present bool, err error)

var propertyGetters = map[string]propGetter{
	"{DAV:}creationdate":     getCreationDate,
	"{DAV:}getcontentlength": getContentLength,
	"{DAV:}getetag":          getETag,
	"{DAV:}getlastmodified":  getLastModified,
	"{DAV:}getcontenttype":   getContentType,
	"{DAV:}resourcetype":     getResourceType,
	"{DAV:}supportedlock":    getSupportedLock,
}

// writableProperties are the registry names PROPPATCH may set (§4.6).
var writableProperties = map[string]bool{
	"{DAV:}getlastmodified": true,
}

func getCreationDate(_ *PropertyRegistry, fi FileInfo) (string, bool, error) {
	// os.FileInfo exposes no portable creation time; mtime is the closest
	// substitute available without platform-specific syscalls.
	return fi.ModTime.UTC().Format("2006-01-02T15:04:05Z"), true, nil
}

func getContentLength(_ *PropertyRegistry, fi FileInfo) (string, bool, error) {
	if fi.IsDir {
		return "", false, nil
	}
	return strconv.FormatInt(fi.Size, 10), true, nil
}

func getETag(_ *PropertyRegistry, fi FileInfo) (string, bool, error) {
	if fi.IsDir {
		return "", false, nil
	}
	return ETag(fi), true, nil
}

func getLastModified(_ *PropertyRegistry, fi FileInfo) (string, bool, error) {
	return fi.ModTime.UTC().Format(time.RFC1123), true, nil
}

func getContentType(_ *PropertyRegistry, fi FileInfo) (string, bool, error) {
	if fi.IsDir {
		return "", false, nil
	}
	ct := mime.TypeByExtension(path.Ext(fi.Path))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return ct, true, nil
}

func getResourceType(_ *PropertyRegistry, fi FileInfo) (string, bool, error) {
	if fi.IsDir {
		return "<collection/>", true, nil
	}
	return "", true, nil
}

func getSupportedLock(reg *PropertyRegistry, _ FileInfo) (string, bool, error) {
	if reg.Locks == nil {
		return "", false, nil
	}
	return "<lockentry><lockscope><exclusive/></lockscope><locktype><write/></locktype></lockentry>" +
		"<lockentry><lockscope><shared/></lockscope><locktype><write/></locktype></lockentry>", true, nil
}

// PropertyRegistry implements read/write access to the fixed set of
// DAV: live properties (§4.6). FS provides getlastmodified's write path;
// Locks being nil means locking is disabled, which hides supportedlock.
type PropertyRegistry struct {
	FS    Filesystem
	Locks LockManager
}

var allPropertyNames = []string{
	"{DAV:}creationdate",
	"{DAV:}getcontentlength",
	"{DAV:}getetag",
	"{DAV:}getlastmodified",
	"{DAV:}getcontenttype",
	"{DAV:}resourcetype",
	"{DAV:}supportedlock",
}

// Read implements PropertyRegistry.read (§4.6): requested is either a
// propname request (names, no values), an allprop sweep (every applicable
// live property), or an explicit name list.
func (r *PropertyRegistry) Read(_ context.Context, fi FileInfo, req PropfindRequest) map[int][]anyElem {
	byStatus := map[int][]anyElem{}

	if req.PropName {
		for _, name := range allPropertyNames {
			byStatus[http.StatusOK] = append(byStatus[http.StatusOK], anyElem{XMLName: s2x(name)})
		}
		return byStatus
	}

	if req.AllProp {
		names := append(append([]string{}, allPropertyNames...), req.Include...)
		for _, name := range names {
			getter, ok := propertyGetters[name]
			if !ok {
				continue // unknown Include name: allprop silently omits it
			}
			inner, present, err := getter(r, fi)
			if err != nil {
				byStatus[http.StatusInternalServerError] = append(byStatus[http.StatusInternalServerError], anyElem{XMLName: s2x(name)})
				continue
			}
			if !present {
				continue
			}
			byStatus[http.StatusOK] = append(byStatus[http.StatusOK], anyElem{XMLName: s2x(name), Inner: inner})
		}
		return byStatus
	}

	for _, name := range req.Names {
		getter, ok := propertyGetters[name]
		if !ok {
			byStatus[http.StatusNotFound] = append(byStatus[http.StatusNotFound], anyElem{XMLName: s2x(name)})
			continue
		}
		inner, present, err := getter(r, fi)
		switch {
		case err != nil:
			byStatus[http.StatusInternalServerError] = append(byStatus[http.StatusInternalServerError], anyElem{XMLName: s2x(name)})
		case !present:
			byStatus[http.StatusNotFound] = append(byStatus[http.StatusNotFound], anyElem{XMLName: s2x(name)})
		default:
			byStatus[http.StatusOK] = append(byStatus[http.StatusOK], anyElem{XMLName: s2x(name), Inner: inner})
		}
	}
	return byStatus
}

// proppatchResult is one instruction's outcome: a status plus, for
// protected-property rejections, the DAV precondition element name.
type proppatchResult struct {
	Status  int
	Precond string
}

// Apply implements PROPPATCH's all-or-nothing semantics (§4.7 Scenario 4):
// every instruction is validated first; only if all pass are any applied,
// in document order; otherwise every instruction that would have passed is
// reported 424 Failed Dependency instead.
func (r *PropertyRegistry) Apply(ctx context.Context, fi FileInfo, instructions []ProppatchInstruction) (map[string]proppatchResult, error) {
	type checked struct {
		ins ProppatchInstruction
		res proppatchResult
	}
	all := make([]checked, 0, len(instructions))
	anyFailed := false

	for _, ins := range instructions {
		res := validateProppatch(ins)
		if res.Status != http.StatusOK {
			anyFailed = true
		}
		all = append(all, checked{ins: ins, res: res})
	}

	results := make(map[string]proppatchResult, len(all))
	if anyFailed {
		for _, c := range all {
			if c.res.Status == http.StatusOK {
				results[c.ins.Name] = proppatchResult{Status: StatusFailedDependency}
			} else {
				results[c.ins.Name] = c.res
			}
		}
		return results, nil
	}

	for _, c := range all {
		if c.ins.Name == "{DAV:}getlastmodified" {
			t, _ := time.Parse(time.RFC1123, c.ins.Value)
			if err := r.FS.SetModTime(ctx, fi.Path, t); err != nil {
				return nil, AsStatus(err)
			}
		}
		results[c.ins.Name] = proppatchResult{Status: http.StatusOK}
	}
	return results, nil
}

func validateProppatch(ins ProppatchInstruction) proppatchResult {
	if !ins.IsSet {
		return proppatchResult{Status: http.StatusForbidden}
	}
	if _, known := propertyGetters[ins.Name]; !known {
		return proppatchResult{Status: http.StatusForbidden}
	}
	if !writableProperties[ins.Name] {
		return proppatchResult{Status: http.StatusForbidden, Precond: precondCannotModifyProp}
	}
	if strings.ContainsAny(ins.Value, "<>") {
		return proppatchResult{Status: http.StatusConflict}
	}
	if ins.Name == "{DAV:}getlastmodified" {
		if _, err := time.Parse(time.RFC1123, ins.Value); err != nil {
			return proppatchResult{Status: http.StatusConflict}
		}
	}
	return proppatchResult{Status: http.StatusOK}
}
