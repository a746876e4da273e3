package webdav

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"
)

// Server wires the engine's collaborators together and exposes one method
// per verb (§4.7). A nil Locks disables class-2 support entirely: LOCK and
// UNLOCK become 501, and write checks skip lock verification.
type Server struct {
	FS         Filesystem
	Resolver   *PathResolver
	Locks      LockManager
	Gate       *ConditionalGate
	Props      *PropertyRegistry
	Prefix     string
	MaxTimeout time.Duration
	Now        func() time.Time
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Server) href(rel string, isDir bool) string {
	h := path.Join(s.Prefix, rel)
	if h != "/" && isDir && !strings.HasSuffix(h, "/") {
		h += "/"
	}
	return h
}

// checkEtagHeaders implements the If-Match/If-None-Match half of GET/HEAD
// and PUT (§4.7): currentETag is "" when the resource doesn't exist.
func checkEtagHeaders(currentETag string, exists bool, ifMatch, ifNoneMatch string) error {
	if ifMatch == "*" && ifNoneMatch == "*" {
		return Status(http.StatusBadRequest, errBadIfHeader)
	}
	if ifMatch != "" {
		if !exists || !ETagMatches(currentETag, ifMatch) {
			return Status(http.StatusPreconditionFailed, errBadIfHeader)
		}
	}
	if ifNoneMatch != "" {
		if ifNoneMatch == "*" {
			if exists {
				return Status(http.StatusPreconditionFailed, errBadIfHeader)
			}
		} else if exists && ETagMatches(currentETag, ifNoneMatch) {
			return Status(http.StatusPreconditionFailed, errBadIfHeader)
		}
	}
	return nil
}

// confirmWrite runs the ConditionalGate (if an If: header is present) and
// the lock-aware write check together, returning the provided-tokens set
// so callers can route it to a second CheckWrite (COPY/MOVE destination).
func (s *Server) confirmWrite(ctx context.Context, r *http.Request, rel string, mode AccessMode) (map[lockKey]bool, error) {
	provided, err := s.Gate.Evaluate(ctx, r.Header.Get("If"), rel, r.Host)
	if err != nil {
		return nil, err
	}
	if err := s.Resolver.CheckWrite(ctx, rel, mode, provided); err != nil {
		return nil, err
	}
	return provided, nil
}

// OPTIONS (§4.7): headers only, advertises DAV: 1 or 1,2.
func (s *Server) handleOptions(_ context.Context, w http.ResponseWriter, r *http.Request, rel string) error {
	fi, statErr := s.FS.Stat(r.Context(), rel)
	exists := statErr == nil

	allow := []string{http.MethodOptions}
	if !exists {
		allow = append(allow, http.MethodPut, MethodMkcol)
		if s.Locks != nil {
			allow = append(allow, MethodLock)
		}
	} else {
		allow = append(allow, http.MethodDelete, MethodPropfind, MethodProppatch, MethodCopy, MethodMove)
		if !fi.IsDir {
			allow = append(allow, http.MethodGet, http.MethodHead, http.MethodPut)
		}
		if s.Locks != nil {
			allow = append(allow, MethodLock, MethodUnlock)
		}
	}
	w.Header().Set("Allow", strings.Join(allow, ", "))
	dav := davClass1Only
	if s.Locks != nil {
		dav = davClass1And2
	}
	w.Header().Set("DAV", dav)
	w.Header().Set("MS-Author-Via", "DAV")
	w.WriteHeader(http.StatusOK)
	return nil
}

// GET / HEAD (§4.7).
func (s *Server) handleGetHead(ctx context.Context, w http.ResponseWriter, r *http.Request, rel string) error {
	fi, err := s.Resolver.CheckRead(ctx, rel)
	if err != nil {
		return err
	}
	if fi.IsDir {
		return s.handlePropfindAsListing(ctx, w, r, rel, fi)
	}

	etag := ETag(fi)
	if err := checkEtagHeaders(etag, true, r.Header.Get("If-Match"), r.Header.Get("If-None-Match")); err != nil {
		return err
	}

	f, err := s.FS.Open(ctx, rel)
	if err != nil {
		return Status(http.StatusNotFound, errNotFound)
	}
	defer f.Close()

	w.Header().Set("ETag", etag)
	w.Header().Set("Last-Modified", fi.ModTime.UTC().Format(http.TimeFormat))
	ct, _, _ := getContentType(s.Props, fi)
	if ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if rs, ok := f.(io.ReadSeeker); ok {
		http.ServeContent(w, r, rel, fi.ModTime, rs)
		return nil
	}
	// Filesystem implementations whose Open doesn't return something
	// seekable (e.g. a streaming backend) fall back to a plain copy; no
	// Range support in that case.
	w.WriteHeader(http.StatusOK)
	_, err = io.Copy(w, f)
	return err
}

// handlePropfindAsListing lets GET/HEAD on a directory degrade to a
// depth-1 PROPFIND, mirroring the directory-GET-as-PROPFIND convention of
// the fiber transport layer (see ServeFiber in handler.go) for plain
// net/http clients that GET a collection.
func (s *Server) handlePropfindAsListing(ctx context.Context, w http.ResponseWriter, r *http.Request, rel string, fi FileInfo) error {
	return s.propfind(ctx, w, rel, fi, DepthOne, PropfindRequest{AllProp: true})
}

// PUT (§4.7).
func (s *Server) handlePut(ctx context.Context, w http.ResponseWriter, r *http.Request, rel string) error {
	existing, statErr := s.FS.Stat(ctx, rel)
	exists := statErr == nil
	if exists && existing.IsDir {
		return Status(http.StatusMethodNotAllowed, errConflict)
	}

	var currentETag string
	if exists {
		currentETag = ETag(existing)
	}
	if err := checkEtagHeaders(currentETag, exists, r.Header.Get("If-Match"), r.Header.Get("If-None-Match")); err != nil {
		return err
	}

	if _, err := s.confirmWrite(ctx, r, rel, ModeWrite); err != nil {
		return err
	}

	f, err := s.FS.Create(ctx, rel)
	if err != nil {
		return AsStatus(err)
	}
	_, copyErr := io.Copy(f, r.Body)
	closeErr := f.Close()
	if copyErr != nil {
		return Status(http.StatusInternalServerError, copyErr)
	}
	if closeErr != nil {
		return Status(http.StatusInternalServerError, closeErr)
	}

	fi, err := s.FS.Stat(ctx, rel)
	if err != nil {
		return AsStatus(err)
	}
	w.Header().Set("ETag", ETag(fi))
	if exists {
		w.WriteHeader(http.StatusNoContent)
	} else {
		w.WriteHeader(http.StatusCreated)
	}
	return nil
}

// MKCOL (§4.7).
func (s *Server) handleMkcol(ctx context.Context, w http.ResponseWriter, r *http.Request, rel string) error {
	if _, err := s.FS.Stat(ctx, rel); err == nil {
		return Status(http.StatusMethodNotAllowed, errConflict)
	}
	if _, err := s.confirmWrite(ctx, r, rel, ModeWrite); err != nil {
		return err
	}
	if err := s.FS.Mkdir(ctx, rel); err != nil {
		return AsStatus(err)
	}
	w.WriteHeader(http.StatusCreated)
	return nil
}

// DELETE (§4.7): deep-write on the target, write on the parent, recursive
// removal, lock purge over the removed subtree.
func (s *Server) handleDelete(ctx context.Context, w http.ResponseWriter, r *http.Request, rel string) error {
	if _, err := s.Resolver.CheckRead(ctx, rel); err != nil {
		return err
	}
	if _, err := s.confirmWrite(ctx, r, rel, ModeWriteDeep); err != nil {
		return err
	}
	if rel != "/" {
		if _, err := s.confirmWrite(ctx, r, parentOf(rel), ModeWrite); err != nil {
			return err
		}
	}
	if err := s.FS.RemoveAll(ctx, rel); err != nil {
		return AsStatus(err)
	}
	if s.Locks != nil {
		if err := s.Locks.PurgeSubtree(ctx, rel); err != nil {
			return AsStatus(err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// PROPFIND (§4.7): walks the target tree to the requested depth, computing
// the property map for every path the client can read; forbidden
// descendants are silently skipped, other errors abort the walk.
func (s *Server) handlePropfind(ctx context.Context, w http.ResponseWriter, r *http.Request, rel string) error {
	fi, err := s.Resolver.CheckRead(ctx, rel)
	if err != nil {
		return err
	}
	depth, err := ParseDepth(r.Header.Get("Depth"), DepthInfinity)
	if err != nil {
		return err
	}
	req, err := ParsePropfindRequest(r.Body)
	if err != nil {
		return Status(http.StatusBadRequest, err)
	}
	return s.propfind(ctx, w, rel, fi, depth, req)
}

// propfind renders the multistatus document for a (possibly single-node)
// tree walk. depth is one of DepthZero/DepthOne/DepthInfinity.
func (s *Server) propfind(ctx context.Context, w http.ResponseWriter, rel string, fi FileInfo, depth int, req PropfindRequest) error {
	var ms MultistatusWriter
	s.addPropfindNode(&ms, fi, req)

	if fi.IsDir && depth != DepthZero {
		walkDepth := -1
		if depth == DepthOne {
			walkDepth = 1
		}
		err := s.FS.Walk(ctx, rel, walkDepth, func(info FileInfo) error {
			if info.Path == rel {
				return nil
			}
			if _, err := s.Resolver.CheckRead(ctx, info.Path); err != nil {
				if AsStatus(err).Status == http.StatusForbidden {
					if info.IsDir {
						return ErrSkipDir
					}
					return nil
				}
				return err
			}
			s.addPropfindNode(&ms, info, req)
			return nil
		})
		if err != nil {
			return AsStatus(err)
		}
	}

	body, err := ms.Bytes()
	if err != nil {
		return Status(http.StatusInternalServerError, err)
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(StatusMulti)
	_, werr := w.Write(body)
	return werr
}

func (s *Server) addPropfindNode(ms *MultistatusWriter, fi FileInfo, req PropfindRequest) {
	byStatus := s.Props.Read(context.Background(), fi, req)
	ms.AddPropstats(s.href(fi.Path, fi.IsDir), byStatus)
}

// PROPPATCH (§4.7): all-or-nothing property update, single-response
// multistatus naming every instruction's outcome.
func (s *Server) handleProppatch(ctx context.Context, w http.ResponseWriter, r *http.Request, rel string) error {
	fi, err := s.Resolver.CheckRead(ctx, rel)
	if err != nil {
		return err
	}
	if _, err := s.confirmWrite(ctx, r, rel, ModeWrite); err != nil {
		return err
	}
	instructions, err := ParseProppatchRequest(r.Body)
	if err != nil {
		return Status(http.StatusBadRequest, err)
	}
	results, err := s.Props.Apply(ctx, fi, instructions)
	if err != nil {
		return AsStatus(err)
	}

	byStatus := map[int][]anyElem{}
	for name, res := range results {
		elem := anyElem{XMLName: s2x(name)}
		if res.Precond != "" {
			elem.Inner = "<" + res.Precond + " xmlns=\"DAV:\"/>"
		}
		byStatus[res.Status] = append(byStatus[res.Status], elem)
	}
	var ms MultistatusWriter
	ms.AddPropstats(s.href(rel, fi.IsDir), byStatus)
	body, err := ms.Bytes()
	if err != nil {
		return Status(http.StatusInternalServerError, err)
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(StatusMulti)
	_, werr := w.Write(body)
	return werr
}

// LOCK (§4.7): an empty body refreshes the first token from the If: header
// against rel; a <lockinfo> body acquires a new lock, creating a lock-null
// placeholder file when rel doesn't yet exist.
func (s *Server) handleLock(ctx context.Context, w http.ResponseWriter, r *http.Request, rel string) error {
	if s.Locks == nil {
		return Status(http.StatusNotImplemented, errNotFound)
	}

	info, err := ParseLockInfoRequest(r.Body)
	if err != nil {
		return err
	}

	if info.Refresh {
		token, terr := firstIfToken(r.Header.Get("If"))
		if terr != nil {
			return terr
		}
		timeout, terr := ParseTimeout(r.Header.Get("Timeout"), s.MaxTimeout)
		if terr != nil {
			return terr
		}
		lk, rerr := s.Locks.Refresh(ctx, rel, token, timeout)
		if rerr != nil {
			return rerr
		}
		return s.writeLockDiscovery(w, rel, lk, http.StatusOK)
	}

	depth := DepthInfinity
	if hdr := r.Header.Get("Depth"); hdr != "" {
		depth, err = ParseDepth(hdr, DepthInfinity)
		if err != nil {
			return err
		}
		if depth != DepthZero && depth != DepthInfinity {
			return Status(http.StatusBadRequest, errBadDepth)
		}
	}
	timeout, err := ParseTimeout(r.Header.Get("Timeout"), s.MaxTimeout)
	if err != nil {
		return err
	}

	mode := ModeWriteNoLock
	if !info.Shared {
		mode = ModeWrite
	}
	if _, err := s.confirmWrite(ctx, r, rel, mode); err != nil {
		return err
	}

	_, statErr := s.FS.Stat(ctx, rel)
	exists := statErr == nil
	status := http.StatusOK
	if !exists {
		f, cerr := s.FS.Create(ctx, rel)
		if cerr != nil {
			return AsStatus(cerr)
		}
		if cerr := f.Close(); cerr != nil {
			return Status(http.StatusInternalServerError, cerr)
		}
		status = http.StatusCreated
	}

	lk, err := s.Locks.Create(ctx, rel, info.Shared, info.Owner, depth, timeout)
	if err != nil {
		return err
	}
	w.Header().Set("Lock-Token", "<"+lk.URN+">")
	return s.writeLockDiscovery(w, rel, lk, status)
}

// firstIfToken extracts the first Coded-URL state-token from an If: header,
// for LOCK's refresh mode.
func firstIfToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", Status(http.StatusBadRequest, errBadIfHeader)
	}
	parsed, err := parseIfHeaderValue(header)
	if err != nil {
		return "", Status(http.StatusBadRequest, errBadIfHeader)
	}
	for _, list := range parsed.Lists {
		for _, cond := range list.Conditions {
			if cond.Token != "" {
				return cond.Token, nil
			}
		}
	}
	return "", Status(http.StatusBadRequest, errBadIfHeader)
}

func (s *Server) writeLockDiscovery(w http.ResponseWriter, rel string, lk Lock, status int) error {
	depth := "0"
	if lk.InfiniteDepth {
		depth = "infinity"
	}
	scope := "<exclusive/>"
	if lk.Shared {
		scope = "<shared/>"
	}
	inner := "<activelock>" +
		"<lockscope>" + scope + "</lockscope>" +
		"<locktype><write/></locktype>" +
		"<depth>" + depth + "</depth>" +
		"<owner>" + lk.Owner + "</owner>" +
		"<timeout>Second-" + strconv.FormatInt(int64(time.Until(lk.ValidUntil).Seconds()), 10) + "</timeout>" +
		"<locktoken><href>" + lk.URN + "</href></locktoken>" +
		"<lockroot><href>" + s.href(lk.Path, false) + "</href></lockroot>" +
		"</activelock>"

	// lockdiscovery is a single prop, not a full multistatus document.
	body := xml.Header + `<D:prop xmlns:D="DAV:"><D:lockdiscovery>` + inner + `</D:lockdiscovery></D:prop>`
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(status)
	_, err := io.WriteString(w, body)
	return err
}

// UNLOCK (§4.7).
func (s *Server) handleUnlock(ctx context.Context, w http.ResponseWriter, r *http.Request, rel string) error {
	if s.Locks == nil {
		return Status(http.StatusNotImplemented, errNotFound)
	}
	token, err := ParseLockToken(r.Header.Get("Lock-Token"))
	if err != nil {
		return err
	}
	if err := s.Locks.Release(ctx, rel, token); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// COPY / MOVE (§4.7).
func (s *Server) handleCopyMove(ctx context.Context, w http.ResponseWriter, r *http.Request, rel string, isMove bool) error {
	destRel, err := ParseDestination(r.Header.Get("Destination"), r.Host, s.Prefix)
	if err != nil {
		return err
	}
	destRel, err = s.Resolver.Clean(destRel)
	if err != nil {
		return err
	}
	if destRel == rel {
		return Status(http.StatusForbidden, errForbidden)
	}

	srcFi, err := s.Resolver.CheckRead(ctx, rel)
	if err != nil {
		return err
	}

	depth := DepthInfinity
	if hdr := r.Header.Get("Depth"); hdr != "" {
		depth, err = ParseDepth(hdr, DepthInfinity)
		if err != nil {
			return err
		}
		if isMove && depth != DepthInfinity {
			return Status(http.StatusBadRequest, errBadDepth)
		}
		if !isMove && depth != DepthZero && depth != DepthInfinity {
			return Status(http.StatusBadRequest, errBadDepth)
		}
	}

	// COPY only needs to lock the destination; MOVE also needs deep-write
	// on the source, since it vacates it.
	if isMove {
		if _, err := s.confirmWrite(ctx, r, rel, ModeWriteDeep); err != nil {
			return err
		}
	}
	if _, err := s.confirmWrite(ctx, r, destRel, ModeWrite); err != nil {
		return err
	}

	overwrite, err := ParseOverwrite(r.Header.Get("Overwrite"))
	if err != nil {
		return err
	}
	destExisted := false
	if _, statErr := s.FS.Stat(ctx, destRel); statErr == nil {
		destExisted = true
		if !overwrite {
			return Status(http.StatusPreconditionFailed, errBadOverwrite)
		}
		if err := s.FS.RemoveAll(ctx, destRel); err != nil {
			return AsStatus(err)
		}
	}

	if isMove {
		if err := s.FS.Rename(ctx, rel, destRel); err != nil {
			return AsStatus(err)
		}
		if s.Locks != nil {
			if err := s.Locks.PurgeSubtree(ctx, rel); err != nil {
				return AsStatus(err)
			}
		}
	} else {
		if err := s.copyTree(ctx, rel, destRel, srcFi, depth); err != nil {
			return AsStatus(err)
		}
	}

	if destExisted {
		w.WriteHeader(http.StatusNoContent)
	} else {
		w.WriteHeader(http.StatusCreated)
	}
	return nil
}

// copyTree copies src onto dst, preserving directory mtimes on a best-effort
// basis (§4.7 COPY: "preserves metadata (mtime/mode)"); CopyFile is
// responsible for file-level metadata.
func (s *Server) copyTree(ctx context.Context, src, dst string, srcFi FileInfo, depth int) error {
	if !srcFi.IsDir {
		return s.FS.CopyFile(ctx, src, dst)
	}
	if err := s.FS.Mkdir(ctx, dst); err != nil {
		return err
	}
	s.FS.SetModTime(ctx, dst, srcFi.ModTime)
	if depth == DepthZero {
		return nil
	}
	// Creating children bumps a directory's mtime, so directory mtimes are
	// applied once the whole tree has been copied.
	dirTimes := map[string]time.Time{dst: srcFi.ModTime}
	err := s.FS.Walk(ctx, src, -1, func(info FileInfo) error {
		if info.Path == src {
			return nil
		}
		rel, ok := strings.CutPrefix(info.Path, src+"/")
		if !ok {
			return nil
		}
		childDst := path.Join(dst, rel)
		if info.IsDir {
			if err := s.FS.Mkdir(ctx, childDst); err != nil {
				return err
			}
			dirTimes[childDst] = info.ModTime
			return nil
		}
		return s.FS.CopyFile(ctx, info.Path, childDst)
	})
	if err != nil {
		return err
	}
	for p, t := range dirTimes {
		s.FS.SetModTime(ctx, p, t)
	}
	return nil
}

