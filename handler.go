package webdav

import (
	"encoding/xml"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
)

// Handler dispatches HTTP requests to Server's per-verb methods, strips the
// URL prefix, and turns a returned *StatusError into the wire response
// (status line, optional DAV precondition body). Logger, if set, is called
// once per request with the returned error's status and the error; when the
// handler returns no error it is called with 200, whatever success code the
// handler wrote.
type Handler struct {
	Server *Server
	Logger func(status int, method, path string, err error)
}

func (h *Handler) stripPrefix(p string) (string, error) {
	prefix := h.Server.Prefix
	if prefix == "" || prefix == "/" {
		return p, nil
	}
	r, ok := strings.CutPrefix(p, prefix)
	if !ok {
		return "", Status(http.StatusNotFound, errNotFound)
	}
	if r == "" {
		r = "/"
	}
	return r, nil
}

// ServeFiber lets net/http clients GET a collection and receive a depth-1
// PROPFIND instead of a 405/404, matching what Windows/macOS WebDAV clients
// expect when a plain browser-style GET lands on a directory.
func (h *Handler) ServeFiber(c fiber.Ctx) error {
	if (c.Method() == fiber.MethodGet || c.Method() == fiber.MethodHead) &&
		strings.HasPrefix(c.Path(), h.Server.Prefix) {
		rel, err := h.stripPrefix(c.Path())
		if err == nil {
			if fi, statErr := h.Server.FS.Stat(c.RequestCtx(), rel); statErr == nil && fi.IsDir {
				c.Method(MethodPropfind)
				if c.Get("Depth") == "" {
					c.Request().Header.Set("Depth", "1")
				}
			}
		}
	}
	return adaptor.HTTPHandler(h)(c)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rel, err := h.stripPrefix(r.URL.Path)
	if err == nil {
		rel, err = h.Server.Resolver.Clean(rel)
	}
	if err == nil {
		err = h.dispatch(w, r, rel)
	}

	se := AsStatus(err)
	if se != nil {
		writeStatusError(w, se)
	}
	if h.Logger != nil {
		status := http.StatusOK
		if se != nil {
			status = se.Status
		}
		h.Logger(status, r.Method, r.URL.Path, err)
	}
}

// bodyForbiddenMethods lists the verbs spec.md §4.7 requires reject any
// request body outright (415), rather than silently ignoring or parsing it.
var bodyForbiddenMethods = map[string]bool{
	MethodMkcol:       true,
	http.MethodDelete: true,
	MethodCopy:        true,
	MethodMove:        true,
	MethodUnlock:      true,
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, rel string) error {
	s := h.Server
	if bodyForbiddenMethods[r.Method] && r.ContentLength != 0 {
		return Status(http.StatusUnsupportedMediaType, errUnsupportedBody)
	}
	switch r.Method {
	case http.MethodOptions:
		return s.handleOptions(r.Context(), w, r, rel)
	case http.MethodGet, http.MethodHead:
		return s.handleGetHead(r.Context(), w, r, rel)
	case http.MethodPut:
		return s.handlePut(r.Context(), w, r, rel)
	case MethodMkcol:
		return s.handleMkcol(r.Context(), w, r, rel)
	case http.MethodDelete:
		return s.handleDelete(r.Context(), w, r, rel)
	case MethodCopy:
		return s.handleCopyMove(r.Context(), w, r, rel, false)
	case MethodMove:
		return s.handleCopyMove(r.Context(), w, r, rel, true)
	case MethodPropfind:
		return s.handlePropfind(r.Context(), w, r, rel)
	case MethodProppatch:
		return s.handleProppatch(r.Context(), w, r, rel)
	case MethodLock:
		return s.handleLock(r.Context(), w, r, rel)
	case MethodUnlock:
		return s.handleUnlock(r.Context(), w, r, rel)
	default:
		return Status(http.StatusNotImplemented, errNotFound)
	}
}

// writeStatusError renders a *StatusError onto the wire: a DAV precondition
// body (§7, e.g. <D:lock-token-matches-request-uri/>) when Precond is set,
// otherwise a plain status-text body.
func writeStatusError(w http.ResponseWriter, se *StatusError) {
	if se.Precond == "" {
		w.WriteHeader(se.Status)
		_, _ = w.Write([]byte(StatusText(se.Status)))
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(se.Status)
	body := xml.Header + `<D:error xmlns:D="DAV:"><D:` + se.Precond + `/></D:error>`
	_, _ = w.Write([]byte(body))
}
