package webdav

// Method names beyond the verbs net/http already defines.
const (
	MethodMkcol     = "MKCOL"
	MethodCopy      = "COPY"
	MethodMove      = "MOVE"
	MethodLock      = "LOCK"
	MethodUnlock    = "UNLOCK"
	MethodPropfind  = "PROPFIND"
	MethodProppatch = "PROPPATCH"
)

// Methods lists the WebDAV-specific verbs, for registering with a router
// or HTTP server that otherwise only knows the standard HTTP method set.
var Methods = []string{
	MethodMkcol,
	MethodCopy, MethodMove,
	MethodLock, MethodUnlock,
	MethodPropfind, MethodProppatch,
}

// DAV compliance classes this server advertises in the "DAV" header.
const (
	davClass1Only = "1"
	davClass1And2 = "1, 2"
)

const davNamespace = "DAV:"
