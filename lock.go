package webdav

import (
	"context"
	"strings"
	"time"
)

// Lock is a single live or expired lock record (§3). Path and URN together
// are the natural key; Path is request-relative and "/"-rooted.
type Lock struct {
	URN           string
	Path          string
	Shared        bool
	Owner         string
	InfiniteDepth bool
	ValidUntil    time.Time
}

// lockKey identifies a lock by the (path, urn) pair a conditional gate
// resolves from the If: header, so mutation handlers can tell "this lock
// blocks me" from "I hold this lock" in O(1).
type lockKey struct {
	Path string
	URN  string
}

// LockManager is the transactional lock store described in §4.4. All
// mutating methods are atomic with respect to each other, even across
// processes sharing the same backing store.
type LockManager interface {
	// GetLocks returns every live lock whose scope covers rel: locks
	// rooted exactly at rel, infinite-depth locks rooted at an ancestor
	// of rel, and, when recursive, locks rooted strictly under rel.
	GetLocks(ctx context.Context, rel string, recursive bool) ([]Lock, error)

	// Validate reports whether a live lock named urn exists and its
	// scope covers rel.
	Validate(ctx context.Context, rel, urn string) (bool, error)

	// Create acquires a new lock rooted at rel. depth is 0 or -1
	// (infinite). timeout <= 0 means "use the configured maximum".
	// Returns a *StatusError wrapping errLocked (423) on conflict.
	Create(ctx context.Context, rel string, shared bool, owner string, depth int, timeout time.Duration) (Lock, error)

	// Refresh extends the live lock named urn whose scope covers rel (the
	// same test Validate applies). Returns a *StatusError (412,
	// lock-token-matches-request-uri) if there is no such lock.
	Refresh(ctx context.Context, rel, urn string, timeout time.Duration) (Lock, error)

	// Release deletes the live lock named urn whose scope covers rel.
	// Returns a *StatusError (409, lock-token-matches-request-uri) if there
	// is no such lock.
	Release(ctx context.Context, rel, urn string) error

	// PurgeSubtree deletes every lock rooted at rel or strictly beneath
	// it, implicitly releasing them (§4.7 DELETE/MOVE: "Purges all locks
	// whose scope lies within the removed subtree").
	PurgeSubtree(ctx context.Context, rel string) error

	// PurgeExpired deletes rows whose valid_until has passed. The SQLite
	// backend calls it once when the store is opened; cheap no-op when idle.
	PurgeExpired(ctx context.Context) error

	// Close releases the underlying store handle.
	Close() error
}

// isAncestor reports whether anc is a strict ancestor path of rel, both
// "/"-rooted request-relative paths.
func isAncestor(anc, rel string) bool {
	if anc == rel {
		return false
	}
	if anc == "/" {
		return true
	}
	return strings.HasPrefix(rel, anc+"/")
}

// isStrictDescendant reports whether candidate is strictly under rel.
func isStrictDescendant(rel, candidate string) bool {
	if rel == candidate {
		return false
	}
	if rel == "/" {
		return true
	}
	return strings.HasPrefix(candidate, rel+"/")
}

// scopeCovers reports whether a lock rooted at lockPath (with the given
// infinite-depth flag) covers rel, per the Scope definition in the
// glossary.
func scopeCovers(lockPath string, infiniteDepth bool, rel string) bool {
	if lockPath == rel {
		return true
	}
	return infiniteDepth && isAncestor(lockPath, rel)
}

// scopesOverlap reports whether a prospective lock rooted at rel (with
// newInfinite) and a candidate lock rooted at candPath (with candInfinite)
// would cover any common path, i.e. whether they conflict per §3's
// exclusivity invariant.
func scopesOverlap(candPath string, candInfinite bool, rel string, newInfinite bool) bool {
	if candPath == rel {
		return true
	}
	if candInfinite && isAncestor(candPath, rel) {
		return true
	}
	if newInfinite && isAncestor(rel, candPath) {
		return true
	}
	return false
}
