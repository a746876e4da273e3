package webdav

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteLockManager is the reference LockManager backend (§4.4): a single
// locks table in a file-based SQL engine, opened with immediate-transaction
// semantics so conflict detection and insertion are atomic even across
// processes. MaxTimeout caps whatever the client requests in the Timeout
// header; BusyTimeout bounds how long a writer waits on contention before
// the driver surfaces SQLITE_BUSY.
type SQLiteLockManager struct {
	db          *sql.DB
	MaxTimeout  time.Duration
	BusyTimeout time.Duration
}

const lockSchema = `
CREATE TABLE IF NOT EXISTS locks (
	urn            TEXT PRIMARY KEY,
	path           TEXT NOT NULL,
	shared         BOOLEAN NOT NULL,
	owner          TEXT NOT NULL,
	infinite_depth BOOLEAN NOT NULL,
	valid_until    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS locks_path_idx ON locks(path);
CREATE INDEX IF NOT EXISTS locks_valid_until_idx ON locks(valid_until);
`

// OpenSQLiteLockManager opens (creating if absent) the lock store at path
// and purges anything already expired. _txlock=immediate makes every
// transaction a BEGIN IMMEDIATE, so two processes racing to create
// conflicting locks serialize through SQLite rather than through
// application-level coordination.
func OpenSQLiteLockManager(ctx context.Context, path string, maxTimeout, busyTimeout time.Duration) (*SQLiteLockManager, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(%d)", path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("webdav: open lock store: %w", err)
	}
	db.SetMaxOpenConns(1) // a single file-backed connection serializes with the driver's own mutex
	if _, err := db.ExecContext(ctx, lockSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("webdav: init lock schema: %w", err)
	}
	m := &SQLiteLockManager{db: db, MaxTimeout: maxTimeout, BusyTimeout: busyTimeout}
	if err := m.PurgeExpired(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

func (m *SQLiteLockManager) Close() error { return m.db.Close() }

// PurgeExpired reads for existence first so an idle store never takes a
// write lock (§4.4).
func (m *SQLiteLockManager) PurgeExpired(ctx context.Context) error {
	now := time.Now().UTC()
	var exists bool
	row := m.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM locks WHERE valid_until < ?)`, now)
	if err := row.Scan(&exists); err != nil {
		return storeErr(err)
	}
	if !exists {
		return nil
	}
	_, err := m.db.ExecContext(ctx, `DELETE FROM locks WHERE valid_until < ?`, now)
	return storeErr(err)
}

func (m *SQLiteLockManager) GetLocks(ctx context.Context, rel string, recursive bool) ([]Lock, error) {
	now := time.Now().UTC()
	rows, err := m.db.QueryContext(ctx, `SELECT urn, path, shared, owner, infinite_depth, valid_until FROM locks WHERE valid_until > ?`, now)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []Lock
	for rows.Next() {
		var lk Lock
		if err := rows.Scan(&lk.URN, &lk.Path, &lk.Shared, &lk.Owner, &lk.InfiniteDepth, &lk.ValidUntil); err != nil {
			return nil, storeErr(err)
		}
		if lk.Path == rel || (lk.InfiniteDepth && isAncestor(lk.Path, rel)) || (recursive && isStrictDescendant(rel, lk.Path)) {
			out = append(out, lk)
		}
	}
	return out, storeErr(rows.Err())
}

func (m *SQLiteLockManager) Validate(ctx context.Context, rel, urn string) (bool, error) {
	now := time.Now().UTC()
	var lockPath string
	var infiniteDepth bool
	row := m.db.QueryRowContext(ctx, `SELECT path, infinite_depth FROM locks WHERE urn = ? AND valid_until > ?`, urn, now)
	switch err := row.Scan(&lockPath, &infiniteDepth); err {
	case nil:
		return scopeCovers(lockPath, infiniteDepth, rel), nil
	case sql.ErrNoRows:
		return false, nil
	default:
		return false, storeErr(err)
	}
}

func (m *SQLiteLockManager) Create(ctx context.Context, rel string, shared bool, owner string, depth int, timeout time.Duration) (Lock, error) {
	infiniteDepth := depth < 0
	now := time.Now().UTC()
	effective := m.MaxTimeout
	if timeout > 0 && timeout < m.MaxTimeout {
		effective = timeout
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return Lock{}, storeErr(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM locks WHERE valid_until <= ?`, now); err != nil {
		return Lock{}, storeErr(err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT path, shared, infinite_depth FROM locks WHERE valid_until > ?`, now)
	if err != nil {
		return Lock{}, storeErr(err)
	}
	for rows.Next() {
		var candPath string
		var candShared, candInfinite bool
		if scanErr := rows.Scan(&candPath, &candShared, &candInfinite); scanErr != nil {
			rows.Close()
			return Lock{}, storeErr(scanErr)
		}
		if scopesOverlap(candPath, candInfinite, rel, infiniteDepth) {
			if !candShared || !shared {
				rows.Close()
				return Lock{}, Precondition(StatusLocked, "", errLocked)
			}
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return Lock{}, storeErr(err)
	}
	rows.Close()

	lk := Lock{
		URN:           "urn:uuid:" + uuid.NewString(),
		Path:          rel,
		Shared:        shared,
		Owner:         owner,
		InfiniteDepth: infiniteDepth,
		ValidUntil:    now.Add(effective),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO locks (urn, path, shared, owner, infinite_depth, valid_until) VALUES (?, ?, ?, ?, ?, ?)`,
		lk.URN, lk.Path, lk.Shared, lk.Owner, lk.InfiniteDepth, lk.ValidUntil); err != nil {
		return Lock{}, storeErr(err)
	}
	if err := tx.Commit(); err != nil {
		return Lock{}, storeErr(err)
	}
	return lk, nil
}

func (m *SQLiteLockManager) Refresh(ctx context.Context, rel, urn string, timeout time.Duration) (Lock, error) {
	now := time.Now().UTC()
	effective := m.MaxTimeout
	if timeout > 0 && timeout < m.MaxTimeout {
		effective = timeout
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return Lock{}, storeErr(err)
	}
	defer tx.Rollback()

	var lk Lock
	row := tx.QueryRowContext(ctx, `SELECT urn, path, shared, owner, infinite_depth, valid_until FROM locks WHERE urn = ? AND valid_until > ?`, urn, now)
	switch scanErr := row.Scan(&lk.URN, &lk.Path, &lk.Shared, &lk.Owner, &lk.InfiniteDepth, &lk.ValidUntil); scanErr {
	case nil:
		// found, continue below
	case sql.ErrNoRows:
		return Lock{}, Precondition(http.StatusPreconditionFailed, precondLockTokenMatchesURI, errNoSuchLock)
	default:
		return Lock{}, storeErr(scanErr)
	}
	if !scopeCovers(lk.Path, lk.InfiniteDepth, rel) {
		return Lock{}, Precondition(http.StatusPreconditionFailed, precondLockTokenMatchesURI, errNoSuchLock)
	}

	lk.ValidUntil = now.Add(effective)
	if _, err := tx.ExecContext(ctx, `UPDATE locks SET valid_until = ? WHERE urn = ?`, lk.ValidUntil, lk.URN); err != nil {
		return Lock{}, storeErr(err)
	}
	if err := tx.Commit(); err != nil {
		return Lock{}, storeErr(err)
	}
	return lk, nil
}

func (m *SQLiteLockManager) Release(ctx context.Context, rel, urn string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var lockPath string
	var infiniteDepth bool
	row := tx.QueryRowContext(ctx, `SELECT path, infinite_depth FROM locks WHERE urn = ? AND valid_until > ?`, urn, now)
	switch scanErr := row.Scan(&lockPath, &infiniteDepth); scanErr {
	case nil:
		// found, continue below
	case sql.ErrNoRows:
		return Precondition(http.StatusConflict, precondLockTokenMatchesURI, errNoSuchLock)
	default:
		return storeErr(scanErr)
	}
	if !scopeCovers(lockPath, infiniteDepth, rel) {
		return Precondition(http.StatusConflict, precondLockTokenMatchesURI, errNoSuchLock)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM locks WHERE urn = ?`, urn); err != nil {
		return storeErr(err)
	}
	return storeErr(tx.Commit())
}

// PurgeSubtree deletes every lock, live or expired, rooted at rel or
// strictly beneath it. Filtering happens in Go against the whole table,
// consistent with
// GetLocks, to avoid SQL LIKE-pattern surprises on paths containing literal
// "%" or "_".
func (m *SQLiteLockManager) PurgeSubtree(ctx context.Context, rel string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT urn, path FROM locks`)
	if err != nil {
		return storeErr(err)
	}
	var doomed []string
	for rows.Next() {
		var urn, p string
		if scanErr := rows.Scan(&urn, &p); scanErr != nil {
			rows.Close()
			return storeErr(scanErr)
		}
		if p == rel || isStrictDescendant(rel, p) {
			doomed = append(doomed, urn)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return storeErr(err)
	}
	rows.Close()

	for _, urn := range doomed {
		if _, err := tx.ExecContext(ctx, `DELETE FROM locks WHERE urn = ?`, urn); err != nil {
			return storeErr(err)
		}
	}
	return storeErr(tx.Commit())
}

// storeErr maps a busy SQLite store to 503 per the Timeouts/Concurrency
// sections; anything already a *StatusError (e.g. errLocked from Create)
// passes through unchanged.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*StatusError); ok {
		return err
	}
	if strings.Contains(strings.ToUpper(err.Error()), "SQLITE_BUSY") {
		return Status(http.StatusServiceUnavailable, errStoreBusy)
	}
	return Status(http.StatusInternalServerError, err)
}
