// Package statuscache implements the sqlite-backed cache of a parsed
// collection graph (§2.1/§4.7's "Status cache" paragraph): collection-status
// and restore both need to turn a remote filename list into BackupSets and
// chains, and re-deriving them from the filename list on each invocation
// against an unchanged remote store is wasted work. The cache key is a digest of the
// sorted filename list, so any change to the remote store invalidates it
// automatically.
package statuscache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure Go sqlite driver, registers as "sqlite"

	"github.com/vaultik/vaultik/internal/collections"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Snapshot is the parsed collection graph for one archive directory's
// remote file list, the unit stored and retrieved by the cache.
type Snapshot struct {
	BackupSets   []*collections.BackupSet
	SigSets      []*collections.SigSet
	Ignored      []string
	BackupChains []*collections.BackupChain
	SigChains    []*collections.SignatureChain
	Orphaned     []*collections.BackupSet
}

// Cache wraps a sqlite database holding cached Snapshots, one per
// (archive directory, file-list digest) pair.
type Cache struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if absent) the cache database at dbPath and applies
// pending migrations. Use ":memory:" for tests.
func Open(dbPath string, logger *slog.Logger) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("statuscache: open %s: %w", dbPath, err)
	}

	if err := runMigrations(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	return &Cache{db: db, logger: logger}, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("statuscache: migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("statuscache: migration provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("statuscache: running migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Digest computes the cache key for a remote filename list: the hex SHA256
// of the names sorted and newline-joined, so list order never affects the
// key.
func Digest(names []string) string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	h := sha256.New()
	for _, n := range sorted {
		h.Write([]byte(n))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get looks up the cached Snapshot for archiveDir under the digest of
// names. ok is false on a cache miss; a miss is not an error.
func (c *Cache) Get(ctx context.Context, archiveDir string, names []string) (snap *Snapshot, ok bool, err error) {
	digest := Digest(names)

	var payload string
	row := c.db.QueryRowContext(ctx,
		`SELECT payload FROM collection_status WHERE archive_dir = ? AND digest = ?`,
		archiveDir, digest)
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("statuscache: lookup %s: %w", archiveDir, err)
	}

	var s Snapshot
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return nil, false, fmt.Errorf("statuscache: decoding cached snapshot for %s: %w", archiveDir, err)
	}
	c.logger.Debug("status cache hit", "archive_dir", archiveDir, "digest", digest)
	return &s, true, nil
}

// Put stores snap for archiveDir under the digest of names, replacing any
// prior entry for the same (archiveDir, digest) pair.
func (c *Cache) Put(ctx context.Context, archiveDir string, names []string, snap *Snapshot) error {
	digest := Digest(names)

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("statuscache: encoding snapshot for %s: %w", archiveDir, err)
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO collection_status (archive_dir, digest, payload, cached_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(archive_dir, digest) DO UPDATE SET
		     payload = excluded.payload, cached_at = excluded.cached_at`,
		archiveDir, digest, string(payload), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("statuscache: storing snapshot for %s: %w", archiveDir, err)
	}
	c.logger.Debug("status cache stored", "archive_dir", archiveDir, "digest", digest)
	return nil
}

// Invalidate removes every cached entry for archiveDir, regardless of
// digest — used when a backend write (a new backup session completing)
// means the remote file list is known to have changed.
func (c *Cache) Invalidate(ctx context.Context, archiveDir string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM collection_status WHERE archive_dir = ?`, archiveDir)
	if err != nil {
		return fmt.Errorf("statuscache: invalidating %s: %w", archiveDir, err)
	}
	return nil
}
