package index

import (
	"path/filepath"

	_ "embed"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/jmoiron/sqlx"
	"github.com/lsmcp/lsmcp/helpers"
	_ "modernc.org/sqlite"
)

//go:embed init.sql
var initScript string

// Cache is the persistent, content-addressed symbol store. A record is a
// hit iff its stored hash equals the file's current on-disk hash; stale
// hashes for a path are replaced on write. A ristretto cache fronts the
// database for hot entries.
type Cache struct {
	db  *sqlx.DB
	mem *ristretto.Cache[string, []byte]
}

// OpenCache opens (creating if needed) the cache for a project root at
// <root>/.lsmcp/cache/symbols.db.
func OpenCache(root string) (*Cache, error) {
	dirPath, err := helpers.GetOrInitializeCacheDir(root)
	if err != nil {
		return nil, err
	}
	return OpenCacheAt(filepath.Join(dirPath, "symbols.db"))
}

// OpenCacheAt opens a cache database at an explicit path. Use ":memory:"
// for an ephemeral cache.
func OpenCacheAt(path string) (*Cache, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(initScript); err != nil {
		db.Close()
		return nil, err
	}

	mem, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 10_000,
		MaxCost:     32 << 20,
		BufferItems: 64,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Cache{db: db, mem: mem}, nil
}

func cacheKey(relPath, hash string) string {
	return relPath + "\x00" + hash
}

// Get returns the stored symbol data for (relPath, hash), if present.
func (c *Cache) Get(relPath, hash string) ([]byte, bool) {
	if data, ok := c.mem.Get(cacheKey(relPath, hash)); ok {
		return data, true
	}

	var data []byte
	err := c.db.QueryRow(
		"SELECT data FROM symbols WHERE path = ? AND hash = ?",
		relPath, hash,
	).Scan(&data)
	if err != nil {
		return nil, false
	}

	c.mem.Set(cacheKey(relPath, hash), data, int64(len(data)))
	return data, true
}

// Put stores symbol data for (relPath, hash), dropping records for any
// other hash of the same path.
func (c *Cache) Put(relPath, hash string, data []byte) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}

	rows, err := tx.Query("SELECT hash FROM symbols WHERE path = ? AND hash != ?", relPath, hash)
	if err != nil {
		tx.Rollback()
		return err
	}
	var stale []string
	for rows.Next() {
		var old string
		if rows.Scan(&old) == nil {
			stale = append(stale, old)
		}
	}
	rows.Close()

	if _, err := tx.Exec("DELETE FROM symbols WHERE path = ? AND hash != ?", relPath, hash); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO symbols (path, hash, data) VALUES (?, ?, ?)",
		relPath, hash, data,
	); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	for _, old := range stale {
		c.mem.Del(cacheKey(relPath, old))
	}
	c.mem.Set(cacheKey(relPath, hash), data, int64(len(data)))
	return nil
}

// Invalidate deletes every record for the path.
func (c *Cache) Invalidate(relPath string) error {
	rows, err := c.db.Query("SELECT hash FROM symbols WHERE path = ?", relPath)
	if err == nil {
		for rows.Next() {
			var hash string
			if rows.Scan(&hash) == nil {
				c.mem.Del(cacheKey(relPath, hash))
			}
		}
		rows.Close()
	}

	_, err = c.db.Exec("DELETE FROM symbols WHERE path = ?", relPath)
	return err
}

// Len returns the number of persisted records.
func (c *Cache) Len() (int, error) {
	var n int
	err := c.db.QueryRow("SELECT COUNT(*) FROM symbols").Scan(&n)
	return n, err
}

func (c *Cache) Close() error {
	c.mem.Close()
	return c.db.Close()
}
