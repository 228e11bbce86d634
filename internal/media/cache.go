package media

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"

	"zone.camp/internal/zone"
)

// Cache stores resolved media metadata in sqlite so repeat queueing of the
// same item skips the external lookup. Rows carry an expiry; the engine
// renews entries around queue/play events and purges on an interval. Items
// longer than MaxCacheableDuration are never cached.
type Cache struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

const MaxCacheableDuration = 30 * time.Minute

func OpenCache(path string, ttl time.Duration) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS media_cache (
  id          TEXT PRIMARY KEY,
  title       TEXT NOT NULL,
  duration_ms INTEGER NOT NULL,
  sources     TEXT NOT NULL,
  expires_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_media_cache_expires ON media_cache(expires_at);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Cache{db: db, ttl: ttl, now: time.Now}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

// Get returns a cached, unexpired entry.
func (c *Cache) Get(ctx context.Context, id string) (zone.Media, bool, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT title, duration_ms, sources FROM media_cache WHERE id=? AND expires_at>?`,
		id, c.now().Unix())

	var m zone.Media
	var sources string
	if err := row.Scan(&m.Title, &m.Duration, &sources); err != nil {
		if err == sql.ErrNoRows {
			return zone.Media{}, false, nil
		}
		return zone.Media{}, false, err
	}
	if err := json.Unmarshal([]byte(sources), &m.Sources); err != nil {
		return zone.Media{}, false, err
	}
	return m, true, nil
}

// Renew inserts or refreshes an entry, pushing its expiry out by the ttl.
// Oversized media is silently skipped.
func (c *Cache) Renew(ctx context.Context, id string, m zone.Media) error {
	if time.Duration(m.Duration)*time.Millisecond >= MaxCacheableDuration {
		return nil
	}
	sources, err := json.Marshal(m.Sources)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO media_cache (id, title, duration_ms, sources, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   title=excluded.title, duration_ms=excluded.duration_ms,
		   sources=excluded.sources, expires_at=excluded.expires_at`,
		id, m.Title, m.Duration, string(sources), c.now().Add(c.ttl).Unix())
	return err
}

// PurgeExpired drops expired rows and reports how many went.
func (c *Cache) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM media_cache WHERE expires_at<=?`, c.now().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CachingResolver consults the cache before the wrapped resolver and renews
// entries on successful lookups.
type CachingResolver struct {
	Inner Resolver
	Cache *Cache
}

func (r *CachingResolver) Resolve(ctx context.Context, id string) (zone.Media, error) {
	if m, ok, err := r.Cache.Get(ctx, id); err == nil && ok {
		return m, nil
	}
	m, err := r.Inner.Resolve(ctx, id)
	if err != nil {
		return zone.Media{}, err
	}
	_ = r.Cache.Renew(ctx, id, m)
	return m, nil
}
