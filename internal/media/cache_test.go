package media

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"zone.camp/internal/zone"
)

func openTestCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	c, err := OpenCache(filepath.Join(t.TempDir(), "media.db"), ttl)
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCache_RenewGet(t *testing.T) {
	c := openTestCache(t, time.Hour)
	ctx := context.Background()

	m := zone.Media{Title: "song", Duration: 200_000, Sources: []string{"proxy/x", "lib/x"}}
	if err := c.Renew(ctx, m.Source(), m); err != nil {
		t.Fatalf("renew: %v", err)
	}

	got, ok, err := c.Get(ctx, "lib/x")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Title != "song" || got.Duration != 200_000 || len(got.Sources) != 2 {
		t.Fatalf("got=%+v", got)
	}

	if _, ok, _ := c.Get(ctx, "lib/other"); ok {
		t.Fatalf("phantom hit")
	}
}

func TestCache_ExpiryAndPurge(t *testing.T) {
	c := openTestCache(t, time.Hour)
	ctx := context.Background()

	m := zone.Media{Title: "song", Duration: 1000, Sources: []string{"lib/x"}}
	if err := c.Renew(ctx, "lib/x", m); err != nil {
		t.Fatalf("renew: %v", err)
	}

	// Move the clock past the ttl.
	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	if _, ok, _ := c.Get(ctx, "lib/x"); ok {
		t.Fatalf("expired entry served")
	}
	n, err := c.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged=%d want 1", n)
	}
}

func TestCache_OversizedNeverStored(t *testing.T) {
	c := openTestCache(t, time.Hour)
	ctx := context.Background()

	long := zone.Media{Title: "film", Duration: MaxCacheableDuration.Milliseconds(), Sources: []string{"lib/film"}}
	if err := c.Renew(ctx, "lib/film", long); err != nil {
		t.Fatalf("renew: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "lib/film"); ok {
		t.Fatalf("oversized media cached")
	}
}

func TestCache_RenewUpserts(t *testing.T) {
	c := openTestCache(t, time.Hour)
	ctx := context.Background()

	first := zone.Media{Title: "old title", Duration: 1000, Sources: []string{"lib/x"}}
	_ = c.Renew(ctx, "lib/x", first)
	second := zone.Media{Title: "new title", Duration: 1000, Sources: []string{"lib/x"}}
	if err := c.Renew(ctx, "lib/x", second); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, ok, _ := c.Get(ctx, "lib/x")
	if !ok || got.Title != "new title" {
		t.Fatalf("got=%+v ok=%v", got, ok)
	}
}

// fixedResolver counts lookups so tests can prove the cache short-circuits.
type fixedResolver struct {
	media zone.Media
	calls int
}

func (r *fixedResolver) Resolve(_ context.Context, id string) (zone.Media, error) {
	r.calls++
	if id != r.media.Source() {
		return zone.Media{}, ErrNotFound
	}
	return r.media, nil
}

func TestCachingResolver_SecondLookupHitsCache(t *testing.T) {
	c := openTestCache(t, time.Hour)
	inner := &fixedResolver{media: zone.Media{Title: "song", Duration: 1000, Sources: []string{"lib/x"}}}
	r := &CachingResolver{Inner: inner, Cache: c}
	ctx := context.Background()

	if _, err := r.Resolve(ctx, "lib/x"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := r.Resolve(ctx, "lib/x"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("inner calls=%d want 1", inner.calls)
	}

	if _, err := r.Resolve(ctx, "lib/missing"); err != ErrNotFound {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}
