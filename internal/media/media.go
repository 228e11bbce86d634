// Package media defines the narrow contract the engine consumes the video
// catalog through, plus the bundled library-backed provider and the sqlite
// metadata cache. The engine never blocks on these: resolution runs off the
// engine loop and results are re-submitted as tasks.
package media

import (
	"context"
	"errors"

	"zone.camp/internal/zone"
)

// Result is one search hit.
type Result struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Duration int64  `json:"duration"` // milliseconds
}

var ErrNotFound = errors.New("media: not found")

// Searcher queries the catalog by free text.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// Resolver turns a catalog id into playable media.
type Resolver interface {
	Resolve(ctx context.Context, id string) (zone.Media, error)
}

// BangerSource serves curated items exempt from per-origin quotas.
type BangerSource interface {
	Banger(ctx context.Context) (zone.Media, error)
}

// Provider is the full external-catalog surface.
type Provider interface {
	Searcher
	Resolver
	BangerSource
}
