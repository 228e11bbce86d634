package media

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"zone.camp/internal/zone"
)

// Library is a provider backed by a local yaml manifest. It doubles as the
// queue-by-path source and as a stand-in catalog for self-hosted deployments
// and tests.
type Library struct {
	entries []Entry
	byPath  map[string]Entry
}

type Entry struct {
	Path       string `yaml:"path"`
	Title      string `yaml:"title"`
	DurationMS int64  `yaml:"duration_ms"`
	Banger     bool   `yaml:"banger,omitempty"`
}

type manifest struct {
	Media []Entry `yaml:"media"`
}

func LoadLibrary(path string) (*Library, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("library manifest: %w", err)
	}
	return NewLibrary(m.Media), nil
}

func NewLibrary(entries []Entry) *Library {
	l := &Library{
		entries: entries,
		byPath:  map[string]Entry{},
	}
	for _, e := range entries {
		l.byPath[e.Path] = e
	}
	return l
}

func (l *Library) media(e Entry) zone.Media {
	return zone.Media{
		Title:    e.Title,
		Duration: e.DurationMS,
		Sources:  []string{"library/" + e.Path},
	}
}

// ByPath serves the queue-by-path message.
func (l *Library) ByPath(path string) (zone.Media, bool) {
	e, ok := l.byPath[path]
	if !ok {
		return zone.Media{}, false
	}
	return l.media(e), true
}

func (l *Library) Search(_ context.Context, query string) ([]Result, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	var results []Result
	for _, e := range l.entries {
		if query == "" || strings.Contains(strings.ToLower(e.Title), query) {
			results = append(results, Result{ID: e.Path, Title: e.Title, Duration: e.DurationMS})
		}
	}
	return results, nil
}

func (l *Library) Resolve(_ context.Context, id string) (zone.Media, error) {
	m, ok := l.ByPath(id)
	if !ok {
		return zone.Media{}, ErrNotFound
	}
	return m, nil
}

// Banger picks a random curated entry.
func (l *Library) Banger(_ context.Context) (zone.Media, error) {
	var bangers []Entry
	for _, e := range l.entries {
		if e.Banger {
			bangers = append(bangers, e)
		}
	}
	if len(bangers) == 0 {
		return zone.Media{}, ErrNotFound
	}
	return l.media(bangers[rand.Intn(len(bangers))]), nil
}
