package importer

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/kbstudio/internal/models"
)

// DefaultPalette is the set of display colors assigned to new taxonomy rows.
var DefaultPalette = []string{
	"#3B82F6", // blue
	"#10B981", // emerald
	"#F59E0B", // amber
	"#EF4444", // red
	"#8B5CF6", // violet
	"#EC4899", // pink
	"#06B6D4", // cyan
	"#84CC16", // lime
}

// Resolver finds or creates taxonomy entities by slug.
// Lookups are cached per resolver; safe for concurrent use.
type Resolver struct {
	store    TaxonomyStore
	palette  []string
	pick     func(n int) int
	logger   *slog.Logger
	recorder Recorder

	mu    sync.Mutex
	cache map[resolverKey]string
}

type resolverKey struct {
	kind models.TaxonomyKind
	slug string
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithPalette replaces the color palette and picker. pick receives the palette
// length and returns an index; nil keeps the random picker.
func WithPalette(palette []string, pick func(n int) int) ResolverOption {
	return func(r *Resolver) {
		if len(palette) > 0 {
			r.palette = palette
		}
		if pick != nil {
			r.pick = pick
		}
	}
}

// WithResolverLogger sets the logger.
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithResolverRecorder sets the metrics recorder.
func WithResolverRecorder(rec Recorder) ResolverOption {
	return func(r *Resolver) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// NewResolver creates a resolver backed by store.
func NewResolver(store TaxonomyStore, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:    store,
		palette:  DefaultPalette,
		pick:     rand.IntN,
		logger:   slog.Default(),
		recorder: nopRecorder{},
		cache:    make(map[resolverKey]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the ID of the entity of the given kind whose slug matches
// name, creating it with description and a palette color if absent.
// Existing entities are never updated.
func (r *Resolver) Resolve(ctx context.Context, kind models.TaxonomyKind, name string, description *string) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("resolve taxonomy: unknown kind %q", kind)
	}
	name = strings.TrimSpace(name)
	slug := models.Slugify(name)
	if slug == "" {
		return "", fmt.Errorf("resolve %s %q: %w", kind, name, ErrEmptyTaxonomyName)
	}

	key := resolverKey{kind: kind, slug: slug}
	r.mu.Lock()
	id, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return id, nil
	}

	start := time.Now()
	entity, created, err := r.store.UpsertTaxonomy(ctx, models.TaxonomyEntity{
		ID:          uuid.NewString(),
		Kind:        kind,
		Name:        name,
		Slug:        slug,
		Description: trimmedPtr(description),
		Color:       r.palette[r.pick(len(r.palette))],
	})
	r.recorder.RecordTaxonomy(string(kind), created, time.Since(start))
	if err != nil {
		return "", fmt.Errorf("resolve %s %q: %w", kind, slug, err)
	}
	if created {
		r.logger.Info("taxonomy entity created", "kind", kind, "slug", slug, "id", entity.ID)
	}

	r.mu.Lock()
	r.cache[key] = entity.ID
	r.mu.Unlock()
	return entity.ID, nil
}

func trimmedPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
