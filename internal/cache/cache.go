// Package cache holds the region lookup cache: bbox lookups already
// resolved against the boundary index, keyed by CRS and truncated bbox.
package cache

import (
	"context"
	"time"

	"github.com/bchartier/cadastre.gouv/internal/core/model"
)

// RegionCache stores resolved region sets. Implementations must be safe
// for concurrent use. Backend errors are absorbed as misses.
type RegionCache interface {
	Get(ctx context.Context, key string) (model.RegionSet, bool)
	Put(ctx context.Context, key string, rs model.RegionSet, ttl time.Duration)
	// InvalidateRegions drops every entry whose region set contains one of
	// regions, plus every cached empty lookup. It returns the number of
	// entries removed.
	InvalidateRegions(ctx context.Context, regions ...string) (int, error)
}

// Nop caches nothing.
type Nop struct{}

func (Nop) Get(context.Context, string) (model.RegionSet, bool) { return nil, false }
func (Nop) Put(context.Context, string, model.RegionSet, time.Duration) {}
func (Nop) InvalidateRegions(context.Context, ...string) (int, error) { return 0, nil }
