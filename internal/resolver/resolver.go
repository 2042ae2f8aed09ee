// Package resolver maps a WMS bbox to the communes it touches, going
// through the region lookup cache before the boundary index.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bchartier/cadastre.gouv/internal/boundary"
	"github.com/bchartier/cadastre.gouv/internal/cache"
	"github.com/bchartier/cadastre.gouv/internal/cache/keys"
	"github.com/bchartier/cadastre.gouv/internal/core/model"
)

// Hotness is the part of the hotness tracker the resolver needs.
type Hotness interface {
	Inc(region string)
	Hot(region string) bool
}

type Options struct {
	Layer  string
	TTL    time.Duration
	TTLHot time.Duration
	Cache  cache.RegionCache
	Hot    Hotness
	Logger *slog.Logger
}

type Resolver struct {
	idx     boundary.Index
	extents *boundary.ExtentCache
	cache   cache.RegionCache
	hot     Hotness
	layer   string
	ttl     time.Duration
	ttlHot  time.Duration
	log     *slog.Logger
}

func New(idx boundary.Index, opts Options) *Resolver {
	if opts.Cache == nil {
		opts.Cache = cache.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TTLHot < opts.TTL {
		opts.TTLHot = opts.TTL
	}
	return &Resolver{
		idx:     idx,
		extents: boundary.NewExtentCache(idx),
		cache:   opts.Cache,
		hot:     opts.Hot,
		layer:   opts.Layer,
		ttl:     opts.TTL,
		ttlHot:  opts.TTLHot,
		log:     opts.Logger,
	}
}

// Resolve returns the communes intersecting bbox, in index order.
func (r *Resolver) Resolve(ctx context.Context, bbox model.BBox) (model.RegionSet, error) {
	key := keys.LookupKey(r.layer, bbox)
	if rs, ok := r.cache.Get(ctx, key); ok {
		r.touch(rs)
		return rs, nil
	}

	rs, err := r.idx.Intersecting(ctx, bbox)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", bbox, err)
	}
	rs = rs.Dedup()

	ttl := r.ttl
	if r.touch(rs) {
		ttl = r.ttlHot
	}
	if ttl > 0 {
		r.cache.Put(ctx, key, rs, ttl)
	}
	r.log.DebugContext(ctx, "regions resolved", "bbox", bbox.String(), "regions", len(rs))
	return rs, nil
}

// touch bumps hotness for every region and reports whether any is hot.
func (r *Resolver) touch(rs model.RegionSet) bool {
	if r.hot == nil {
		return false
	}
	hot := false
	for _, code := range rs {
		r.hot.Inc(code)
		if r.hot.Hot(code) {
			hot = true
		}
	}
	return hot
}

// Extent returns the service extent, computed on first use.
func (r *Resolver) Extent(ctx context.Context) (model.Extent, error) {
	return r.extents.Get(ctx)
}

// Invalidate drops cached lookups touching regions.
func (r *Resolver) Invalidate(ctx context.Context, regions ...string) (int, error) {
	return r.cache.InvalidateRegions(ctx, regions...)
}

func (r *Resolver) NativeEPSG() int { return r.idx.NativeEPSG() }

func (r *Resolver) Ping(ctx context.Context) error { return r.idx.Ping(ctx) }
