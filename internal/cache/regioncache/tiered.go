package regioncache

import (
	"context"
	"errors"
	"time"

	"github.com/bchartier/cadastre.gouv/internal/cache"
	"github.com/bchartier/cadastre.gouv/internal/core/model"
)

// Tiered reads the in-process cache first and falls back to the shared
// one, copying hits forward.
type Tiered struct {
	front    *Memory
	back     cache.RegionCache
	frontMax time.Duration
}

// NewTiered keeps front entries for at most frontTTL so that another
// process's invalidation reaches this one within that delay.
func NewTiered(front *Memory, back cache.RegionCache, frontTTL time.Duration) *Tiered {
	return &Tiered{front: front, back: back, frontMax: frontTTL}
}

func (t *Tiered) Get(ctx context.Context, key string) (model.RegionSet, bool) {
	if rs, ok := t.front.Get(ctx, key); ok {
		return rs, true
	}
	rs, ok := t.back.Get(ctx, key)
	if ok {
		t.front.Put(ctx, key, rs, t.frontMax)
	}
	return rs, ok
}

func (t *Tiered) Put(ctx context.Context, key string, rs model.RegionSet, ttl time.Duration) {
	frontTTL := ttl
	if t.frontMax > 0 && (frontTTL <= 0 || frontTTL > t.frontMax) {
		frontTTL = t.frontMax
	}
	t.front.Put(ctx, key, rs, frontTTL)
	t.back.Put(ctx, key, rs, ttl)
}

func (t *Tiered) InvalidateRegions(ctx context.Context, regions ...string) (int, error) {
	n1, err1 := t.front.InvalidateRegions(ctx, regions...)
	n2, err2 := t.back.InvalidateRegions(ctx, regions...)
	return n1 + n2, errors.Join(err1, err2)
}
