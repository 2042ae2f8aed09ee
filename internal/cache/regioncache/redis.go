package regioncache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/bchartier/cadastre.gouv/internal/cache/keys"
	"github.com/bchartier/cadastre.gouv/internal/cache/redisstore"
	"github.com/bchartier/cadastre.gouv/internal/core/model"
	"github.com/bchartier/cadastre.gouv/internal/core/observability"
)

const emptyRegion = "_empty"

// Redis shares lookups between processes. Each entry is listed in one
// index set per region it contains so it can be dropped by region code.
type Redis struct {
	cli       *redisstore.Client
	layer     string
	opTimeout time.Duration
	log       *slog.Logger
}

func NewRedis(cli *redisstore.Client, layer string, opTimeout time.Duration, log *slog.Logger) *Redis {
	if log == nil {
		log = slog.Default()
	}
	return &Redis{cli: cli, layer: layer, opTimeout: opTimeout, log: log}
}

func (r *Redis) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.opTimeout)
}

func (r *Redis) Get(ctx context.Context, key string) (model.RegionSet, bool) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	raw, ok, err := r.cli.Get(ctx, key)
	if err != nil {
		r.log.WarnContext(ctx, "region cache get failed", "key", key, "err", err)
	}
	if err != nil || !ok {
		observability.IncRegionCache("redis", false)
		return nil, false
	}
	var rs model.RegionSet
	if err := json.Unmarshal(raw, &rs); err != nil {
		r.log.WarnContext(ctx, "region cache entry undecodable", "key", key, "err", err)
		observability.IncRegionCache("redis", false)
		return nil, false
	}
	observability.IncRegionCache("redis", true)
	return rs, true
}

func (r *Redis) Put(ctx context.Context, key string, rs model.RegionSet, ttl time.Duration) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	if rs == nil {
		rs = model.RegionSet{}
	}
	payload, err := json.Marshal(rs)
	if err != nil {
		return
	}
	idx := make([]string, 0, len(rs))
	for _, code := range rs {
		idx = append(idx, keys.RegionIndexKey(r.layer, code))
	}
	if len(idx) == 0 {
		idx = append(idx, keys.RegionIndexKey(r.layer, emptyRegion))
	}
	if err := r.cli.SetIndexed(ctx, key, payload, ttl, idx...); err != nil {
		r.log.WarnContext(ctx, "region cache put failed", "key", key, "err", err)
	}
}

func (r *Redis) InvalidateRegions(ctx context.Context, regions ...string) (int, error) {
	total := 0
	for _, code := range append(append([]string(nil), regions...), emptyRegion) {
		idx := keys.RegionIndexKey(r.layer, code)
		members, err := r.cli.Members(ctx, idx)
		if err != nil {
			return total, err
		}
		n, err := r.cli.Del(ctx, append(members, idx)...)
		if err != nil {
			return total, err
		}
		// the index set itself is not an entry
		if n > 0 && len(members) > 0 {
			n--
		}
		total += int(n)
	}
	return total, nil
}
