// Package app wires the proxy's components from a configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/bchartier/cadastre.gouv/internal/boundary"
	"github.com/bchartier/cadastre.gouv/internal/cache"
	"github.com/bchartier/cadastre.gouv/internal/cache/redisstore"
	"github.com/bchartier/cadastre.gouv/internal/cache/regioncache"
	"github.com/bchartier/cadastre.gouv/internal/capabilities"
	"github.com/bchartier/cadastre.gouv/internal/core/config"
	"github.com/bchartier/cadastre.gouv/internal/core/executor"
	"github.com/bchartier/cadastre.gouv/internal/core/health"
	"github.com/bchartier/cadastre.gouv/internal/core/httpclient"
	"github.com/bchartier/cadastre.gouv/internal/core/ogc"
	"github.com/bchartier/cadastre.gouv/internal/core/router"
	"github.com/bchartier/cadastre.gouv/internal/core/server"
	"github.com/bchartier/cadastre.gouv/internal/dispatch"
	"github.com/bchartier/cadastre.gouv/internal/events"
	"github.com/bchartier/cadastre.gouv/internal/hotness/expdecay"
	"github.com/bchartier/cadastre.gouv/internal/hotness/metricswrap"
	"github.com/bchartier/cadastre.gouv/internal/invalidation/kafkaconsumer"
	"github.com/bchartier/cadastre.gouv/internal/metrics"
	"github.com/bchartier/cadastre.gouv/internal/resolver"
)

type App struct {
	cfg      config.Config
	log      *slog.Logger
	index    boundary.Index
	resolver *resolver.Resolver
	tracker  *expdecay.Tracker
	consumer *kafkaconsumer.Consumer
	handler  http.Handler
	closers  []func() error
}

// OpenIndex opens the configured boundary index. Failures wrap
// config.ErrInvalid: the service cannot run without its index.
func OpenIndex(ctx context.Context, cfg config.Config, log *slog.Logger) (boundary.Index, error) {
	opts := boundary.Options{
		Datasource: cfg.Boundary.Datasource,
		Layer:      cfg.Boundary.Layer,
		IDField:    cfg.Boundary.IDField,
		GeomField:  cfg.Boundary.GeomField,
		NativeEPSG: cfg.Boundary.NativeEPSG,
		Logger:     log,
	}
	open := func(ctx context.Context) (boundary.Index, error) {
		return boundary.Open(ctx, cfg.Boundary.Driver, opts)
	}
	if cfg.Boundary.LazyOpen {
		return boundary.NewLazy(cfg.Boundary.NativeEPSG, open), nil
	}
	idx, err := open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	return idx, nil
}

// New builds every component. zl receives the structured audit lines of
// background workers.
func New(ctx context.Context, cfg config.Config, log *slog.Logger, zl *zerolog.Logger, build metrics.BuildInfo) (*App, error) {
	a := &App{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	var prov *metrics.Provider
	if cfg.Metrics.Enabled {
		p, err := metrics.Init(metrics.Config{Enabled: true, Path: cfg.Metrics.Path, Build: build})
		if err != nil {
			return nil, err
		}
		prov = p
	}

	idx, err := OpenIndex(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.index = idx
	a.closers = append(a.closers, idx.Close)

	checks := []health.Check{{Name: "boundary", Pinger: idx}}
	rc, redisCli, err := buildRegionCache(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if redisCli != nil {
		a.closers = append(a.closers, redisCli.Close)
		checks = append(checks, health.Check{Name: "redis", Pinger: redisCli})
	}

	a.tracker = expdecay.New(cfg.Hotness.HalfLife)
	gauge := metricswrap.NewGauge()
	if prov != nil {
		prov.Register(gauge)
	}
	hot := metricswrap.New(a.tracker, cfg.Hotness.Threshold, gauge, log)

	a.resolver = resolver.New(idx, resolver.Options{
		Layer:  cfg.Boundary.Layer,
		TTL:    cfg.RegionCache.TTL,
		TTLHot: cfg.RegionCache.TTLHot,
		Cache:  rc,
		Hot:    hot,
		Logger: log,
	})

	ep, err := ogc.NewEndpoint(cfg.Upstream.URL, cfg.Upstream.APIKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	client := httpclient.NewOutbound(cfg.Upstream.Timeout, cfg.Upstream.MaxConcurrency)
	exec := executor.New(log, client, cfg.Upstream.Timeout)

	var pub dispatch.Publisher = events.Nop{}
	if cfg.Events.Enabled {
		p, err := events.NewPublisher(cfg.BrokerList(cfg.Events.Brokers), cfg.Events.Topic, 1024, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		pub = p
	}
	disp := dispatch.New(ep, exec, dispatch.Options{
		MaxConcurrency: cfg.Upstream.MaxConcurrency,
		Logger:         log,
		Events:         pub,
	})

	caps, err := capabilities.New(cfg.ServiceTitle)
	if err != nil {
		return nil, err
	}

	if cfg.Invalidation.Enabled {
		a.consumer = kafkaconsumer.New(kafkaconsumer.FromConfig(cfg), log, zl, rc, idx, hot)
	}

	routes := server.Routes{
		WMS:   router.New(log, a.resolver, disp, caps),
		Ready: checks,
	}
	if prov != nil {
		routes.Metrics = prov.Handler()
		routes.MetricsPath = prov.Path()
	}
	a.handler = server.NewRouter(log, routes)

	ok = true
	return a, nil
}

func buildRegionCache(ctx context.Context, cfg config.Config, log *slog.Logger) (cache.RegionCache, *redisstore.Client, error) {
	rcfg := cfg.RegionCache
	newRedis := func() (*redisstore.Client, *regioncache.Redis, error) {
		cli, err := redisstore.New(ctx, rcfg.RedisAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("region cache: %w", err)
		}
		return cli, regioncache.NewRedis(cli, cfg.Boundary.Layer, rcfg.OpTimeout, log), nil
	}
	switch rcfg.Driver {
	case "none":
		return cache.Nop{}, nil, nil
	case "memory":
		m, err := regioncache.NewMemory(rcfg.Size)
		if err != nil {
			return nil, nil, fmt.Errorf("region cache: %w", err)
		}
		return m, nil, nil
	case "redis":
		cli, r, err := newRedis()
		if err != nil {
			return nil, nil, err
		}
		return r, cli, nil
	case "tiered":
		m, err := regioncache.NewMemory(rcfg.Size)
		if err != nil {
			return nil, nil, fmt.Errorf("region cache: %w", err)
		}
		cli, r, err := newRedis()
		if err != nil {
			return nil, nil, err
		}
		return regioncache.NewTiered(m, r, min(rcfg.TTL, 30*time.Second)), cli, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown region cache driver %q", config.ErrInvalid, rcfg.Driver)
}

func (a *App) Handler() http.Handler { return a.handler }

func (a *App) Resolver() *resolver.Resolver { return a.resolver }

// Run serves until ctx ends. Background workers stop with it.
func (a *App) Run(ctx context.Context) error {
	ln, err := server.Listen(a.cfg.Addr, a.cfg.ReusePort)
	if err != nil {
		return err
	}

	if a.consumer != nil {
		go func() {
			if err := a.consumer.Start(ctx); err != nil {
				a.log.Error("invalidation consumer stopped", "err", err)
			}
		}()
	}
	go a.pruneHotness(ctx)

	return server.Run(ctx, ln, a.log, a.handler)
}

func (a *App) pruneHotness(ctx context.Context) {
	every := max(4*a.tracker.HalfLife, time.Minute)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := a.tracker.Prune(0.01); n > 0 {
				a.log.Debug("hotness pruned", "regions", n)
			}
		}
	}
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
