package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/bchartier/cadastre.gouv/internal/core/model"
	obs "github.com/bchartier/cadastre.gouv/internal/core/observability"
	"github.com/bchartier/cadastre.gouv/internal/invalidation"
	mylog "github.com/bchartier/cadastre.gouv/internal/logger"
)

// RegionIndex resolves bbox events to commune codes.
type RegionIndex interface {
	Intersecting(ctx context.Context, bbox model.BBox) (model.RegionSet, error)
	NativeEPSG() int
}

type RegionInvalidator interface {
	InvalidateRegions(ctx context.Context, regions ...string) (int, error)
}

type HotnessResetter interface {
	Reset(regions ...string)
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	zlog   *zerolog.Logger
	cache  RegionInvalidator
	index  RegionIndex
	hot    HotnessResetter
	ver    *versionDedupe
}

// New builds a consumer. zl receives the structured invalidation audit
// lines and may be nil.
func New(cfg Config, logger *slog.Logger, zl *zerolog.Logger, c RegionInvalidator, idx RegionIndex, hot HotnessResetter) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	base := mylog.WithComponent(context.Background(), "kafka_consumer")
	return &Consumer{
		cfg:    cfg,
		logger: logger,
		zlog:   mylog.FromContext(base, zl),
		cache:  c,
		index:  idx,
		hot:    hot,
		ver:    newVersionDedupe(cfg.DedupeSize),
	}
}

// Start consumes invalidation events until ctx ends.
func (c *Consumer) Start(ctx context.Context) error {
	if c.cache == nil || c.index == nil {
		return errors.New("kafkaconsumer: missing dependencies (cache/index)")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}

	c.logger.Info("kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				if ctx.Err() != nil {
					continue
				}
				c.zlog.Error().Err(err).
					Strs("brokers", c.cfg.Brokers).
					Str("topic", c.cfg.Topic).
					Msg("kafka consumer error")
				select {
				case <-ctx.Done():
				case <-time.After(2 * time.Second):
				}
			}
		}
	}
}

// ProcessOne applies a single invalidation message. Malformed events are
// logged and acknowledged; only cache failures are returned so the
// message is redelivered.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()
	zl := mylog.FromContext(ctx, c.zlog)

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncInvalidation("decode", 0)
		zl.Error().Err(err).
			Str("kind", "decode").
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("kafka error")
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.IncInvalidation("invalid", 0)
		zl.Warn().Err(err).Int64("offset", msg.Offset).Msg("invalid invalidation event")
		return nil
	}

	regions, err := c.regionsForEvent(ctx, ev)
	if err != nil {
		obs.IncInvalidation("resolve", 0)
		return fmt.Errorf("derive regions: %w", err)
	}
	regions = c.fresh(ev, regions)
	if len(regions) == 0 {
		obs.IncInvalidation("skip", 0)
		c.logger.Debug("no regions to invalidate (skipping)", "layer", ev.Layer, "op", ev.Op)
		return nil
	}

	n, err := c.cache.InvalidateRegions(ctx, regions...)
	if err != nil {
		obs.IncInvalidation("cache", 0)
		zl.Error().Err(err).
			Str("kind", "cache").
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Strs("regions", regions).
			Msg("kafka error")
		return fmt.Errorf("invalidate regions: %w", err)
	}

	if ev.Revision > 0 {
		for _, r := range regions {
			c.ver.applied(ev.Layer+"|"+r, ev.Revision)
		}
	}
	if c.hot != nil {
		c.hot.Reset(regions...)
	}

	obs.IncInvalidation("ok", n)
	zl.Info().
		Str("event", "invalidation").
		Str("op", ev.Op).Str("layer", ev.Layer).
		Strs("regions", regions).Int("keys", n).
		Dur("took", time.Since(start)).
		Msg("invalidated lookups")
	return nil
}

func (c *Consumer) regionsForEvent(ctx context.Context, ev invalidation.Event) (model.RegionSet, error) {
	if len(ev.Regions) > 0 {
		return model.RegionSet(ev.Regions).Dedup(), nil
	}
	b := *ev.BBox
	epsg := b.EPSG
	if epsg == 0 {
		epsg = c.index.NativeEPSG()
	}
	rs, err := c.index.Intersecting(ctx, model.BBox{XMin: b.XMin, YMin: b.YMin, XMax: b.XMax, YMax: b.YMax, EPSG: epsg})
	if err != nil {
		return nil, fmt.Errorf("intersecting: %w", err)
	}
	return rs, nil
}

// fresh drops regions whose revision was already applied.
func (c *Consumer) fresh(ev invalidation.Event, regions model.RegionSet) []string {
	if ev.Revision == 0 {
		return regions
	}
	out := make([]string, 0, len(regions))
	for _, r := range regions {
		if c.ver.newer(ev.Layer+"|"+r, ev.Revision) {
			out = append(out, r)
		}
	}
	return out
}
