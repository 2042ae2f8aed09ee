package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/spf13/cobra"

	"github.com/bchartier/cadastre.gouv/internal/cache/redisstore"
	"github.com/bchartier/cadastre.gouv/internal/core/config"
	"github.com/bchartier/cadastre.gouv/internal/core/wms"
	"github.com/bchartier/cadastre.gouv/internal/invalidation"
)

// newSyncProducer is swapped in tests.
var newSyncProducer = func(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Version = sarama.V3_6_0_0
	return sarama.NewSyncProducer(brokers, cfg)
}

func newInvalidateCmd(g *globals) *cobra.Command {
	var (
		op       string
		regions  string
		bbox     string
		crs      string
		revision uint64
	)
	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Publish a boundary change event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.load("cli"); err != nil {
				return err
			}
			ev := invalidation.Event{
				Version:  invalidation.SchemaVersion,
				Op:       op,
				Layer:    g.cfg.Boundary.Layer,
				Revision: revision,
				TS:       time.Now().UTC(),
				Source:   "cadastre-proxy",
				Regions:  splitCSV(regions),
			}
			if bbox != "" {
				epsg := 0
				if crs != "" {
					epsg = wms.ParseEPSG(crs)
				}
				b, err := wms.ParseBBox(bbox, epsg)
				if err != nil {
					return err
				}
				ev.BBox = &invalidation.BBox{XMin: b.XMin, YMin: b.YMin, XMax: b.XMax, YMax: b.YMax, EPSG: epsg}
			}
			if err := ev.Validate(); err != nil {
				return fmt.Errorf("invalid event: %w", err)
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				return err
			}

			prod, err := newSyncProducer(g.cfg.BrokerList(g.cfg.Invalidation.Brokers))
			if err != nil {
				return fmt.Errorf("producer create: %w", err)
			}
			defer func() { _ = prod.Close() }()

			part, off, err := prod.SendMessage(&sarama.ProducerMessage{
				Topic: g.cfg.Invalidation.Topic,
				Key:   sarama.StringEncoder(ev.Layer),
				Value: sarama.ByteEncoder(payload),
			})
			if err != nil {
				return fmt.Errorf("send message: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published to %s/%d@%d\n", g.cfg.Invalidation.Topic, part, off)
			return nil
		},
	}
	cmd.Flags().StringVar(&op, "op", "update", "insert|update|delete")
	cmd.Flags().StringVar(&regions, "regions", "", "comma-separated commune codes")
	cmd.Flags().StringVar(&bbox, "bbox", "", "xmin,ymin,xmax,ymax of the changed area")
	cmd.Flags().StringVar(&crs, "crs", "", "CRS of --bbox (default: the layer's native CRS)")
	cmd.Flags().Uint64Var(&revision, "revision", 0, "change revision, 0 disables duplicate suppression")
	return cmd
}

func newCheckCmd(g *globals) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check connectivity to the boundary index, region cache and upstream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.load("cli"); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			out := cmd.OutOrStdout()
			var failed []string
			report := func(name string, err error) {
				if err != nil {
					failed = append(failed, name)
					fmt.Fprintf(out, "%-10s FAIL %v\n", name, err)
					return
				}
				fmt.Fprintf(out, "%-10s ok\n", name)
			}

			report("boundary", checkBoundary(ctx, g.cfg, g))
			if d := g.cfg.RegionCache.Driver; d == "redis" || d == "tiered" {
				report("redis", checkRedis(ctx, g.cfg.RegionCache.RedisAddr))
			}
			report("upstream", checkUpstream(ctx, g.cfg.Upstream.URL))

			if len(failed) > 0 {
				return fmt.Errorf("unreachable: %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall deadline")
	return cmd
}

func checkBoundary(ctx context.Context, cfg config.Config, g *globals) error {
	idx, err := openIndex(ctx, cfg, g.log)
	if err != nil {
		return err
	}
	defer idx.Close()
	return idx.Ping(ctx)
}

func checkRedis(ctx context.Context, addr string) error {
	cli, err := redisstore.New(ctx, addr, redisstore.WithDialTimeout(2*time.Second))
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()
	return cli.Ping(ctx)
}

func checkUpstream(ctx context.Context, base string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base, nil)
	if err != nil {
		return fmt.Errorf("bad upstream URL: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))
	if resp.StatusCode >= http.StatusInternalServerError {
		return errors.New(resp.Status)
	}
	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
