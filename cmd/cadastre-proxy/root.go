package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bchartier/cadastre.gouv/internal/app"
	"github.com/bchartier/cadastre.gouv/internal/core/config"
	"github.com/bchartier/cadastre.gouv/internal/core/wms"
	"github.com/bchartier/cadastre.gouv/internal/logger"
	"github.com/bchartier/cadastre.gouv/internal/metrics"
	"github.com/bchartier/cadastre.gouv/internal/resolver"
)

// openIndex is swapped in tests.
var openIndex = app.OpenIndex

type globals struct {
	configPath string
	cfg        config.Config
	zl         zerolog.Logger
	log        *slog.Logger
}

func (g *globals) load(component string) error {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return err
	}
	g.cfg = cfg
	g.zl = logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "cadastre-proxy",
		Component: component,
	}, os.Stderr)
	g.log = logger.NewSlog(&g.zl)
	return nil
}

func newRootCmd(out io.Writer) *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "cadastre-proxy",
		Short:         "WMS proxy aggregating the per-commune cadastre services",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "YAML configuration file (default $CADASTRE_CONFIG)")

	root.AddCommand(newServeCmd(g))
	root.AddCommand(newResolveCmd(g))
	root.AddCommand(newExtentCmd(g))
	root.AddCommand(newInvalidateCmd(g))
	root.AddCommand(newCheckCmd(g))
	return root
}

func newServeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.load("server"); err != nil {
				return err
			}
			ctx := cmd.Context()
			g.log.Info("starting cadastre proxy",
				"addr", g.cfg.Addr,
				"version", Version,
				"upstream", g.cfg.Upstream.URL,
				"region_cache", g.cfg.RegionCache.Driver)

			a, err := app.New(ctx, g.cfg, g.log, &g.zl, metrics.BuildInfo{
				Version:   Version,
				Revision:  Revision,
				BuildDate: BuildDate,
			})
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					g.log.Warn("shutdown", "err", err)
				}
			}()
			return a.Run(ctx)
		},
	}
}

func newResolveCmd(g *globals) *cobra.Command {
	var bbox, crs string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the communes intersecting a bounding box",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.load("cli"); err != nil {
				return err
			}
			b, err := wms.ParseBBox(bbox, wms.ParseEPSG(crs))
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			idx, err := openIndex(ctx, g.cfg, g.log)
			if err != nil {
				return err
			}
			defer idx.Close()

			res := resolver.New(idx, resolver.Options{Layer: g.cfg.Boundary.Layer, Logger: g.log})
			regions, err := res.Resolve(ctx, b)
			if err != nil {
				return err
			}
			for _, r := range regions {
				fmt.Fprintln(cmd.OutOrStdout(), r)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&bbox, "bbox", "", "xmin,ymin,xmax,ymax")
	cmd.Flags().StringVar(&crs, "crs", "EPSG:2154", "CRS of --bbox")
	_ = cmd.MarkFlagRequired("bbox")
	return cmd
}

func newExtentCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "extent",
		Short: "Print the boundary layer extent as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.load("cli"); err != nil {
				return err
			}
			ctx := cmd.Context()
			idx, err := openIndex(ctx, g.cfg, g.log)
			if err != nil {
				return err
			}
			defer idx.Close()

			ext, err := idx.Extent(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(ext)
		},
	}
}
