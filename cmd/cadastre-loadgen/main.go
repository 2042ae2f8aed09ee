package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bchartier/cadastre.gouv/internal/logger"
)

type Config struct {
	TargetURL       string
	Layers          string
	InfoRatio       float64
	Concurrency     int
	Duration        time.Duration
	ZipfS           float64
	ZipfV           float64
	BBoxCount       int
	OutputPrefix    string
	RequestTimeout  time.Duration
	AppendTimestamp bool
	CentroidFile    string
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.TargetURL, "target", "http://localhost:8080/wms", "Proxy WMS endpoint")
	flag.StringVar(&cfg.Layers, "layers", "CP.CadastralParcel", "WMS layers")
	flag.Float64Var(&cfg.InfoRatio, "info-ratio", 0.1, "Share of GetFeatureInfo requests")
	flag.IntVar(&cfg.Concurrency, "concurrency", 32, "Concurrent workers")
	flag.DurationVar(&cfg.Duration, "duration", 60*time.Second, "Test duration")
	flag.Float64Var(&cfg.ZipfS, "zipf-s", 1.3, "Zipf parameter s (>1)")
	flag.Float64Var(&cfg.ZipfV, "zipf-v", 1.0, "Zipf parameter v (>=1)")
	flag.IntVar(&cfg.BBoxCount, "bboxes", 128, "Distinct BBOXes in pool")
	flag.StringVar(&cfg.OutputPrefix, "out", "results/cadastre", "Output file prefix (JSON/CSV)")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", 10*time.Second, "Per-request timeout")
	flag.BoolVar(&cfg.AppendTimestamp, "append-ts", true, "Append timestamp to output prefix")
	flag.StringVar(&cfg.CentroidFile, "centroids", "", "Optional centroid CSV file (id,x,y) in Lambert-93")
	flag.Parse()
	return cfg
}

func main() {
	cfg := loadConfig()
	zl := logger.Build(logger.Config{Level: "info", Console: true, Component: "loadgen"}, os.Stderr)

	if err := os.MkdirAll(filepath.Dir(cfg.OutputPrefix), 0o750); err != nil {
		zl.Fatal().Err(err).Msg("mkdir results")
	}
	prefix := cfg.OutputPrefix
	if cfg.AppendTimestamp {
		prefix = fmt.Sprintf("%s_%s", prefix, time.Now().UTC().Format("20060102_150405Z"))
	}

	seed := time.Now().UnixNano()
	var boxes []bbox
	if strings.TrimSpace(cfg.CentroidFile) != "" {
		f, err := os.Open(filepath.Clean(cfg.CentroidFile))
		if err == nil {
			var cs []centroid
			cs, err = readCentroids(f)
			_ = f.Close()
			boxes = boxesFromCentroids(cs, cfg.BBoxCount)
		}
		if err != nil {
			zl.Warn().Err(err).Str("file", cfg.CentroidFile).Msg("centroids unusable, falling back to synthetic BBOXes")
		}
	}
	if len(boxes) == 0 {
		boxes = syntheticBoxes(cfg.BBoxCount, rand.New(rand.NewSource(seed)))
	}
	if len(boxes) == 0 {
		zl.Fatal().Msg("no BBOXes generated")
	}

	csvPath := prefix + "_samples.csv"
	jsonPath := prefix + "_summary.json"
	csvFile, err := os.Create(filepath.Clean(csvPath))
	if err != nil {
		zl.Fatal().Err(err).Msg("open csv")
	}
	defer func() { _ = csvFile.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	zl.Info().
		Str("target", cfg.TargetURL).
		Dur("duration", cfg.Duration).
		Int("concurrency", cfg.Concurrency).
		Int("bboxes", len(boxes)).
		Msg("loadgen start")

	sum, err := run(ctx, cfg, boxes, newClient(cfg.RequestTimeout), seed, csvFile)
	if err != nil {
		zl.Fatal().Err(err).Msg("load run")
	}

	if jf, err := os.Create(filepath.Clean(jsonPath)); err == nil {
		enc := json.NewEncoder(jf)
		enc.SetIndent("", "  ")
		_ = enc.Encode(sum)
		_ = jf.Close()
	}

	zl.Info().
		Int64("total", sum.TotalRequests).
		Int64("success", sum.SuccessCount).
		Int64("errors", sum.ErrorCount).
		Int64("redirects", sum.RedirectCount).
		Float64("rps", sum.ThroughputRPS).
		Float64("p50_ms", sum.P50Ms).
		Float64("p95_ms", sum.P95Ms).
		Float64("p99_ms", sum.P99Ms).
		Str("csv", csvPath).
		Str("json", jsonPath).
		Msg("done")
}
