package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultUpstreamURL = "https://inspire.cadastre.gouv.fr/scpc"
	DefaultNativeEPSG  = 2154
)

// ErrInvalid marks configuration problems that must stop the process.
var ErrInvalid = errors.New("invalid configuration")

type BoundaryCfg struct {
	// Datasource is a postgres:// URL (PostGIS backend) or any OGR
	// connection string such as "PG:dbname=..." or a file path.
	Datasource string `yaml:"datasource"`
	Driver     string `yaml:"driver"`
	Layer      string `yaml:"layer"`
	IDField    string `yaml:"id_field"`
	GeomField  string `yaml:"geom_field"`
	NativeEPSG int    `yaml:"native_epsg"`
	LazyOpen   bool   `yaml:"lazy_open"`
}

type UpstreamCfg struct {
	URL            string        `yaml:"url"`
	APIKey         string        `yaml:"api_key"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

type RegionCacheCfg struct {
	Driver    string        `yaml:"driver"`
	Size      int           `yaml:"size"`
	TTL       time.Duration `yaml:"ttl"`
	TTLHot    time.Duration `yaml:"ttl_hot"`
	RedisAddr string        `yaml:"redis_addr"`
	OpTimeout time.Duration `yaml:"op_timeout"`
}

type HotnessCfg struct {
	Threshold float64       `yaml:"threshold"`
	HalfLife  time.Duration `yaml:"half_life"`
}

type InvalidationCfg struct {
	Enabled bool   `yaml:"enabled"`
	Topic   string `yaml:"topic"`
	Brokers string `yaml:"brokers"`
	GroupID string `yaml:"group_id"`
}

type EventsCfg struct {
	Enabled bool   `yaml:"enabled"`
	Topic   string `yaml:"topic"`
	Brokers string `yaml:"brokers"`
}

type MetricsCfg struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type Config struct {
	Addr         string          `yaml:"addr"`
	LogLevel     string          `yaml:"log_level"`
	LogConsole   bool            `yaml:"log_console"`
	LogSampleN   int             `yaml:"log_sample_n"`
	ReusePort    bool            `yaml:"reuse_port"`
	ServiceTitle string          `yaml:"service_title"`
	Boundary     BoundaryCfg     `yaml:"boundary"`
	Upstream     UpstreamCfg     `yaml:"upstream"`
	RegionCache  RegionCacheCfg  `yaml:"region_cache"`
	Hotness      HotnessCfg      `yaml:"hotness"`
	Invalidation InvalidationCfg `yaml:"invalidation"`
	Events       EventsCfg       `yaml:"events"`
	Metrics      MetricsCfg      `yaml:"metrics"`
}

func Default() Config {
	return Config{
		Addr:         ":8080",
		LogLevel:     "info",
		ServiceTitle: "Cadastre",
		Boundary: BoundaryCfg{
			Driver:     "auto",
			IDField:    "insee",
			GeomField:  "geom",
			NativeEPSG: DefaultNativeEPSG,
		},
		Upstream: UpstreamCfg{
			URL:            DefaultUpstreamURL,
			Timeout:        10 * time.Second,
			MaxConcurrency: 8,
		},
		RegionCache: RegionCacheCfg{
			Driver:    "memory",
			Size:      4096,
			TTL:       10 * time.Minute,
			TTLHot:    time.Hour,
			RedisAddr: "localhost:6379",
			OpTimeout: 250 * time.Millisecond,
		},
		Hotness: HotnessCfg{
			Threshold: 10,
			HalfLife:  time.Minute,
		},
		Invalidation: InvalidationCfg{
			Topic:   "cadastre-boundaries",
			Brokers: "localhost:9092",
			GroupID: "cadastre-proxy",
		},
		Events: EventsCfg{
			Topic:   "cadastre-dispatch",
			Brokers: "localhost:9092",
		},
		Metrics: MetricsCfg{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path and the environment, in that order of precedence.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("CADASTRE_CONFIG")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

// FromEnv returns defaults overlaid with the environment, unvalidated.
func FromEnv() Config {
	cfg := Default()
	applyEnv(&cfg)
	return cfg
}

func applyEnv(c *Config) {
	c.Addr = getenv("ADDR", c.Addr)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.LogConsole = getbool("LOG_CONSOLE", c.LogConsole)
	c.LogSampleN = getint("LOG_SAMPLE_N", c.LogSampleN)
	c.ReusePort = getbool("REUSE_PORT", c.ReusePort)
	c.ServiceTitle = getenv("SERVICE_TITLE", c.ServiceTitle)

	c.Boundary.Datasource = getenv("BOUNDARY_DATASOURCE", c.Boundary.Datasource)
	c.Boundary.Driver = getenv("BOUNDARY_DRIVER", c.Boundary.Driver)
	c.Boundary.Layer = getenv("BOUNDARY_LAYER", c.Boundary.Layer)
	c.Boundary.IDField = getenv("BOUNDARY_ID_FIELD", c.Boundary.IDField)
	c.Boundary.GeomField = getenv("BOUNDARY_GEOM_FIELD", c.Boundary.GeomField)
	c.Boundary.NativeEPSG = getint("BOUNDARY_NATIVE_EPSG", c.Boundary.NativeEPSG)
	c.Boundary.LazyOpen = getbool("BOUNDARY_LAZY_OPEN", c.Boundary.LazyOpen)

	c.Upstream.URL = getenv("UPSTREAM_URL", c.Upstream.URL)
	c.Upstream.APIKey = getenv("UPSTREAM_API_KEY", c.Upstream.APIKey)
	c.Upstream.Timeout = getduration("UPSTREAM_TIMEOUT", c.Upstream.Timeout)
	c.Upstream.MaxConcurrency = getint("UPSTREAM_MAX_CONCURRENCY", c.Upstream.MaxConcurrency)

	c.RegionCache.Driver = getenv("REGION_CACHE_DRIVER", c.RegionCache.Driver)
	c.RegionCache.Size = getint("REGION_CACHE_SIZE", c.RegionCache.Size)
	c.RegionCache.TTL = getduration("REGION_CACHE_TTL", c.RegionCache.TTL)
	c.RegionCache.TTLHot = getduration("REGION_CACHE_TTL_HOT", c.RegionCache.TTLHot)
	c.RegionCache.RedisAddr = getenv("REDIS_ADDR", c.RegionCache.RedisAddr)
	c.RegionCache.OpTimeout = getduration("REGION_CACHE_OP_TIMEOUT", c.RegionCache.OpTimeout)

	c.Hotness.Threshold = getfloat("HOT_THRESHOLD", c.Hotness.Threshold)
	c.Hotness.HalfLife = getduration("HOT_HALF_LIFE", c.Hotness.HalfLife)

	c.Invalidation.Enabled = getbool("INVALIDATION_ENABLED", c.Invalidation.Enabled)
	c.Invalidation.Topic = getenv("KAFKA_TOPIC", c.Invalidation.Topic)
	c.Invalidation.Brokers = getenv("KAFKA_BROKERS", c.Invalidation.Brokers)
	c.Invalidation.GroupID = getenv("KAFKA_GROUP_ID", c.Invalidation.GroupID)

	c.Events.Enabled = getbool("EVENTS_ENABLED", c.Events.Enabled)
	c.Events.Topic = getenv("EVENTS_TOPIC", c.Events.Topic)
	c.Events.Brokers = getenv("KAFKA_BROKERS", c.Events.Brokers)

	c.Metrics.Enabled = getbool("METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Path = getenv("METRICS_PATH", c.Metrics.Path)
}

// Validate reports the first problem that would make the service unusable.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Boundary.Datasource) == "" {
		return fmt.Errorf("%w: boundary datasource is required", ErrInvalid)
	}
	if strings.TrimSpace(c.Boundary.Layer) == "" {
		return fmt.Errorf("%w: boundary layer is required", ErrInvalid)
	}
	if strings.TrimSpace(c.Boundary.IDField) == "" {
		return fmt.Errorf("%w: boundary id field is required", ErrInvalid)
	}
	if c.Boundary.NativeEPSG <= 0 {
		return fmt.Errorf("%w: native epsg must be positive", ErrInvalid)
	}
	u, err := url.Parse(c.Upstream.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: upstream url %q", ErrInvalid, c.Upstream.URL)
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("%w: upstream timeout must be positive", ErrInvalid)
	}
	if c.Upstream.MaxConcurrency <= 0 {
		return fmt.Errorf("%w: upstream max concurrency must be positive", ErrInvalid)
	}
	switch c.RegionCache.Driver {
	case "none", "memory", "redis", "tiered":
	default:
		return fmt.Errorf("%w: unknown region cache driver %q", ErrInvalid, c.RegionCache.Driver)
	}
	return nil
}

func (c Config) BrokerList(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
