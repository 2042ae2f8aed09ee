// Package boundary abstracts the commune boundary index the resolver
// queries: which communes intersect a box, and the extent they cover.
package boundary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/bchartier/cadastre.gouv/internal/core/model"
)

var (
	// ErrLayerNotFound means the datasource opened but has no such layer.
	ErrLayerNotFound = errors.New("boundary layer not found")
	ErrEmptyLayer    = errors.New("boundary layer has no features")
	ErrUnknownDriver = errors.New("unknown boundary driver")
)

// Index answers intersection queries against commune boundaries.
type Index interface {
	// Intersecting returns the identifiers of every feature intersecting
	// bbox, in the index's natural order. bbox.EPSG selects the CRS.
	Intersecting(ctx context.Context, bbox model.BBox) (model.RegionSet, error)
	Extent(ctx context.Context) (model.Extent, error)
	NativeEPSG() int
	Ping(ctx context.Context) error
	Close() error
}

type Options struct {
	Datasource string
	Layer      string
	IDField    string
	GeomField  string
	NativeEPSG int
	Logger     *slog.Logger
}

type Factory func(ctx context.Context, opts Options) (Index, error)

var (
	regMu sync.RWMutex
	reg   = map[string]Factory{}
)

func Register(name string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	reg[name] = f
}

// Drivers lists registered driver names.
func Drivers() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(reg))
	for k := range reg {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DetectDriver picks a driver for a datasource when none is configured:
// postgres URLs go to PostGIS, everything else to OGR.
func DetectDriver(datasource string) string {
	ds := strings.ToLower(strings.TrimSpace(datasource))
	if strings.HasPrefix(ds, "postgres://") || strings.HasPrefix(ds, "postgresql://") {
		return "postgis"
	}
	return "ogr"
}

// Open builds an index with the named driver. "" and "auto" detect it.
func Open(ctx context.Context, driver string, opts Options) (Index, error) {
	if driver == "" || driver == "auto" {
		driver = DetectDriver(opts.Datasource)
	}
	regMu.RLock()
	f, ok := reg[driver]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %s)", ErrUnknownDriver, driver, strings.Join(Drivers(), ","))
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	idx, err := f(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("open %s boundary index: %w", driver, err)
	}
	return idx, nil
}

// SplitLayer splits "schema.table" into its parts.
func SplitLayer(layer string) []string {
	parts := strings.Split(layer, ".")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
