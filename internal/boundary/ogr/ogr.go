// Package ogr serves the boundary index from any vector datasource GDAL
// can open: files, or a "PG:" connection string.
package ogr

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/lukeroth/gdal"

	"github.com/bchartier/cadastre.gouv/internal/boundary"
	"github.com/bchartier/cadastre.gouv/internal/core/model"
)

const geographicEPSG = 4326

func init() {
	boundary.Register("ogr", func(ctx context.Context, opts boundary.Options) (boundary.Index, error) {
		return Open(ctx, opts)
	})
}

// Index wraps one OGR dataset. OGR handles are not goroutine safe, so
// every call holds mu.
type Index struct {
	mu      sync.Mutex
	ds      gdal.DataSource
	layer   gdal.Layer
	idIdx   int
	native  int
	refs    map[int]gdal.SpatialReference
	nativeR gdal.SpatialReference
	log     *slog.Logger
}

// openDataSource restricts "PG:" strings to the PostgreSQL driver and
// lets OGR probe everything else.
func openDataSource(datasource string) (gdal.DataSource, error) {
	if strings.HasPrefix(datasource, "PG:") {
		ds, ok := gdal.OGRDriverByName("PostgreSQL").Open(datasource, 0)
		if !ok {
			return gdal.DataSource{}, fmt.Errorf("gdal open %s: PostgreSQL driver failed", datasource)
		}
		return ds, nil
	}
	ds := gdal.OpenDataSource(datasource, 0)
	if ds.LayerCount() == 0 {
		ds.Destroy()
		return gdal.DataSource{}, fmt.Errorf("gdal open %s: no vector layer", datasource)
	}
	return ds, nil
}

func Open(_ context.Context, opts boundary.Options) (*Index, error) {
	ds, err := openDataSource(opts.Datasource)
	if err != nil {
		return nil, err
	}
	layer, ok := findLayer(ds, opts.Layer)
	if !ok {
		ds.Destroy()
		return nil, fmt.Errorf("%w: %s", boundary.ErrLayerNotFound, opts.Layer)
	}
	idIdx := layer.Definition().FieldIndex(opts.IDField)
	if idIdx < 0 {
		ds.Destroy()
		return nil, fmt.Errorf("%w: field %s missing in %s", boundary.ErrLayerNotFound, opts.IDField, opts.Layer)
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	idx := &Index{
		ds:     ds,
		layer:  layer,
		idIdx:  idIdx,
		native: opts.NativeEPSG,
		refs:   map[int]gdal.SpatialReference{},
		log:    log,
	}
	if srid, ok := sridOf(layer.SpatialReference()); ok && srid != idx.native {
		log.Warn("boundary layer srid differs from configuration, using layer srid",
			"configured", idx.native, "layer", srid)
		idx.native = srid
	}
	if idx.nativeR, err = idx.ref(idx.native); err != nil {
		idx.closeLocked()
		return nil, err
	}
	return idx, nil
}

func findLayer(ds gdal.DataSource, name string) (gdal.Layer, bool) {
	for i := 0; i < ds.LayerCount(); i++ {
		l := ds.LayerByIndex(i)
		if l.Name() == name {
			return l, true
		}
	}
	return gdal.Layer{}, false
}

func sridOf(sr gdal.SpatialReference) (int, bool) {
	raw, ok := sr.AttrValue("AUTHORITY", 1)
	if !ok {
		if sr.AutoIdentifyEPSG() != nil {
			return 0, false
		}
		if raw, ok = sr.AttrValue("AUTHORITY", 1); !ok {
			return 0, false
		}
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// ref returns a cached spatial reference with easting/northing axis order.
func (i *Index) ref(epsg int) (gdal.SpatialReference, error) {
	if r, ok := i.refs[epsg]; ok {
		return r, nil
	}
	r := gdal.CreateSpatialReference("")
	if err := r.FromEPSG(epsg); err != nil {
		r.Destroy()
		return gdal.SpatialReference{}, fmt.Errorf("EPSG:%d: %w", epsg, err)
	}
	r.SetAxisMappingStrategy(gdal.OAMS_TraditionalGisOrder)
	i.refs[epsg] = r
	return r, nil
}

func (i *Index) Intersecting(_ context.Context, b model.BBox) (model.RegionSet, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	epsg := b.EPSG
	if epsg == 0 {
		epsg = i.native
	}
	if epsg == i.native {
		i.layer.SetSpatialFilterRect(b.XMin, b.YMin, b.XMax, b.YMax)
	} else {
		src, err := i.ref(epsg)
		if err != nil {
			return nil, err
		}
		geom, err := gdal.CreateFromWKT(b.WKT(), src)
		if err != nil {
			return nil, fmt.Errorf("bbox geometry: %w", err)
		}
		defer geom.Destroy()
		if err := geom.TransformTo(i.nativeR); err != nil {
			return nil, fmt.Errorf("transform EPSG:%d to EPSG:%d: %w", epsg, i.native, err)
		}
		i.layer.SetSpatialFilter(geom)
	}
	defer func() {
		i.layer.SetSpatialFilter(gdal.Geometry{})
		i.layer.ResetReading()
	}()

	i.layer.ResetReading()
	var out model.RegionSet
	for {
		f := i.layer.NextFeature()
		if f == nil {
			break
		}
		out = append(out, f.FieldAsString(i.idIdx))
		f.Destroy()
	}
	return out.Dedup(), nil
}

func (i *Index) Extent(_ context.Context) (model.Extent, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	env, err := i.layer.Extent(true)
	if err != nil {
		return model.Extent{}, fmt.Errorf("layer extent: %w", err)
	}
	native := model.BBox{XMin: env.MinX(), YMin: env.MinY(), XMax: env.MaxX(), YMax: env.MaxY(), EPSG: i.native}
	if native.Width() <= 0 && native.Height() <= 0 {
		return model.Extent{}, boundary.ErrEmptyLayer
	}

	geo, err := i.ref(geographicEPSG)
	if err != nil {
		return model.Extent{}, err
	}
	g, err := gdal.CreateFromWKT(native.WKT(), i.nativeR)
	if err != nil {
		return model.Extent{}, fmt.Errorf("extent geometry: %w", err)
	}
	defer g.Destroy()
	if err := g.TransformTo(geo); err != nil {
		return model.Extent{}, fmt.Errorf("extent to EPSG:4326: %w", err)
	}
	ge := g.Envelope()
	return model.Extent{
		Native:     native,
		Geographic: model.BBox{XMin: ge.MinX(), YMin: ge.MinY(), XMax: ge.MaxX(), YMax: ge.MaxY(), EPSG: geographicEPSG},
	}, nil
}

func (i *Index) NativeEPSG() int { return i.native }

func (i *Index) Ping(context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.ds.LayerCount() == 0 {
		return boundary.ErrLayerNotFound
	}
	return nil
}

func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closeLocked()
	return nil
}

func (i *Index) closeLocked() {
	for k, r := range i.refs {
		r.Destroy()
		delete(i.refs, k)
	}
	i.ds.Destroy()
}
