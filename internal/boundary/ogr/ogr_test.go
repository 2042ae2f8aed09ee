package ogr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bchartier/cadastre.gouv/internal/boundary"
	"github.com/bchartier/cadastre.gouv/internal/core/model"
)

const communes = `{
  "type": "FeatureCollection",
  "name": "communes",
  "crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:EPSG::2154"}},
  "features": [
    {"type": "Feature", "properties": {"insee": "75056"},
     "geometry": {"type": "Polygon", "coordinates": [[[650000,6860000],[651000,6860000],[651000,6861000],[650000,6861000],[650000,6860000]]]}},
    {"type": "Feature", "properties": {"insee": "92012"},
     "geometry": {"type": "Polygon", "coordinates": [[[651000,6860000],[652000,6860000],[652000,6861000],[651000,6861000],[651000,6860000]]]}}
  ]
}`

func openFixture(t *testing.T, layer string) (*Index, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "communes.geojson")
	if err := os.WriteFile(path, []byte(communes), 0o600); err != nil {
		t.Fatal(err)
	}
	return Open(context.Background(), boundary.Options{
		Datasource: path, Layer: layer, IDField: "insee", GeomField: "geom", NativeEPSG: 2154,
	})
}

func TestIntersectingNativeCRS(t *testing.T) {
	idx, err := openFixture(t, "communes")
	if err != nil {
		t.Skipf("gdal fixture unavailable: %v", err)
	}
	defer idx.Close()

	ctx := context.Background()
	rs, err := idx.Intersecting(ctx, model.BBox{XMin: 650100, YMin: 6860100, XMax: 650200, YMax: 6860200, EPSG: 2154})
	if err != nil {
		t.Fatal(err)
	}
	if len(rs) != 1 || rs[0] != "75056" {
		t.Fatalf("rs=%v", rs)
	}
	rs, err = idx.Intersecting(ctx, model.BBox{XMin: 650900, YMin: 6860100, XMax: 651100, YMax: 6860200, EPSG: 2154})
	if err != nil {
		t.Fatal(err)
	}
	if len(rs) != 2 {
		t.Fatalf("straddling box rs=%v", rs)
	}
	// the filter must not leak into the next query
	rs, err = idx.Intersecting(ctx, model.BBox{XMin: 0, YMin: 0, XMax: 1, YMax: 1, EPSG: 2154})
	if err != nil || len(rs) != 0 {
		t.Fatalf("rs=%v err=%v", rs, err)
	}
}

func TestExtentHasGeographicBox(t *testing.T) {
	idx, err := openFixture(t, "communes")
	if err != nil {
		t.Skipf("gdal fixture unavailable: %v", err)
	}
	defer idx.Close()

	ext, err := idx.Extent(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ext.Native.XMin != 650000 || ext.Native.XMax != 652000 {
		t.Fatalf("native=%+v", ext.Native)
	}
	// Lambert-93 around Paris
	if ext.Geographic.XMin < 1 || ext.Geographic.XMax > 4 || ext.Geographic.YMin < 47 || ext.Geographic.YMax > 50 {
		t.Fatalf("geographic=%+v", ext.Geographic)
	}
}

func TestMissingLayer(t *testing.T) {
	_, err := openFixture(t, "parcelles")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, boundary.ErrLayerNotFound) {
		t.Skipf("gdal fixture unavailable: %v", err)
	}
}
