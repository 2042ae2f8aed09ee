package boundary_test

import (
	"context"
	"errors"
	"testing"

	"github.com/bchartier/cadastre.gouv/internal/boundary"
	"github.com/bchartier/cadastre.gouv/internal/boundary/boundarytest"
	"github.com/bchartier/cadastre.gouv/internal/core/model"
)

func fakeIndex() *boundarytest.Index {
	return boundarytest.New(
		boundarytest.Region{Code: "75056", Box: model.BBox{XMin: 0, YMin: 0, XMax: 100, YMax: 100}},
		boundarytest.Region{Code: "92012", Box: model.BBox{XMin: 100, YMin: 0, XMax: 200, YMax: 100}},
	)
}

func TestDetectDriver(t *testing.T) {
	cases := map[string]string{
		"postgres://gis@db/cadastre":   "postgis",
		"POSTGRESQL://gis@db/cadastre": "postgis",
		"PG:dbname=cadastre":           "ogr",
		"/data/communes.gpkg":          "ogr",
	}
	for ds, want := range cases {
		if got := boundary.DetectDriver(ds); got != want {
			t.Fatalf("DetectDriver(%q)=%q want %q", ds, got, want)
		}
	}
}

func TestOpenUsesRegistry(t *testing.T) {
	fake := fakeIndex()
	boundary.Register("fake", func(_ context.Context, opts boundary.Options) (boundary.Index, error) {
		if opts.Layer != "communes" {
			return nil, boundary.ErrLayerNotFound
		}
		return fake, nil
	})

	idx, err := boundary.Open(context.Background(), "fake", boundary.Options{Layer: "communes"})
	if err != nil || idx != fake {
		t.Fatalf("open: idx=%v err=%v", idx, err)
	}
	_, err = boundary.Open(context.Background(), "fake", boundary.Options{Layer: "nope"})
	if !errors.Is(err, boundary.ErrLayerNotFound) {
		t.Fatalf("want ErrLayerNotFound, got %v", err)
	}
	_, err = boundary.Open(context.Background(), "nope", boundary.Options{})
	if !errors.Is(err, boundary.ErrUnknownDriver) {
		t.Fatalf("want ErrUnknownDriver, got %v", err)
	}
}

func TestLazyOpensOnceAndRetriesFailures(t *testing.T) {
	fake := fakeIndex()
	opens := 0
	fail := true
	lazy := boundary.NewLazy(2154, func(context.Context) (boundary.Index, error) {
		opens++
		if fail {
			return nil, errors.New("db down")
		}
		return fake, nil
	})
	ctx := context.Background()
	box := model.BBox{XMin: 10, YMin: 10, XMax: 20, YMax: 20, EPSG: 2154}

	if _, err := lazy.Intersecting(ctx, box); err == nil {
		t.Fatalf("expected open failure")
	}
	fail = false
	for range 3 {
		rs, err := lazy.Intersecting(ctx, box)
		if err != nil || len(rs) != 1 || rs[0] != "75056" {
			t.Fatalf("rs=%v err=%v", rs, err)
		}
	}
	if opens != 2 {
		t.Fatalf("opens=%d want 2", opens)
	}
	if err := lazy.Close(); err != nil || !fake.Closed() {
		t.Fatalf("close err=%v closed=%v", err, fake.Closed())
	}
}

func TestExtentCacheComputesOnce(t *testing.T) {
	fake := fakeIndex()
	c := boundary.NewExtentCache(fake)
	for range 5 {
		ext, err := c.Get(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if ext.Native.XMax != 200 || ext.Native.EPSG != 2154 {
			t.Fatalf("extent=%+v", ext)
		}
	}
	if n := fake.ExtentCalls.Load(); n != 1 {
		t.Fatalf("extent computed %d times", n)
	}
}

func TestSplitLayer(t *testing.T) {
	got := boundary.SplitLayer("cadastre.communes")
	if len(got) != 2 || got[0] != "cadastre" || got[1] != "communes" {
		t.Fatalf("got %v", got)
	}
}
