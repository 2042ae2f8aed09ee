// Package boundarytest provides an in-memory boundary index for tests.
package boundarytest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bchartier/cadastre.gouv/internal/core/model"
)

// Region is a named rectangle in the native CRS.
type Region struct {
	Code string
	Box  model.BBox
}

// Index matches boxes by rectangle overlap. Requests in a foreign CRS go
// through Transform, which must be set for them to succeed.
type Index struct {
	Native     int
	Regions    []Region
	Geographic model.BBox
	Transform  func(model.BBox) (model.BBox, error)
	Err        error

	Calls       atomic.Int64
	ExtentCalls atomic.Int64

	mu     sync.Mutex
	closed bool
}

func New(regions ...Region) *Index {
	return &Index{Native: 2154, Regions: regions}
}

func (f *Index) Intersecting(_ context.Context, b model.BBox) (model.RegionSet, error) {
	f.Calls.Add(1)
	if f.Err != nil {
		return nil, f.Err
	}
	if b.EPSG != 0 && b.EPSG != f.Native {
		if f.Transform == nil {
			return nil, fmt.Errorf("no transform from EPSG:%d", b.EPSG)
		}
		var err error
		if b, err = f.Transform(b); err != nil {
			return nil, err
		}
	}
	var out model.RegionSet
	for _, r := range f.Regions {
		if overlaps(r.Box, b) {
			out = append(out, r.Code)
		}
	}
	return out.Dedup(), nil
}

func overlaps(a, b model.BBox) bool {
	return a.XMin <= b.XMax && b.XMin <= a.XMax && a.YMin <= b.YMax && b.YMin <= a.YMax
}

func (f *Index) Extent(_ context.Context) (model.Extent, error) {
	f.ExtentCalls.Add(1)
	if f.Err != nil {
		return model.Extent{}, f.Err
	}
	if len(f.Regions) == 0 {
		return model.Extent{}, errors.New("empty index")
	}
	n := f.Regions[0].Box
	for _, r := range f.Regions[1:] {
		n.XMin = min(n.XMin, r.Box.XMin)
		n.YMin = min(n.YMin, r.Box.YMin)
		n.XMax = max(n.XMax, r.Box.XMax)
		n.YMax = max(n.YMax, r.Box.YMax)
	}
	n.EPSG = f.Native
	g := f.Geographic
	g.EPSG = 4326
	return model.Extent{Native: n, Geographic: g}, nil
}

func (f *Index) NativeEPSG() int { return f.Native }

func (f *Index) Ping(context.Context) error { return f.Err }

func (f *Index) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *Index) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
