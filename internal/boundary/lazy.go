package boundary

import (
	"context"
	"sync"

	"github.com/bchartier/cadastre.gouv/internal/core/model"
)

// Lazy opens the wrapped index on first use and then reuses the handle.
// A failed open is not cached; the next call tries again.
type Lazy struct {
	open   func(context.Context) (Index, error)
	native int

	mu  sync.Mutex
	idx Index
}

func NewLazy(native int, open func(context.Context) (Index, error)) *Lazy {
	return &Lazy{open: open, native: native}
}

func (l *Lazy) Get(ctx context.Context) (Index, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.idx != nil {
		return l.idx, nil
	}
	idx, err := l.open(ctx)
	if err != nil {
		return nil, err
	}
	l.idx = idx
	return idx, nil
}

func (l *Lazy) Intersecting(ctx context.Context, bbox model.BBox) (model.RegionSet, error) {
	idx, err := l.Get(ctx)
	if err != nil {
		return nil, err
	}
	return idx.Intersecting(ctx, bbox)
}

func (l *Lazy) Extent(ctx context.Context) (model.Extent, error) {
	idx, err := l.Get(ctx)
	if err != nil {
		return model.Extent{}, err
	}
	return idx.Extent(ctx)
}

func (l *Lazy) NativeEPSG() int {
	l.mu.Lock()
	idx := l.idx
	l.mu.Unlock()
	if idx != nil {
		return idx.NativeEPSG()
	}
	return l.native
}

func (l *Lazy) Ping(ctx context.Context) error {
	idx, err := l.Get(ctx)
	if err != nil {
		return err
	}
	return idx.Ping(ctx)
}

func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.idx == nil {
		return nil
	}
	err := l.idx.Close()
	l.idx = nil
	return err
}

// ExtentCache computes the service extent once and serves the stored
// value afterwards. Errors are returned without being cached.
type ExtentCache struct {
	idx Index

	mu   sync.Mutex
	done bool
	ext  model.Extent
}

func NewExtentCache(idx Index) *ExtentCache {
	return &ExtentCache{idx: idx}
}

func (c *ExtentCache) Get(ctx context.Context) (model.Extent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return c.ext, nil
	}
	ext, err := c.idx.Extent(ctx)
	if err != nil {
		return model.Extent{}, err
	}
	c.ext, c.done = ext, true
	return ext, nil
}
