package regioncache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bchartier/cadastre.gouv/internal/core/model"
	"github.com/bchartier/cadastre.gouv/internal/core/observability"
)

type entry struct {
	rs      model.RegionSet
	expires time.Time
}

// Memory is a bounded in-process cache with per-entry expiry.
type Memory struct {
	lru *lru.Cache[string, entry]
	now func() time.Time
}

func NewMemory(size int) (*Memory, error) {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New[string, entry](size)
	if err != nil {
		return nil, fmt.Errorf("region lru: %w", err)
	}
	return &Memory{lru: c, now: time.Now}, nil
}

func (m *Memory) Get(_ context.Context, key string) (model.RegionSet, bool) {
	e, ok := m.lru.Get(key)
	if ok && !e.expires.IsZero() && !m.now().Before(e.expires) {
		m.lru.Remove(key)
		ok = false
	}
	observability.IncRegionCache("memory", ok)
	if !ok {
		return nil, false
	}
	return e.rs, true
}

func (m *Memory) Put(_ context.Context, key string, rs model.RegionSet, ttl time.Duration) {
	e := entry{rs: rs}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.lru.Add(key, e)
}

func (m *Memory) InvalidateRegions(_ context.Context, regions ...string) (int, error) {
	n := 0
	for _, k := range m.lru.Keys() {
		e, ok := m.lru.Peek(k)
		if !ok {
			continue
		}
		if len(e.rs) == 0 || containsAny(e.rs, regions) {
			if m.lru.Remove(k) {
				n++
			}
		}
	}
	return n, nil
}

func (m *Memory) Len() int { return m.lru.Len() }

func containsAny(rs model.RegionSet, regions []string) bool {
	for _, r := range regions {
		if rs.Contains(r) {
			return true
		}
	}
	return false
}
