// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"strconv"
)

// BBox is an axis-aligned box in the CRS identified by EPSG.
type BBox struct {
	XMin, YMin float64
	XMax, YMax float64
	EPSG       int
}

// String renders the box in WMS order without the CRS.
func (b BBox) String() string {
	return fmt.Sprintf("%s,%s,%s,%s", ftoa(b.XMin), ftoa(b.YMin), ftoa(b.XMax), ftoa(b.YMax))
}

func (b BBox) Width() float64  { return b.XMax - b.XMin }
func (b BBox) Height() float64 { return b.YMax - b.YMin }

// Corners returns the closed ring of the box, counter-clockwise.
func (b BBox) Corners() [5][2]float64 {
	return [5][2]float64{
		{b.XMin, b.YMin},
		{b.XMax, b.YMin},
		{b.XMax, b.YMax},
		{b.XMin, b.YMax},
		{b.XMin, b.YMin},
	}
}

// WKT returns the box as a POLYGON in well-known text.
func (b BBox) WKT() string {
	c := b.Corners()
	s := "POLYGON(("
	for i, p := range c {
		if i > 0 {
			s += ","
		}
		s += ftoa(p[0]) + " " + ftoa(p[1])
	}
	return s + "))"
}

func ftoa(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

type Operation string

const (
	OpGetCapabilities Operation = "GetCapabilities"
	OpGetMap          Operation = "GetMap"
	OpGetFeatureInfo  Operation = "GetFeatureInfo"
)

// RegionSet lists commune codes in index iteration order, without duplicates.
type RegionSet []string

// Dedup returns rs with later duplicates dropped, preserving order.
func (rs RegionSet) Dedup() RegionSet {
	if len(rs) < 2 {
		return rs
	}
	seen := make(map[string]struct{}, len(rs))
	out := make(RegionSet, 0, len(rs))
	for _, r := range rs {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

func (rs RegionSet) Contains(code string) bool {
	for _, r := range rs {
		if r == code {
			return true
		}
	}
	return false
}

// Extent is the service coverage in the native CRS and in EPSG:4326.
type Extent struct {
	Native     BBox
	Geographic BBox
}
