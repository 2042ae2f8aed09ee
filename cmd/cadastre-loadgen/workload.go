package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"strings"
)

// bbox is in Lambert-93 (EPSG:2154) metres.
type bbox struct{ X1, Y1, X2, Y2 float64 }

func (b bbox) String() string {
	return fmt.Sprintf("%.0f,%.0f,%.0f,%.0f", b.X1, b.Y1, b.X2, b.Y2)
}

// syntheticBoxes returns a quarter of "hot" boxes around large cities and
// spreads the rest over metropolitan France.
func syntheticBoxes(count int, r *rand.Rand) []bbox {
	centers := [][2]float64{
		{652000, 6862000}, // Paris
		{842000, 6519000}, // Lyon
		{893000, 6247000}, // Marseille
		{574000, 6280000}, // Toulouse
	}
	out := make([]bbox, 0, count)

	hot := max(8, count/4)
	for i := 0; i < hot && len(out) < count; i++ {
		c := centers[i%len(centers)]
		dx, dy := (r.Float64()-0.5)*4000, (r.Float64()-0.5)*4000
		w, h := 600+r.Float64()*400, 300+r.Float64()*200
		x, y := c[0]+dx, c[1]+dy
		out = append(out, bbox{x - w/2, y - h/2, x + w/2, y + h/2})
	}

	for len(out) < count {
		x := 150000 + r.Float64()*(1050000-150000)
		y := 6150000 + r.Float64()*(7050000-6150000)
		w, h := 400+r.Float64()*600, 200+r.Float64()*300
		out = append(out, bbox{x - w/2, y - h/2, x + w/2, y + h/2})
	}
	return out
}

type centroid struct {
	ID   string
	X, Y float64
}

func readCentroids(in io.Reader) ([]centroid, error) {
	r := csv.NewReader(in)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	idIdx, okID := col["id"]
	xIdx, okX := col["x"]
	yIdx, okY := col["y"]
	if !okID || !okX || !okY {
		return nil, fmt.Errorf("centroid csv: expected columns id,x,y; got %v", header)
	}

	var out []centroid
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		id := strings.TrimSpace(rec[idIdx])
		xs, ys := strings.TrimSpace(rec[xIdx]), strings.TrimSpace(rec[yIdx])
		if id == "" || xs == "" || ys == "" {
			continue
		}
		x, err := strconv.ParseFloat(xs, 64)
		if err != nil {
			return nil, fmt.Errorf("parse x %q: %w", xs, err)
		}
		y, err := strconv.ParseFloat(ys, 64)
		if err != nil {
			return nil, fmt.Errorf("parse y %q: %w", ys, err)
		}
		out = append(out, centroid{ID: id, X: x, Y: y})
	}
	return out, nil
}

func boxesFromCentroids(cs []centroid, count int) []bbox {
	if len(cs) == 0 || count <= 0 {
		return nil
	}
	count = min(count, len(cs))
	const half = 400.0 // metres
	out := make([]bbox, 0, count)
	for _, c := range cs[:count] {
		out = append(out, bbox{c.X - half, c.Y - half/2, c.X + half, c.Y + half/2})
	}
	return out
}
