// Package scale decides whether a map request is zoomed in enough for the
// cadastral upstream to be worth querying.
package scale

import (
	"fmt"
	"strings"
)

const (
	// PixelSize is the standardized rendering pixel size in metres.
	PixelSize = 0.00028

	// MaxScale suppresses every layer above it.
	MaxScale = 26000
	// MaxDetailScale suppresses parcel and building layers above it.
	MaxDetailScale = 10000

	LayerParcel   = "CP.CadastralParcel"
	LayerBuilding = "BU.Building"
)

// Denominator returns the scale denominator for a map extent spanning
// span ground units rendered on widthPx pixels.
func Denominator(span float64, widthPx int) float64 {
	if widthPx <= 0 {
		return 0
	}
	return span / (float64(widthPx) * PixelSize)
}

type Decision struct {
	Scale    float64
	Suppress bool
	Limit    int
}

// Message is the annotation drawn on the placeholder image.
func (d Decision) Message() string {
	return fmt.Sprintf("scale 1:%.0f above 1:%d, zoom in", d.Scale, d.Limit)
}

// Evaluate applies the two thresholds. Both comparisons are strict.
func Evaluate(span float64, widthPx int, layers string) Decision {
	s := Denominator(span, widthPx)
	d := Decision{Scale: s}
	switch {
	case s > MaxScale:
		d.Suppress, d.Limit = true, MaxScale
	case s > MaxDetailScale && HasDetailLayer(layers):
		d.Suppress, d.Limit = true, MaxDetailScale
	}
	return d
}

// HasDetailLayer reports whether the comma-separated layer list names the
// parcel or building layer.
func HasDetailLayer(layers string) bool {
	for _, l := range strings.Split(layers, ",") {
		switch strings.TrimSpace(l) {
		case LayerParcel, LayerBuilding:
			return true
		}
	}
	return false
}
