// Package invalidation describes boundary change events: a commune was
// redrawn, merged or split and cached lookups touching it are stale.
package invalidation

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const SchemaVersion = 1

type Event struct {
	Version int    `json:"version"`
	Op      string `json:"op"`
	Layer   string `json:"layer"`
	// Revision increases with every change of a commune. Zero disables
	// duplicate suppression for the event.
	Revision uint64    `json:"revision,omitempty"`
	TS       time.Time `json:"ts"`
	Source   string    `json:"source,omitempty"`
	Regions  []string  `json:"regions,omitempty"`
	BBox     *BBox     `json:"bbox,omitempty"`
}

// BBox is expressed in the native CRS of the boundary layer unless EPSG
// says otherwise.
type BBox struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
	EPSG int     `json:"epsg,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != SchemaVersion {
		return fmt.Errorf("version must be %d", SchemaVersion)
	}
	switch e.Op {
	case "insert", "update", "delete":
	default:
		return errors.New("op must be insert|update|delete")
	}
	if strings.TrimSpace(e.Layer) == "" {
		return errors.New("layer is required")
	}
	if e.TS.IsZero() {
		return errors.New("ts is required")
	}
	hasRegions := len(e.Regions) > 0
	hasBBox := e.BBox != nil
	if hasRegions == hasBBox {
		return errors.New("exactly one of regions or bbox is required")
	}
	if hasRegions {
		for _, r := range e.Regions {
			if strings.TrimSpace(r) == "" {
				return errors.New("regions must not contain empty codes")
			}
		}
		return nil
	}
	bb := *e.BBox
	if !(bb.XMax > bb.XMin && bb.YMax > bb.YMin) {
		return errors.New("bbox must satisfy xmax>xmin and ymax>ymin")
	}
	if bb.EPSG < 0 {
		return errors.New("bbox.epsg must be positive")
	}
	return nil
}
