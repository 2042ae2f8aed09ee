// Package aggregate combines the per-commune upstream responses of one
// request into a single answer.
package aggregate

import (
	"errors"
	"fmt"

	"github.com/bchartier/cadastre.gouv/internal/imaging"
)

// Part is one upstream response, in commune order.
type Part struct {
	Region      string
	ContentType string
	Body        []byte
}

type Interface interface {
	Merge(parts []Part) (Merged, error)
}

type Merged struct {
	ContentType string
	Body        []byte
	// Used counts the parts that contributed to Body.
	Used    int
	Skipped []Skip
}

type Skip struct {
	Region string
	Err    error
}

var ErrNoImage = errors.New("no upstream image could be decoded")

// Images composites parts onto a transparent canvas of the requested size.
// The first decodable part is the base; undecodable parts are skipped.
type Images struct {
	Width, Height int
}

var _ Interface = Images{}

func (m Images) Merge(parts []Part) (Merged, error) {
	c, err := imaging.NewCanvas(m.Width, m.Height)
	if err != nil {
		return Merged{}, fmt.Errorf("merge images: %w", err)
	}
	var out Merged
	for _, p := range parts {
		img, _, err := imaging.Decode(p.Body)
		if err != nil {
			out.Skipped = append(out.Skipped, Skip{Region: p.Region, Err: err})
			continue
		}
		c.Add(img)
	}
	out.Used = c.Layers()
	body, err := c.Encode()
	if err != nil {
		return Merged{}, err
	}
	out.Body = body
	out.ContentType = imaging.ContentTypePNG
	if out.Used == 0 && len(parts) > 0 {
		return out, ErrNoImage
	}
	return out, nil
}
