// Package imaging builds placeholder tiles and composites upstream images
// in pixel space.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	ContentTypePNG = "image/png"

	// MinAnnotatedSize is the smallest canvas side that gets a message.
	MinAnnotatedSize = 300

	// MaxPixels caps the area of any canvas built here.
	MaxPixels = 4096 * 4096
)

// ErrTooLarge is returned for canvases above MaxPixels.
var ErrTooLarge = errors.New("canvas too large")

func checkSize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("canvas size %dx%d", width, height)
	}
	if width > MaxPixels/height {
		return fmt.Errorf("%w: %dx%d", ErrTooLarge, width, height)
	}
	return nil
}

var textColor = color.NRGBA{R: 0x40, G: 0x40, B: 0x40, A: 0xff}

// Placeholder returns a fully transparent PNG of the given size. msg is
// drawn near the centre when both sides reach MinAnnotatedSize.
func Placeholder(width, height int, msg string) ([]byte, error) {
	if err := checkSize(width, height); err != nil {
		return nil, fmt.Errorf("placeholder: %w", err)
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	if msg != "" && width >= MinAnnotatedSize && height >= MinAnnotatedSize {
		annotate(img, msg)
	}
	return Encode(img)
}

func annotate(img draw.Image, msg string) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(textColor),
		Face: face,
	}
	b := img.Bounds()
	adv := d.MeasureString(msg)
	x := (fixed.I(b.Dx()) - adv) / 2
	if x < 0 {
		x = 0
	}
	d.Dot = fixed.Point26_6{X: x, Y: fixed.I(b.Dy()/2 + face.Ascent/2)}
	d.DrawString(msg)
}

// Decode sniffs and decodes an upstream image body.
func Decode(body []byte) (image.Image, string, error) {
	img, kind, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, kind, nil
}

func Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Canvas accumulates images of one request. The first image is copied as
// is, later ones are alpha-composited over the result. The canvas keeps
// the requested size whatever the inputs measure.
type Canvas struct {
	img *image.RGBA
	n   int
}

func NewCanvas(width, height int) (*Canvas, error) {
	if err := checkSize(width, height); err != nil {
		return nil, err
	}
	return &Canvas{img: image.NewRGBA(image.Rect(0, 0, width, height))}, nil
}

func (c *Canvas) Add(src image.Image) {
	op := draw.Over
	if c.n == 0 {
		op = draw.Src
	}
	draw.Draw(c.img, c.img.Bounds(), src, src.Bounds().Min, op)
	c.n++
}

// Layers is the number of images added so far.
func (c *Canvas) Layers() int { return c.n }

func (c *Canvas) Image() image.Image { return c.img }

func (c *Canvas) Encode() ([]byte, error) { return Encode(c.img) }
