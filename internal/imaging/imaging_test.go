package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func pngOf(t *testing.T, w, h int, fill color.Color, rect image.Rectangle) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.Set(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func opaquePixels(img image.Image) int {
	n := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0 {
				n++
			}
		}
	}
	return n
}

func TestPlaceholderTransparentWithoutMessageOnSmallCanvas(t *testing.T) {
	body, err := Placeholder(256, 256, "width too large")
	if err != nil {
		t.Fatal(err)
	}
	img, kind, err := Decode(body)
	if err != nil {
		t.Fatal(err)
	}
	if kind != "png" {
		t.Fatalf("kind=%s", kind)
	}
	if img.Bounds().Dx() != 256 || img.Bounds().Dy() != 256 {
		t.Fatalf("bounds=%v", img.Bounds())
	}
	if n := opaquePixels(img); n != 0 {
		t.Fatalf("small placeholder must be fully transparent, %d opaque pixels", n)
	}
}

func TestPlaceholderAnnotatedOnLargeCanvas(t *testing.T) {
	body, err := Placeholder(400, 300, "width too large")
	if err != nil {
		t.Fatal(err)
	}
	img, _, err := Decode(body)
	if err != nil {
		t.Fatal(err)
	}
	if n := opaquePixels(img); n == 0 {
		t.Fatalf("expected message pixels on a 400x300 canvas")
	}
	if _, _, _, a := img.At(0, 0).RGBA(); a != 0 {
		t.Fatalf("corner must stay transparent")
	}
}

func TestPlaceholderRejectsEmptySize(t *testing.T) {
	if _, err := Placeholder(0, 10, ""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestOversizedCanvasIsRefused(t *testing.T) {
	sizes := [][2]int{
		{4097, 4096},
		{2000, 2000000000},
		{int(^uint(0) >> 1), 10},
	}
	for _, sz := range sizes {
		if _, err := Placeholder(sz[0], sz[1], "width too large"); !errors.Is(err, ErrTooLarge) {
			t.Fatalf("Placeholder(%dx%d) err=%v, want ErrTooLarge", sz[0], sz[1], err)
		}
		if _, err := NewCanvas(sz[0], sz[1]); !errors.Is(err, ErrTooLarge) {
			t.Fatalf("NewCanvas(%dx%d) err=%v, want ErrTooLarge", sz[0], sz[1], err)
		}
	}
	if err := checkSize(4096, 4096); err != nil {
		t.Fatalf("largest allowed canvas refused: %v", err)
	}
}

func TestCanvasCompositesInOrder(t *testing.T) {
	red := color.NRGBA{R: 255, A: 255}
	blue := color.NRGBA{B: 255, A: 255}
	left, _, _ := Decode(pngOf(t, 10, 10, red, image.Rect(0, 0, 6, 10)))
	right, _, _ := Decode(pngOf(t, 10, 10, blue, image.Rect(4, 0, 10, 10)))

	c, err := NewCanvas(10, 10)
	if err != nil {
		t.Fatal(err)
	}
	c.Add(left)
	c.Add(right)
	if c.Layers() != 2 {
		t.Fatalf("layers=%d", c.Layers())
	}
	img := c.Image()
	if r, _, b, _ := img.At(1, 5).RGBA(); r == 0 || b != 0 {
		t.Fatalf("left pixel should be red")
	}
	// overlap: later image wins where opaque
	if r, _, b, _ := img.At(5, 5).RGBA(); r != 0 || b == 0 {
		t.Fatalf("overlap pixel should be blue")
	}
	if opaquePixels(img) != 100 {
		t.Fatalf("union should cover the canvas")
	}
}

func TestCanvasKeepsRequestedSize(t *testing.T) {
	small, _, _ := Decode(pngOf(t, 5, 5, color.NRGBA{G: 255, A: 255}, image.Rect(0, 0, 5, 5)))
	c, err := NewCanvas(20, 12)
	if err != nil {
		t.Fatal(err)
	}
	c.Add(small)
	body, err := c.Encode()
	if err != nil {
		t.Fatal(err)
	}
	img, _, err := Decode(body)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 20 || img.Bounds().Dy() != 12 {
		t.Fatalf("bounds=%v", img.Bounds())
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, _, err := Decode([]byte("<ServiceExceptionReport/>")); err == nil {
		t.Fatalf("expected decode error")
	}
}
