// Package shmimage provides image.Image implementations for the pixel
// layouts of wl_shm buffers.
package shmimage

import (
	"image"
	"image/color"
	"image/draw"

	"deedles.dev/wlcomp/internal/bin"
)

// ARGB8888 is an in-memory image whose At method returns ARGB8888Color
// values. Pixels are stored as host-endian 32-bit words.
type ARGB8888 struct {
	// Pix holds the image's pixels. The pixel at (x, y) starts at
	// Pix[(y-Rect.Min.Y)*Stride + (x-Rect.Min.X)*4].
	Pix []uint8
	// Stride is the Pix stride (in bytes) between vertically adjacent pixels.
	Stride int
	// Rect is the image's bounds.
	Rect image.Rectangle
}

// NewARGB8888 returns a new ARGB8888 image with the given bounds.
func NewARGB8888(r image.Rectangle) *ARGB8888 {
	return &ARGB8888{
		Pix:    make([]uint8, r.Dx()*r.Dy()*4),
		Stride: 4 * r.Dx(),
		Rect:   r,
	}
}

func (p *ARGB8888) Bounds() image.Rectangle { return p.Rect }

func (p *ARGB8888) ColorModel() color.Model { return ARGB8888Model }

func (p *ARGB8888) At(x, y int) color.Color {
	return p.ARGB8888At(x, y)
}

func (p *ARGB8888) ARGB8888At(x, y int) ARGB8888Color {
	if !(image.Point{x, y}.In(p.Rect)) {
		return ARGB8888Color(0)
	}
	return pixel(p.Pix, p.PixOffset(x, y))
}

// PixOffset returns the index of the first element of Pix that corresponds to
// the pixel at (x, y).
func (p *ARGB8888) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*4
}

func (p *ARGB8888) Set(x, y int, c color.Color) {
	if !(image.Point{x, y}.In(p.Rect)) {
		return
	}
	setPixel(p.Pix, p.PixOffset(x, y), ARGB8888Model.Convert(c).(ARGB8888Color))
}

// SubImage returns an image representing the portion of the image p visible
// through r. The returned value shares pixels with the original image.
func (p *ARGB8888) SubImage(r image.Rectangle) draw.Image {
	r = r.Intersect(p.Rect)
	if r.Empty() {
		return &ARGB8888{}
	}
	i := p.PixOffset(r.Min.X, r.Min.Y)
	return &ARGB8888{
		Pix:    p.Pix[i:],
		Stride: p.Stride,
		Rect:   r,
	}
}

// XRGB8888 is like ARGB8888, but the alpha byte of every pixel is
// ignored and the image is always opaque.
type XRGB8888 struct {
	Pix    []uint8
	Stride int
	Rect   image.Rectangle
}

func NewXRGB8888(r image.Rectangle) *XRGB8888 {
	return &XRGB8888{
		Pix:    make([]uint8, r.Dx()*r.Dy()*4),
		Stride: 4 * r.Dx(),
		Rect:   r,
	}
}

func (p *XRGB8888) Bounds() image.Rectangle { return p.Rect }

func (p *XRGB8888) ColorModel() color.Model { return XRGB8888Model }

func (p *XRGB8888) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(p.Rect)) {
		return ARGB8888Color(0)
	}
	return pixel(p.Pix, p.PixOffset(x, y)) | 0xFF000000
}

func (p *XRGB8888) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*4
}

func (p *XRGB8888) Set(x, y int, c color.Color) {
	if !(image.Point{x, y}.In(p.Rect)) {
		return
	}
	setPixel(p.Pix, p.PixOffset(x, y), XRGB8888Model.Convert(c).(ARGB8888Color))
}

func (p *XRGB8888) Opaque() bool { return true }

func pixel(pix []uint8, i int) ARGB8888Color {
	s := pix[i : i+4 : i+4] // Small cap improves performance, see https://golang.org/issue/27857
	return bin.Value[ARGB8888Color](*(*[4]byte)(s))
}

func setPixel(pix []uint8, i int, c ARGB8888Color) {
	ca := bin.Bytes(c)
	copy(pix[i:i+4:i+4], ca[:])
}
