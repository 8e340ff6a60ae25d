// Package render contains software render pipelines for the
// compositor.
package render

import (
	"fmt"
	"image"
	"image/draw"

	"deedles.dev/wlcomp/compositor"
	"deedles.dev/wlcomp/region"
)

// wl_shm formats that textures know how to treat specially.
const (
	FormatARGB8888 uint32 = 0
	FormatXRGB8888 uint32 = 1
)

// Allocator creates textures that keep their content in main memory.
type Allocator struct {
	// MaxPixels limits the size of a single texture. Zero means no
	// limit.
	MaxPixels int
}

func (a *Allocator) CreateTexture(buf compositor.Buffer) (compositor.Texture, error) {
	size := buf.Size()
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("invalid buffer size %v", size)
	}
	if a.MaxPixels > 0 && size.X*size.Y > a.MaxPixels {
		return nil, fmt.Errorf("%vx%v texture: %w", size.X, size.Y, compositor.ErrResourceExhausted)
	}

	tex := Texture{
		img:    image.NewRGBA(image.Rectangle{Max: size}),
		format: buf.Format(),
	}
	full := region.FromRects(tex.img.Rect)
	tex.copy(buf, &full)
	return &tex, nil
}

// Texture is a copy of a buffer's pixels.
type Texture struct {
	img    *image.RGBA
	format uint32
}

func (t *Texture) Size() image.Point {
	return t.img.Rect.Size()
}

// Image returns the texture's pixels.
func (t *Texture) Image() *image.RGBA {
	return t.img
}

// Opaque reports whether the texture's alpha channel is ignored.
func (t *Texture) Opaque() bool {
	return t.format == FormatXRGB8888
}

func (t *Texture) Update(buf compositor.Buffer, damage *region.Region) error {
	if buf.Size() != t.Size() {
		return fmt.Errorf("size %v != %v: %w", buf.Size(), t.Size(), compositor.ErrIncompatible)
	}
	if buf.Format() != t.format {
		return fmt.Errorf("format %v != %v: %w", buf.Format(), t.format, compositor.ErrIncompatible)
	}

	t.copy(buf, damage)
	return nil
}

func (t *Texture) copy(buf compositor.Buffer, damage *region.Region) {
	src := buf.Image()
	for _, r := range damage.Rects() {
		r = r.Intersect(t.img.Rect)
		draw.Draw(t.img, r, src, r.Min.Add(src.Bounds().Min), draw.Src)
	}
	damage.Clear()
}

func (t *Texture) Destroy() {
	t.img = nil
}
