package render

import (
	"image"
	"image/color"
	"image/draw"

	"deedles.dev/wlcomp/compositor"
	xdraw "golang.org/x/image/draw"
)

// Basic draws textured surfaces over a solid background. It should be
// the first pipeline registered with a Context, as it also draws every
// surface that no other pipeline claims.
type Basic struct {
	plane      compositor.Plane
	background image.Image
	scaler     xdraw.Transformer
}

type BasicOption func(*Basic)

// WithBackground sets the color drawn behind every surface.
func WithBackground(c color.Color) BasicOption {
	return func(b *Basic) { b.background = image.NewUniform(c) }
}

// WithScaler sets the interpolator used for surfaces that aren't drawn
// at their native size.
func WithScaler(s xdraw.Transformer) BasicOption {
	return func(b *Basic) { b.scaler = s }
}

func NewBasic(opts ...BasicOption) *Basic {
	b := Basic{
		background: image.NewUniform(color.RGBA{0x20, 0x20, 0x28, 0xff}),
		scaler:     xdraw.ApproxBiLinear,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return &b
}

func (b *Basic) Plane() *compositor.Plane { return &b.plane }

func (b *Basic) Claim(s *compositor.Surface) bool { return false }

func (b *Basic) RepaintOutput(f *compositor.Frame) error {
	damage := f.DeviceDamage()
	if damage.Empty() {
		return nil
	}

	for _, r := range damage.Rects() {
		draw.Draw(f.Target, r, b.background, image.Point{}, draw.Src)
	}

	for i := len(f.Views) - 1; i >= 0; i-- {
		s := f.Views[i]
		if s.Plane() != &b.plane {
			continue
		}

		if drawSurface(f, s, b.scaler) {
			f.Done(s)
		}
	}
	return nil
}

func (b *Basic) Destroy() {}

// drawSurface draws the texture of s into the damaged parts of the
// frame. It reports whether anything was drawn.
func drawSurface(f *compositor.Frame, s *compositor.Surface, scaler xdraw.Transformer) bool {
	tex, ok := s.Texture().(*Texture)
	if !ok || tex.img == nil {
		return false
	}

	box := f.DeviceBox(s)
	if box.Empty() {
		return false
	}

	op := draw.Over
	if tex.Opaque() {
		op = draw.Src
	}

	m := f.Output.ViewMatrix().Mul(s.Geometry().Transform)
	damage := f.DeviceDamage()
	damage.IntersectRect(box)
	for _, r := range damage.Rects() {
		if m.IsIntegerTranslation() {
			sp := r.Min.Sub(image.Pt(int(m[2]), int(m[5])))
			draw.Draw(f.Target, r, tex.img, sp, op)
			continue
		}
		scaler.Transform(clip(f.Target, r), m.Aff3(), tex.img, tex.img.Rect, op, nil)
	}
	return true
}

// clippedImage limits drawing to part of an image.
type clippedImage struct {
	draw.Image
	bounds image.Rectangle
}

func clip(img draw.Image, r image.Rectangle) draw.Image {
	return clippedImage{Image: img, bounds: r.Intersect(img.Bounds())}
}

func (img clippedImage) Bounds() image.Rectangle {
	return img.bounds
}
