package render

import (
	"fmt"
	"image"
	"image/draw"

	"deedles.dev/wlcomp/compositor"
	"deedles.dev/wlcomp/geom"
	"deedles.dev/ximage/xcursor"
	"github.com/gogpu/gg"
	xdraw "golang.org/x/image/draw"
)

// DefaultCursor is the name of the theme cursor drawn when no client
// has set a cursor surface.
const DefaultCursor = "left_ptr"

// Cursor draws surfaces with the cursor role, and a default cursor
// image, on top of everything else.
type Cursor struct {
	ctx   *compositor.Context
	plane compositor.Plane

	img     *image.RGBA
	hot     image.Point
	pos     image.Point
	visible bool
}

// NewCursor creates a cursor pipeline that uses the named xcursor
// theme. An empty theme name selects the default theme. If the theme
// can't be loaded, a plain arrow is drawn instead.
func NewCursor(ctx *compositor.Context, theme string, size int) *Cursor {
	c := Cursor{
		ctx:     ctx,
		visible: true,
	}

	img, hot, err := loadCursor(theme, DefaultCursor, size)
	if err != nil {
		ctx.Logger().Warn("falling back to built-in cursor", "theme", theme, "err", err)
		img, hot, err = drawArrow(size)
		if err != nil {
			ctx.Logger().Error("draw fallback cursor", "err", err)
			img = image.NewRGBA(image.Rectangle{})
		}
	}
	c.img, c.hot = img, hot

	return &c
}

func loadCursor(theme, name string, size int) (*image.RGBA, image.Point, error) {
	t, err := xcursor.LoadTheme(theme)
	if err != nil {
		return nil, image.Point{}, fmt.Errorf("load theme: %w", err)
	}

	cursors, ok := t.Cursors[name]
	if !ok {
		return nil, image.Point{}, fmt.Errorf("no %q cursor in theme", name)
	}
	cimg := cursors.Images[cursors.BestSize(size)][0]

	src := cimg.Image
	img := image.NewRGBA(image.Rectangle{Max: src.Bounds().Size()})
	draw.Draw(img, img.Rect, src, src.Bounds().Min, draw.Src)
	return img, cimg.Hot, nil
}

func drawArrow(size int) (*image.RGBA, image.Point, error) {
	if size <= 0 {
		size = 24
	}
	s := float64(size)

	dc := gg.NewContext(size, size)
	defer dc.Close()

	path := func() {
		dc.MoveTo(1, 1)
		dc.LineTo(1, s*0.8)
		dc.LineTo(s*0.24, s*0.62)
		dc.LineTo(s*0.56, s*0.6)
		dc.ClosePath()
	}

	path()
	dc.SetRGBA(1, 1, 1, 1)
	err := dc.Fill()
	if err != nil {
		return nil, image.Point{}, err
	}

	path()
	dc.SetRGBA(0, 0, 0, 1)
	dc.SetLineWidth(1)
	err = dc.Stroke()
	if err != nil {
		return nil, image.Point{}, err
	}

	src := dc.Image()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Rect, src, src.Bounds().Min, draw.Src)
	return img, image.Pt(1, 1), nil
}

func (c *Cursor) Plane() *compositor.Plane { return &c.plane }

func (c *Cursor) Claim(s *compositor.Surface) bool {
	return s.Role() == compositor.RoleCursor
}

// Box returns the global area covered by the default cursor image.
func (c *Cursor) Box() image.Rectangle {
	return c.img.Rect.Add(c.pos.Sub(c.hot))
}

// Position returns the position of the cursor's hotspot.
func (c *Cursor) Position() image.Point { return c.pos }

// SetPosition moves the default cursor image so that its hotspot is at
// p.
func (c *Cursor) SetPosition(p image.Point) {
	if p == c.pos {
		return
	}
	if c.visible {
		c.ctx.DamagePlane(&c.plane, c.Box())
	}
	c.pos = p
	if c.visible {
		c.ctx.DamagePlane(&c.plane, c.Box())
	}
}

// SetVisible shows or hides the default cursor image. Cursor surfaces
// are drawn either way.
func (c *Cursor) SetVisible(visible bool) {
	if visible == c.visible {
		return
	}
	c.visible = visible
	c.ctx.DamagePlane(&c.plane, c.Box())
}

func (c *Cursor) RepaintOutput(f *compositor.Frame) error {
	for i := len(f.Views) - 1; i >= 0; i-- {
		s := f.Views[i]
		if s.Plane() != &c.plane {
			continue
		}
		if drawSurface(f, s, xdraw.NearestNeighbor) {
			f.Done(s)
		}
	}

	if !c.visible {
		return nil
	}

	m := f.Output.ViewMatrix()
	box := m.ApplyRect(c.Box())
	damage := f.DeviceDamage()
	damage.IntersectRect(box)
	for _, r := range damage.Rects() {
		if m.IsIntegerTranslation() {
			draw.Draw(f.Target, r, c.img, r.Min.Sub(box.Min), draw.Over)
			continue
		}

		min := c.Box().Min
		cm := m.Mul(geom.Translate(float64(min.X), float64(min.Y)))
		xdraw.NearestNeighbor.Transform(clip(f.Target, r), cm.Aff3(), c.img, c.img.Rect, draw.Over, nil)
	}
	return nil
}

func (c *Cursor) Destroy() {}
