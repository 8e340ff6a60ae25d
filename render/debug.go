package render

import (
	"image"
	"image/draw"
	"slices"

	"deedles.dev/wlcomp/compositor"
	"github.com/gogpu/gg"
)

// Debug outlines every visible surface and the area that each frame
// redraws. It claims no surfaces and should be registered after the
// pipelines that do the actual drawing.
type Debug struct {
	ctx   *compositor.Context
	plane compositor.Plane

	// boxes holds the outlined boxes of the last frame per output, in
	// global coordinates.
	boxes map[*compositor.Output][]image.Rectangle
}

func NewDebug(ctx *compositor.Context) *Debug {
	return &Debug{
		ctx:   ctx,
		boxes: make(map[*compositor.Output][]image.Rectangle),
	}
}

func (d *Debug) Plane() *compositor.Plane { return &d.plane }

func (d *Debug) Claim(s *compositor.Surface) bool { return false }

func (d *Debug) RepaintOutput(f *compositor.Frame) error {
	boxes := make([]image.Rectangle, 0, len(f.Views))
	for _, s := range f.Views {
		boxes = append(boxes, s.Geometry().Box)
	}

	old, ok := d.boxes[f.Output]
	if !ok {
		f.Output.OnDestroy.Subscribe(func(out *compositor.Output) { delete(d.boxes, out) })
	}
	if !ok || !slices.Equal(old, boxes) {
		d.boxes[f.Output] = boxes
		for _, r := range old {
			d.ctx.DamagePlane(&d.plane, outline(r))
		}
		for _, r := range boxes {
			d.ctx.DamagePlane(&d.plane, outline(r))
		}
	}

	damage := f.DeviceDamage()
	if damage.Empty() {
		return nil
	}

	size := f.Target.Bounds().Size()
	dc := gg.NewContext(size.X, size.Y)
	defer dc.Close()

	dc.SetLineWidth(1)
	dc.SetRGBA(1, 0, 1, 0.8)
	view := f.Output.ViewMatrix()
	for _, r := range boxes {
		r = view.ApplyRect(r)
		dc.DrawRectangle(float64(r.Min.X)+0.5, float64(r.Min.Y)+0.5, float64(r.Dx()-1), float64(r.Dy()-1))
	}
	err := dc.Stroke()
	if err != nil {
		return err
	}

	dc.SetRGBA(0, 1, 0, 0.3)
	for _, r := range damage.Rects() {
		dc.DrawRectangle(float64(r.Min.X)+0.5, float64(r.Min.Y)+0.5, float64(r.Dx()-1), float64(r.Dy()-1))
	}
	err = dc.Stroke()
	if err != nil {
		return err
	}

	overlay := dc.Image()
	for _, r := range damage.Rects() {
		draw.Draw(f.Target, r, overlay, r.Min.Sub(f.Target.Bounds().Min), draw.Over)
	}
	return nil
}

func (d *Debug) Destroy() {
	clear(d.boxes)
}

// outline returns the area that the outline drawn for r may touch.
func outline(r image.Rectangle) image.Rectangle {
	return r.Inset(-1)
}
