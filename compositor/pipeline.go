package compositor

import (
	"image"
	"image/draw"

	"deedles.dev/wlcomp/region"
)

// Pipeline draws some or all of the visible surfaces into an output's
// framebuffer.
type Pipeline interface {
	// Plane returns the plane that collects damage for the surfaces
	// that the pipeline draws.
	Plane() *Plane

	// Claim reports whether the pipeline draws s. A surface is drawn by
	// the first registered pipeline that claims it. Surfaces that no
	// pipeline claims are drawn by the first pipeline.
	Claim(s *Surface) bool

	// RepaintOutput draws a frame. Pipelines are called in registration
	// order with the same Frame.
	RepaintOutput(f *Frame) error

	Destroy()
}

// Frame is a single repaint of an output.
type Frame struct {
	Output    *Output
	BufferAge int

	// Damage is the area, in output-local coordinates, that has to be
	// redrawn.
	Damage region.Region

	Target draw.Image

	// Views are the surfaces visible on the output, front-most first.
	Views []*Surface

	// Time is the time that the repaint started at.
	Time uint32
}

// DeviceDamage returns the frame's damage in device pixels.
func (f *Frame) DeviceDamage() region.Region {
	m := f.Output.LocalMatrix()
	var d region.Region
	for _, r := range f.Damage.Rects() {
		d.Add(m.ApplyRect(r))
	}
	d.IntersectRect(f.Target.Bounds())
	return d
}

// Done reports to s's client that its content has been drawn.
func (f *Frame) Done(s *Surface) {
	s.frameDone(f.Time)
}

// DeviceBox returns the area of the framebuffer covered by s.
func (f *Frame) DeviceBox(s *Surface) image.Rectangle {
	return f.Output.view.ApplyRect(s.geo.Box).Intersect(f.Target.Bounds())
}
