// Package compositor implements the core of a Wayland compositor:
// surface state and commits, damage tracking, and paced repainting of
// outputs.
//
// A Context is not safe for concurrent use. Everything that touches it
// should happen on a single goroutine, usually one running a Reactor.
package compositor

import (
	"context"
	"image"
	"image/draw"
	"log/slog"
	"math/bits"
	"slices"
	"time"

	"deedles.dev/wlcomp/internal/ev"
)

// Backend drives the outputs of a Context.
type Backend interface {
	// RequestRepaintSlot asks the backend to send a RepaintEvent for out
	// after delay has passed. A delay of zero means as soon as possible.
	RequestRepaintSlot(out *Output, delay time.Duration)

	// CancelRepaintSlot cancels a requested slot that hasn't fired yet.
	CancelRepaintSlot(out *Output)

	// Framebuffer returns the image to draw the next frame of out into.
	Framebuffer(out *Output) (draw.Image, error)

	// Present hands a finished frame to the display. The backend sends
	// a PresentedEvent once it has been shown.
	Present(out *Output, fb draw.Image) error
}

// Layer is a group of top-level surfaces that are stacked together.
// Higher layers are drawn in front of lower ones.
type Layer int

const (
	LayerBackground Layer = iota
	LayerBottom
	LayerNormal
	LayerTop
	LayerOverlay
	layerCount
)

func (l Layer) String() string {
	switch l {
	case LayerBackground:
		return "background"
	case LayerBottom:
		return "bottom"
	case LayerNormal:
		return "normal"
	case LayerTop:
		return "top"
	case LayerOverlay:
		return "overlay"
	default:
		return "unknown"
	}
}

// DefaultSafetyMargin is added to the predicted frame cost when
// deciding when to start a repaint.
const DefaultSafetyMargin = 2 * time.Millisecond

// Context holds the entire state of the compositor.
type Context struct {
	backend   Backend
	clock     Clock
	allocator TextureAllocator
	logger    *slog.Logger
	margin    time.Duration

	queue       []Event
	dispatching bool

	surfaces map[*Surface]struct{}
	nextID   uint64
	layers   [layerCount][]*Surface
	views    []*Surface

	outputs []*Output
	ids     uint32

	pipelines []Pipeline
	mainPlane Plane

	OnCommit      ev.Signal[*Surface]
	OnOutputAdded ev.Signal[*Output]
}

type Option func(*Context)

func WithClock(clock Clock) Option {
	return func(c *Context) { c.clock = clock }
}

func WithAllocator(allocator TextureAllocator) Option {
	return func(c *Context) { c.allocator = allocator }
}

// WithLogger sets the logger used for warnings about failed
// allocations and repaints. By default nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Context) { c.logger = logger }
}

// WithSafetyMargin sets the time that a repaint is started before it is
// predicted to be needed, in addition to the expected frame cost.
func WithSafetyMargin(margin time.Duration) Option {
	return func(c *Context) { c.margin = margin }
}

func New(backend Backend, opts ...Option) *Context {
	c := Context{
		backend:   backend,
		clock:     MonotonicClock{},
		allocator: nopAllocator{},
		logger:    slog.New(nopHandler{}),
		margin:    DefaultSafetyMargin,
		surfaces:  make(map[*Surface]struct{}),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

func (c *Context) Clock() Clock { return c.clock }

func (c *Context) Logger() *slog.Logger { return c.logger }

// CreateSurface creates a new, unmapped surface without a role.
func (c *Context) CreateSurface() *Surface {
	c.nextID++
	s := newSurface(c, c.nextID)
	c.surfaces[s] = struct{}{}
	return s
}

func (c *Context) removeSurface(s *Surface) {
	delete(c.surfaces, s)
	c.views = slices.DeleteFunc(c.views, func(v *Surface) bool { return v == s })
}

// Map places a top-level surface at pos in the given layer, in front of
// the other surfaces of that layer.
func (c *Context) Map(s *Surface, layer Layer, pos image.Point) {
	if s.sub != nil || s.destroyed {
		return
	}

	c.batch(func() {
		if s.mapped {
			c.unmap(s)
		}
		s.mapped = true
		s.layer = layer
		s.base = pos
		c.layers[layer] = append(c.layers[layer], s)
		s.relayout()
	})
}

// Unmap removes a top-level surface from the scene.
func (c *Context) Unmap(s *Surface) {
	if !s.mapped {
		return
	}
	c.batch(func() { c.unmap(s) })
}

func (c *Context) unmap(s *Surface) {
	c.layers[s.layer] = slices.DeleteFunc(c.layers[s.layer], func(v *Surface) bool { return v == s })
	s.mapped = false
	s.relayout()
}

// Move changes the global position of a mapped top-level surface.
func (c *Context) Move(s *Surface, pos image.Point) {
	if s.sub != nil || s.base == pos {
		return
	}
	c.batch(func() {
		s.base = pos
		s.relayout()
	})
}

// Raise moves a mapped surface in front of the others in its layer.
func (c *Context) Raise(s *Surface) {
	if !s.mapped {
		return
	}
	c.batch(func() {
		l := c.layers[s.layer]
		l = slices.DeleteFunc(l, func(v *Surface) bool { return v == s })
		c.layers[s.layer] = append(l, s)
		s.damageTree()
	})
}

// Damage marks an area of the global coordinate space as needing to be
// redrawn.
func (c *Context) Damage(r image.Rectangle) {
	c.batch(func() { c.damage(r) })
}

func (c *Context) damage(r image.Rectangle) {
	c.DamagePlane(&c.mainPlane, r)
}

// DamagePlane adds damage to a plane and marks the outputs that it
// touches as dirty.
func (c *Context) DamagePlane(p *Plane, r image.Rectangle) {
	if r.Empty() {
		return
	}
	p.AddDamage(r)
	for _, out := range c.outputs {
		if out.box.Overlaps(r) {
			c.MarkDirty(out)
		}
	}
}

func (c *Context) surfaceDirty(s *Surface) {
	if s.destroyed {
		return
	}
	if !s.visible() {
		s.geo.Dirty.Clear()
		return
	}

	ext := s.geo.Dirty.Extents()
	for _, out := range c.outputs {
		if out.box.Overlaps(ext) {
			c.MarkDirty(out)
		}
	}
	s.OnDirty.Emit(s)
}

// updateSurfaceOutputs recomputes which outputs s is displayed on.
func (c *Context) updateSurfaceOutputs(s *Surface) {
	var mask uint32
	for _, out := range c.outputs {
		if out.dev.Enabled && s.geo.Box.Overlaps(out.box) {
			mask |= out.bit()
		}
	}

	old := s.outputs
	s.outputs = mask
	for _, out := range c.outputs {
		switch b := out.bit(); {
		case mask&b != 0 && old&b == 0:
			s.OnEnter.Emit(out)
		case mask&b == 0 && old&b != 0:
			s.OnLeave.Emit(out)
		}
	}
}

// Outputs returns the outputs in the order that they were added.
func (c *Context) Outputs() []*Output {
	return slices.Clone(c.outputs)
}

// AddOutput creates an output for a device. The output is fully damaged
// and scheduled for a repaint if it is enabled.
func (c *Context) AddOutput(dev Device) (*Output, error) {
	free := ^c.ids
	if free == 0 {
		return nil, ErrTooManyOutputs
	}
	id := bits.TrailingZeros32(free)
	c.ids |= 1 << id

	out := newOutput(c, id, dev)
	c.outputs = append(c.outputs, out)
	c.batch(func() {
		c.OnOutputAdded.Emit(out)
		for s := range c.surfaces {
			c.updateSurfaceOutputs(s)
		}
		c.MarkDirty(out)
	})
	return out, nil
}

// SetDevice changes the device of out, such as after a mode change. It
// also clears a pending reset.
func (c *Context) SetDevice(out *Output, dev Device) {
	c.batch(func() { c.setDevice(out, dev) })
}

func (c *Context) setDevice(out *Output, dev Device) {
	if out.destroyed {
		return
	}

	old := out.box
	out.setDevice(dev)
	if !dev.Enabled && out.state&StateScheduled != 0 {
		c.backend.CancelRepaintSlot(out)
		out.state &^= StateScheduled
	}
	if old != out.box {
		c.damage(old)
	}
	for s := range c.surfaces {
		c.updateSurfaceOutputs(s)
	}
	out.OnDeviceChanged.Emit(out)
	c.MarkDirty(out)
}

// RemoveOutput destroys an output.
func (c *Context) RemoveOutput(out *Output) {
	c.batch(func() { c.removeOutput(out) })
}

func (c *Context) removeOutput(out *Output) {
	if out.destroyed {
		return
	}

	if out.state&StateScheduled != 0 {
		c.backend.CancelRepaintSlot(out)
	}
	out.state = 0
	out.destroyed = true
	c.outputs = slices.DeleteFunc(c.outputs, func(o *Output) bool { return o == out })

	for s := range c.surfaces {
		if s.outputs&out.bit() != 0 {
			s.outputs &^= out.bit()
			s.OnLeave.Emit(out)
		}
	}
	c.ids &^= out.bit()

	out.OnDestroy.Emit(out)
	out.OnDestroy.Clear()
	out.OnPresented.Clear()
	out.OnNeedsReset.Clear()
	out.OnDeviceChanged.Clear()
}

// AddPipeline registers a render pipeline. Pipelines are run in the
// order in which they were added.
func (c *Context) AddPipeline(p Pipeline) {
	c.pipelines = append(c.pipelines, p)
}

// RemovePipeline unregisters and destroys a render pipeline.
func (c *Context) RemovePipeline(p Pipeline) {
	i := slices.Index(c.pipelines, p)
	if i < 0 {
		return
	}
	c.pipelines = slices.Delete(c.pipelines, i, i+1)

	plane := p.Plane()
	rects := slices.Clone(plane.damage.Rects())
	plane.Reset()
	c.batch(func() {
		for _, r := range rects {
			c.damage(r)
		}
	})
	p.Destroy()
}

// Close destroys every pipeline and surface.
func (c *Context) Close() {
	for s := range c.surfaces {
		s.Destroy()
	}
	for _, p := range c.pipelines {
		p.Destroy()
	}
	c.pipelines = nil
}

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h nopHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h nopHandler) WithGroup(string) slog.Handler           { return h }
