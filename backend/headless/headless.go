// Package headless is a backend that draws into memory. Repaint slots
// are driven by timers and presentation is reported at simulated
// vblanks derived from each output's refresh rate.
package headless

import (
	"fmt"
	"image"
	"image/draw"
	"time"

	"deedles.dev/wlcomp/compositor"
	"deedles.dev/ximage"
)

// DefaultSwapchain is the number of framebuffers per output.
const DefaultSwapchain = 2

// unknownAge is reported for framebuffers whose content is older than
// any damage that the compositor keeps.
const unknownAge = 3

type framebuffer struct {
	img *ximage.FormatImage

	// age is the number of frames since the framebuffer was presented,
	// or 0 if it never was.
	age int
}

type output struct {
	out       *compositor.Output
	chain     []*framebuffer
	next      int
	swapchain int

	slot    *time.Timer
	slotGen uint64
	vblank  *time.Timer

	last image.Image
	err  error
}

// Backend implements compositor.Backend without any display hardware.
// All of its methods must be called on the reactor's goroutine.
type Backend struct {
	reactor   *compositor.Reactor
	clock     compositor.Clock
	swapchain int
	outputs   map[*compositor.Output]*output
}

type Option func(*Backend)

// WithClock sets the clock used to timestamp presentation. It should
// be the same clock that the Context uses.
func WithClock(clock compositor.Clock) Option {
	return func(b *Backend) { b.clock = clock }
}

// WithSwapchain sets the number of framebuffers allocated per output.
func WithSwapchain(n int) Option {
	return func(b *Backend) { b.swapchain = max(n, 1) }
}

func New(opts ...Option) *Backend {
	b := Backend{
		clock:     compositor.MonotonicClock{},
		swapchain: DefaultSwapchain,
		outputs:   make(map[*compositor.Output]*output),
	}
	for _, opt := range opts {
		opt(&b)
	}
	return &b
}

// Bind connects the backend to the reactor that its events are posted
// to. It must be called before the first output is repainted.
func (b *Backend) Bind(reactor *compositor.Reactor) {
	b.reactor = reactor
}

func (b *Backend) output(out *compositor.Output) *output {
	o, ok := b.outputs[out]
	if ok {
		return o
	}

	o = &output{out: out}
	b.outputs[out] = o
	out.OnDestroy.Subscribe(func(*compositor.Output) {
		o.stop()
		delete(b.outputs, out)
	})
	return o
}

func (o *output) stop() {
	o.slotGen++
	if o.slot != nil {
		o.slot.Stop()
		o.slot = nil
	}
	if o.vblank != nil {
		o.vblank.Stop()
		o.vblank = nil
	}
}

func (b *Backend) RequestRepaintSlot(out *compositor.Output, delay time.Duration) {
	o := b.output(out)
	if o.slot != nil {
		o.slot.Stop()
	}

	o.slotGen++
	gen := o.slotGen
	o.slot = time.AfterFunc(delay, func() {
		b.reactor.Post(compositor.FuncEvent(func() error {
			if o.slotGen != gen {
				return nil
			}
			o.slot = nil
			return b.reactor.Context().Repaint(out, b.BufferAge(out))
		}))
	})
}

func (b *Backend) CancelRepaintSlot(out *compositor.Output) {
	o := b.output(out)
	o.slotGen++
	if o.slot != nil {
		o.slot.Stop()
		o.slot = nil
	}
}

// BufferAge returns the age of the framebuffer that the next repaint of
// out will draw into.
func (b *Backend) BufferAge(out *compositor.Output) int {
	o := b.output(out)
	b.allocate(o)
	fb := o.chain[o.next]
	if fb.age == 0 {
		return unknownAge
	}
	return fb.age
}

func (b *Backend) allocate(o *output) {
	m := o.out.Device().Mode
	rect := image.Rect(0, 0, m.Width, m.Height)
	n := b.swapchain
	if o.swapchain > 0 {
		n = o.swapchain
	}
	if len(o.chain) == n && o.chain[0].img.Rect == rect {
		return
	}

	o.chain = make([]*framebuffer, n)
	for i := range o.chain {
		o.chain[i] = &framebuffer{
			img: &ximage.FormatImage{
				Format: ximage.ARGB8888,
				Rect:   rect,
				Pix:    make([]byte, 4*rect.Dx()*rect.Dy()),
			},
		}
	}
	o.next = 0
}

func (b *Backend) Framebuffer(out *compositor.Output) (draw.Image, error) {
	o := b.output(out)
	if o.err != nil {
		return nil, o.err
	}

	b.allocate(o)
	return o.chain[o.next].img, nil
}

func (b *Backend) Present(out *compositor.Output, fb draw.Image) error {
	o := b.output(out)
	if o.err != nil {
		return o.err
	}

	cur := o.chain[o.next]
	if cur.img != fb {
		return fmt.Errorf("present %v: not the current framebuffer", out.Name())
	}
	for _, f := range o.chain {
		if f.age > 0 {
			f.age++
		}
	}
	cur.age = 1
	o.last = cur.img
	o.next = (o.next + 1) % len(o.chain)

	now := b.clock.Now()
	interval := out.Device().Mode.RefreshInterval()
	vblank := (now/interval + 1) * interval
	o.vblank = time.AfterFunc(vblank-now, func() {
		b.reactor.Post(compositor.PresentedEvent{Output: out, Time: vblank})
	})
	return nil
}

// Frame returns a copy of the last frame presented on out, or nil if
// nothing has been presented yet.
func (b *Backend) Frame(out *compositor.Output) image.Image {
	o := b.output(out)
	if o.last == nil {
		return nil
	}

	img := image.NewRGBA(o.last.Bounds())
	draw.Draw(img, img.Rect, o.last, img.Rect.Min, draw.Src)
	return img
}

// SetSwapchain overrides the number of framebuffers used for out. A
// value of 0 restores the default. The framebuffers are reallocated
// before the next repaint.
func (b *Backend) SetSwapchain(out *compositor.Output, n int) {
	b.output(out).swapchain = max(n, 0)
}

// Fail makes every further repaint of out fail with an error wrapping
// compositor.ErrDeviceLost, until the device is reset with SetDevice.
func (b *Backend) Fail(out *compositor.Output) {
	b.output(out).err = fmt.Errorf("headless output %v: %w", out.Name(), compositor.ErrDeviceLost)
}

// SetDevice changes the device of out, such as for a mode change. It
// is safe to call from any goroutine.
func (b *Backend) SetDevice(out *compositor.Output, dev compositor.Device) {
	b.reactor.Post(compositor.FuncEvent(func() error {
		if o, ok := b.outputs[out]; ok {
			o.err = nil
		}
		return b.reactor.Context().Dispatch(compositor.ModeChangedEvent{Output: out, Device: dev})
	}))
}

// RemoveOutput simulates the device of out being unplugged. It is safe
// to call from any goroutine.
func (b *Backend) RemoveOutput(out *compositor.Output) {
	b.reactor.Post(compositor.DeviceRemovedEvent{Output: out})
}

// ResetClock simulates a jump in the presentation clock of out. It is
// safe to call from any goroutine.
func (b *Backend) ResetClock(out *compositor.Output) {
	b.reactor.Post(compositor.ClockResetEvent{Output: out})
}
