package compositor_test

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"testing"
	"time"

	"deedles.dev/wlcomp/compositor"
	"deedles.dev/wlcomp/region"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Duration
}

func (c *fakeClock) Now() time.Duration { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now += d }

type slotRequest struct {
	Output *compositor.Output
	Delay  time.Duration
}

type fakeBackend struct {
	requests  []slotRequest
	cancels   int
	presented int
	fbs       map[*compositor.Output]*image.RGBA

	// renderCost is added to clock when a frame is submitted, standing
	// in for the time spent drawing it.
	clock      *fakeClock
	renderCost time.Duration

	presentErr error
}

func newFakeBackend(clock *fakeClock) *fakeBackend {
	return &fakeBackend{
		fbs:   make(map[*compositor.Output]*image.RGBA),
		clock: clock,
	}
}

func (b *fakeBackend) RequestRepaintSlot(out *compositor.Output, delay time.Duration) {
	b.requests = append(b.requests, slotRequest{Output: out, Delay: delay})
}

func (b *fakeBackend) CancelRepaintSlot(out *compositor.Output) {
	b.cancels++
}

func (b *fakeBackend) Framebuffer(out *compositor.Output) (draw.Image, error) {
	m := out.Device().Mode
	fb, ok := b.fbs[out]
	if !ok || fb.Rect.Dx() != m.Width || fb.Rect.Dy() != m.Height {
		fb = image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
		b.fbs[out] = fb
	}
	return fb, nil
}

func (b *fakeBackend) Present(out *compositor.Output, fb draw.Image) error {
	if b.presentErr != nil {
		return b.presentErr
	}
	b.clock.Advance(b.renderCost)
	b.presented++
	return nil
}

func (b *fakeBackend) requestsFor(out *compositor.Output) (n int) {
	for _, r := range b.requests {
		if r.Output == out {
			n++
		}
	}
	return n
}

type fakeBuffer struct {
	img      *image.RGBA
	released int
}

func newFakeBuffer(w, h int, c color.Color) *fakeBuffer {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Rect, image.NewUniform(c), image.Point{}, draw.Src)
	return &fakeBuffer{img: img}
}

func (b *fakeBuffer) Size() image.Point  { return b.img.Rect.Size() }
func (b *fakeBuffer) Format() uint32     { return 0 }
func (b *fakeBuffer) Image() image.Image { return b.img }
func (b *fakeBuffer) Release()           { b.released++ }

// fakeAllocator hands out fakeTextures. The first fail allocations
// return ErrResourceExhausted.
type fakeAllocator struct {
	fail    int
	created []*fakeTexture
}

func (a *fakeAllocator) CreateTexture(buf compositor.Buffer) (compositor.Texture, error) {
	if a.fail > 0 {
		a.fail--
		return nil, compositor.ErrResourceExhausted
	}
	tex := &fakeTexture{size: buf.Size()}
	a.created = append(a.created, tex)
	return tex, nil
}

// fakeTexture accepts updates only from buffers of its own size and
// consumes the damage that it is given.
type fakeTexture struct {
	size      image.Point
	updates   []region.Region
	destroyed bool
}

func (t *fakeTexture) Size() image.Point { return t.size }

func (t *fakeTexture) Update(buf compositor.Buffer, damage *region.Region) error {
	if buf.Size() != t.size {
		return fmt.Errorf("%v != %v: %w", buf.Size(), t.size, compositor.ErrIncompatible)
	}
	t.updates = append(t.updates, damage.Clone())
	damage.Clear()
	return nil
}

func (t *fakeTexture) Destroy() { t.destroyed = true }

// recordingPipeline remembers the frames it was asked to draw and marks
// every view as done.
type recordingPipeline struct {
	plane  compositor.Plane
	claim  func(*compositor.Surface) bool
	frames []compositor.Frame
	err    error
}

func (p *recordingPipeline) Plane() *compositor.Plane { return &p.plane }

func (p *recordingPipeline) Claim(s *compositor.Surface) bool {
	return p.claim != nil && p.claim(s)
}

func (p *recordingPipeline) RepaintOutput(f *compositor.Frame) error {
	if p.err != nil {
		return p.err
	}

	frame := *f
	frame.Damage = f.Damage.Clone()
	frame.Views = append([]*compositor.Surface(nil), f.Views...)
	p.frames = append(p.frames, frame)

	for _, s := range f.Views {
		if s.Plane() == p.Plane() {
			f.Done(s)
		}
	}
	return nil
}

func (p *recordingPipeline) Destroy() {}

func (p *recordingPipeline) last(t *testing.T) *compositor.Frame {
	t.Helper()
	require.NotEmpty(t, p.frames)
	return &p.frames[len(p.frames)-1]
}

type harness struct {
	clock    *fakeClock
	backend  *fakeBackend
	pipeline *recordingPipeline
	ctx      *compositor.Context
}

func newHarness(t *testing.T, opts ...compositor.Option) *harness {
	clock := &fakeClock{now: time.Second}
	h := harness{
		clock:    clock,
		backend:  newFakeBackend(clock),
		pipeline: &recordingPipeline{},
	}
	opts = append([]compositor.Option{compositor.WithClock(h.clock)}, opts...)
	h.ctx = compositor.New(h.backend, opts...)
	h.ctx.AddPipeline(h.pipeline)
	t.Cleanup(h.ctx.Close)
	return &h
}

func (h *harness) addOutput(t *testing.T, name string, pos image.Point, w, height int) *compositor.Output {
	t.Helper()
	out, err := h.ctx.AddOutput(compositor.Device{
		Name:     name,
		Position: pos,
		Mode:     compositor.Mode{Width: w, Height: height, Refresh: 60000},
		Scale:    1,
		Enabled:  true,
	})
	require.NoError(t, err)
	return out
}

// cycle runs a full repaint and presentation of out, leaving it clean
// unless something new was damaged in the meantime.
func (h *harness) cycle(t *testing.T, out *compositor.Output) {
	t.Helper()
	require.NoError(t, h.ctx.Repaint(out, 1))
	h.clock.Advance(2 * time.Millisecond)
	h.ctx.OnPresented(out, h.clock.Now())
}

func (h *harness) mappedSurface(t *testing.T, pos image.Point, w, height int) (*compositor.Surface, *fakeBuffer) {
	t.Helper()
	s := h.ctx.CreateSurface()
	h.ctx.Map(s, compositor.LayerNormal, pos)
	buf := newFakeBuffer(w, height, color.White)
	s.Attach(buf, 0, 0)
	require.NoError(t, s.Damage(0, 0, w, height))
	s.Commit()
	return s, buf
}

var errBroken = errors.New("broken")
