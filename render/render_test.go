package render_test

import (
	"image"
	"image/color"
	"image/draw"
	"testing"
	"time"

	"deedles.dev/wlcomp/compositor"
	"deedles.dev/wlcomp/region"
	"deedles.dev/wlcomp/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	red  = color.RGBA{0xff, 0, 0, 0xff}
	blue = color.RGBA{0, 0, 0xff, 0xff}
	bg   = color.RGBA{0x10, 0x10, 0x10, 0xff}
)

type clock struct{ now time.Duration }

func (c *clock) Now() time.Duration { return c.now }

type backend struct {
	fbs map[*compositor.Output]*image.RGBA
}

func (b *backend) RequestRepaintSlot(*compositor.Output, time.Duration) {}

func (b *backend) CancelRepaintSlot(*compositor.Output) {}

func (b *backend) Framebuffer(out *compositor.Output) (draw.Image, error) {
	fb, ok := b.fbs[out]
	if !ok {
		m := out.Device().Mode
		fb = image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
		b.fbs[out] = fb
	}
	return fb, nil
}

func (b *backend) Present(*compositor.Output, draw.Image) error { return nil }

type buffer struct {
	img    *image.RGBA
	format uint32
}

func newBuffer(w, h int, c color.Color) *buffer {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Rect, image.NewUniform(c), image.Point{}, draw.Src)
	return &buffer{img: img}
}

func (b *buffer) Size() image.Point  { return b.img.Rect.Size() }
func (b *buffer) Format() uint32     { return b.format }
func (b *buffer) Image() image.Image { return b.img }
func (b *buffer) Release()           {}

type scene struct {
	clock   *clock
	backend *backend
	ctx     *compositor.Context
	out     *compositor.Output
}

func newScene(t *testing.T, pipelines ...compositor.Pipeline) *scene {
	t.Helper()
	s := scene{
		clock:   &clock{now: time.Second},
		backend: &backend{fbs: make(map[*compositor.Output]*image.RGBA)},
	}
	s.ctx = compositor.New(
		s.backend,
		compositor.WithClock(s.clock),
		compositor.WithAllocator(&render.Allocator{}),
	)
	t.Cleanup(s.ctx.Close)
	for _, p := range pipelines {
		s.ctx.AddPipeline(p)
	}

	out, err := s.ctx.AddOutput(compositor.Device{
		Name:    "test",
		Mode:    compositor.Mode{Width: 100, Height: 100, Refresh: 60000},
		Scale:   1,
		Enabled: true,
	})
	require.NoError(t, err)
	s.out = out
	return &s
}

func (s *scene) surface(t *testing.T, pos image.Point, buf *buffer) *compositor.Surface {
	t.Helper()
	surface := s.ctx.CreateSurface()
	s.ctx.Map(surface, compositor.LayerNormal, pos)
	surface.Attach(buf, 0, 0)
	size := buf.Size()
	require.NoError(t, surface.Damage(0, 0, size.X, size.Y))
	surface.Commit()
	return surface
}

func (s *scene) repaint(t *testing.T) *image.RGBA {
	t.Helper()
	return s.repaintAge(t, 1)
}

func (s *scene) repaintAge(t *testing.T, age int) *image.RGBA {
	t.Helper()
	require.NoError(t, s.ctx.Repaint(s.out, age))
	s.clock.now += 2 * time.Millisecond
	s.ctx.OnPresented(s.out, s.clock.now)
	return s.backend.fbs[s.out]
}

func rgba(img *image.RGBA, x, y int) color.RGBA {
	return img.RGBAAt(x, y)
}

func TestAllocator(t *testing.T) {
	a := render.Allocator{MaxPixels: 100}

	_, err := a.CreateTexture(newBuffer(20, 20, red))
	assert.ErrorIs(t, err, compositor.ErrResourceExhausted)

	buf := newBuffer(10, 10, red)
	tex, err := a.CreateTexture(buf)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(10, 10), tex.Size())
	assert.Equal(t, red, rgba(tex.(*render.Texture).Image(), 5, 5))

	draw.Draw(buf.img, buf.img.Rect, image.NewUniform(blue), image.Point{}, draw.Src)
	damage := region.FromRects(image.Rect(0, 0, 2, 2))
	require.NoError(t, tex.Update(buf, &damage))
	assert.True(t, damage.Empty(), "uploaded damage is consumed")
	img := tex.(*render.Texture).Image()
	assert.Equal(t, blue, rgba(img, 1, 1))
	assert.Equal(t, red, rgba(img, 5, 5), "only damaged pixels are uploaded")

	full := region.FromRects(image.Rect(0, 0, 20, 20))
	assert.ErrorIs(t, tex.Update(newBuffer(20, 20, red), &full), compositor.ErrIncompatible)

	xrgb := newBuffer(10, 10, red)
	xrgb.format = render.FormatXRGB8888
	full = region.FromRects(image.Rect(0, 0, 10, 10))
	assert.ErrorIs(t, tex.Update(xrgb, &full), compositor.ErrIncompatible)
}

func TestTextureOpaque(t *testing.T) {
	var a render.Allocator
	buf := newBuffer(4, 4, red)
	buf.format = render.FormatXRGB8888
	tex, err := a.CreateTexture(buf)
	require.NoError(t, err)
	assert.True(t, tex.(*render.Texture).Opaque())
}

func TestBasicDrawsSurfaces(t *testing.T) {
	s := newScene(t, render.NewBasic(render.WithBackground(bg)))
	surface := s.surface(t, image.Pt(20, 30), newBuffer(10, 10, red))

	var done []uint32
	surface.Frame(func(ms uint32) { done = append(done, ms) })
	surface.Commit()

	fb := s.repaint(t)
	assert.Equal(t, bg, rgba(fb, 0, 0))
	assert.Equal(t, red, rgba(fb, 20, 30))
	assert.Equal(t, red, rgba(fb, 29, 39))
	assert.Equal(t, bg, rgba(fb, 30, 40))
	assert.Len(t, done, 1)
}

func TestBasicRedrawsOnlyDamage(t *testing.T) {
	s := newScene(t, render.NewBasic(render.WithBackground(bg)))
	buf := newBuffer(10, 10, red)
	surface := s.surface(t, image.Point{}, buf)
	fb := s.repaint(t)
	require.Equal(t, red, rgba(fb, 5, 5))

	// Scribble on the framebuffer so that redrawn areas stand out.
	draw.Draw(fb, fb.Rect, image.NewUniform(color.White), image.Point{}, draw.Src)

	draw.Draw(buf.img, buf.img.Rect, image.NewUniform(blue), image.Point{}, draw.Src)
	surface.Attach(buf, 0, 0)
	require.NoError(t, surface.Damage(0, 0, 2, 2))
	surface.Commit()
	fb = s.repaintAge(t, 0)

	assert.Equal(t, blue, rgba(fb, 1, 1))
	assert.Equal(t, color.RGBA{0xff, 0xff, 0xff, 0xff}, rgba(fb, 5, 5))
}

func TestBasicScaledOutput(t *testing.T) {
	s := newScene(t, render.NewBasic(render.WithBackground(bg)))
	s.ctx.SetDevice(s.out, compositor.Device{
		Name:    "test",
		Mode:    compositor.Mode{Width: 100, Height: 100, Refresh: 60000},
		Scale:   2,
		Enabled: true,
	})
	require.Equal(t, image.Rect(0, 0, 50, 50), s.out.Box())

	s.surface(t, image.Pt(10, 10), newBuffer(10, 10, red))
	fb := s.repaint(t)
	assert.Equal(t, red, rgba(fb, 25, 25))
	assert.Equal(t, bg, rgba(fb, 15, 15))
	assert.Equal(t, bg, rgba(fb, 45, 45))
}

func TestDebugDamagesOutlines(t *testing.T) {
	s := newScene(t, render.NewBasic(render.WithBackground(bg)))
	debug := render.NewDebug(s.ctx)
	s.ctx.AddPipeline(debug)

	surface := s.surface(t, image.Pt(10, 10), newBuffer(10, 10, red))
	s.repaint(t)
	assert.NotZero(t, s.out.State()&compositor.StateDirty, "new outlines are damaged")
	assert.True(t, debug.Plane().Damage().Contains(image.Pt(9, 9)))

	s.repaint(t)
	assert.Zero(t, s.out.State()&compositor.StateDirty)

	s.ctx.Move(surface, image.Pt(50, 50))
	s.repaint(t)
	assert.True(t, debug.Plane().Damage().Contains(image.Pt(9, 9)), "old outline is damaged")
	assert.True(t, debug.Plane().Damage().Contains(image.Pt(49, 49)))
}

func TestCursor(t *testing.T) {
	s := newScene(t, render.NewBasic(render.WithBackground(bg)))
	cursor := render.NewCursor(s.ctx, "wlcomp-test-missing-theme", 16)
	s.ctx.AddPipeline(cursor)

	client := s.ctx.CreateSurface()
	require.NoError(t, client.SetRole(compositor.RoleCursor))
	assert.True(t, cursor.Claim(client))
	assert.False(t, cursor.Claim(s.ctx.CreateSurface()))

	box := cursor.Box()
	require.False(t, box.Empty())

	s.repaint(t)
	require.Zero(t, s.out.State()&compositor.StateDirty)

	cursor.SetPosition(image.Pt(40, 40))
	assert.Equal(t, image.Pt(40, 40), cursor.Position())
	assert.NotZero(t, s.out.State()&compositor.StateDirty)
	assert.True(t, cursor.Plane().Damage().Contains(box.Min))
	assert.True(t, cursor.Plane().Damage().Contains(cursor.Box().Min))

	fb := s.repaint(t)
	assert.Equal(t, bg, rgba(fb, box.Min.X+box.Dx()/2, box.Min.Y+box.Dy()/2), "old position is redrawn")

	var drawn bool
	nb := cursor.Box()
	for y := nb.Min.Y; y < nb.Max.Y; y++ {
		for x := nb.Min.X; x < nb.Max.X; x++ {
			if rgba(fb, x, y) != bg {
				drawn = true
			}
		}
	}
	assert.True(t, drawn)
}
