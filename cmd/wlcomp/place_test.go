package main

import (
	"image"
	"image/draw"
	"log/slog"
	"testing"
	"time"

	"deedles.dev/wlcomp/compositor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopBackend struct{}

func (nopBackend) RequestRepaintSlot(*compositor.Output, time.Duration) {}
func (nopBackend) CancelRepaintSlot(*compositor.Output)                 {}
func (nopBackend) Present(*compositor.Output, draw.Image) error         { return nil }

func (nopBackend) Framebuffer(out *compositor.Output) (draw.Image, error) {
	return image.NewRGBA(out.LocalBox()), nil
}

type buffer struct{ size image.Point }

func (b buffer) Size() image.Point  { return b.size }
func (b buffer) Format() uint32     { return 0 }
func (b buffer) Image() image.Image { return image.NewRGBA(image.Rectangle{Max: b.size}) }
func (b buffer) Release()           {}

func newState(t *testing.T) *state {
	s := state{
		logger: slog.New(slog.DiscardHandler),
		ctx:    compositor.New(nopBackend{}),
	}
	_, err := s.ctx.AddOutput(compositor.Device{
		Name:     "test",
		Position: image.Pt(100, 0),
		Mode:     compositor.Mode{Width: 200, Height: 200},
		Scale:    1,
		Enabled:  true,
	})
	require.NoError(t, err)
	s.ctx.OnCommit.Subscribe(s.place)
	return &s
}

func TestPlaceCascades(t *testing.T) {
	s := newState(t)

	var surfaces []*compositor.Surface
	for range 3 {
		surface := s.ctx.CreateSurface()
		surface.Attach(buffer{size: image.Pt(100, 100)}, 0, 0)
		require.NoError(t, surface.Commit())
		surfaces = append(surfaces, surface)
	}

	for _, surface := range surfaces {
		require.True(t, surface.Mapped())
		assert.Equal(t, compositor.RoleToplevel, surface.Role())
	}
	assert.Equal(t, image.Pt(100, 0), surfaces[0].Geometry().Box.Min)
	assert.Equal(t, image.Pt(132, 32), surfaces[1].Geometry().Box.Min)
	assert.Equal(t, image.Pt(164, 64), surfaces[2].Geometry().Box.Min)
}

func TestPlaceWraps(t *testing.T) {
	s := newState(t)
	s.cascade = image.Pt(150, 150)

	surface := s.ctx.CreateSurface()
	surface.Attach(buffer{size: image.Pt(100, 100)}, 0, 0)
	require.NoError(t, surface.Commit())
	assert.Equal(t, image.Pt(100, 0), surface.Geometry().Box.Min)
}

func TestPlaceUnmapsWithoutBuffer(t *testing.T) {
	s := newState(t)

	surface := s.ctx.CreateSurface()
	require.NoError(t, surface.Commit())
	assert.False(t, surface.Mapped(), "surfaces without content aren't mapped")

	surface.Attach(buffer{size: image.Pt(10, 10)}, 0, 0)
	require.NoError(t, surface.Commit())
	require.True(t, surface.Mapped())

	surface.Attach(nil, 0, 0)
	require.NoError(t, surface.Commit())
	assert.False(t, surface.Mapped())

	surface.Attach(buffer{size: image.Pt(10, 10)}, 0, 0)
	require.NoError(t, surface.Commit())
	assert.True(t, surface.Mapped())
}
