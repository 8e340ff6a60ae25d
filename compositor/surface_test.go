package compositor_test

import (
	"image"
	"image/color"
	"testing"

	"deedles.dev/wlcomp/compositor"
	"deedles.dev/wlcomp/geom"
	"deedles.dev/wlcomp/region"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitMapsSurface(t *testing.T) {
	h := newHarness(t)
	out := h.addOutput(t, "one", image.Point{}, 640, 480)
	h.cycle(t, out)
	require.Equal(t, compositor.RepaintState(0), out.State())
	requests := len(h.backend.requests)

	s := h.ctx.CreateSurface()
	h.ctx.Map(s, compositor.LayerNormal, image.Pt(10, 20))
	var dirty int
	s.OnDirty.Subscribe(func(*compositor.Surface) { dirty++ })

	s.Attach(newFakeBuffer(100, 100, color.White), 0, 0)
	require.NoError(t, s.Damage(0, 0, 100, 100))
	s.Commit()

	want := region.FromRects(image.Rect(0, 0, 100, 100))
	assert.True(t, want.Equal(&s.Current().BufferDamage), "buffer damage: %v", s.Current().BufferDamage)
	assert.Equal(t, image.Rect(10, 20, 110, 120), s.Geometry().Box)
	assert.Equal(t, 1, dirty)
	assert.NotZero(t, out.State()&compositor.StateDirty)
	assert.Len(t, h.backend.requests, requests+1)
}

func TestCommitStaticStateCarriesForward(t *testing.T) {
	h := newHarness(t)
	s := h.ctx.CreateSurface()

	require.NoError(t, s.SetBufferTransform(int32(geom.Transform90)))
	require.NoError(t, s.SetBufferScale(2))
	opaque := region.FromRects(image.Rect(0, 0, 5, 5))
	s.SetOpaqueRegion(&opaque)
	s.Attach(newFakeBuffer(40, 20, color.White), 0, 0)
	s.Commit()

	assert.Equal(t, geom.Transform90, s.Pending().Transform)
	assert.Equal(t, int32(2), s.Pending().Scale)
	assert.True(t, opaque.Equal(&s.Pending().Opaque))
	assert.Zero(t, s.Pending().Committed)
	assert.True(t, s.Pending().SurfaceDamage.Empty())

	require.NoError(t, s.Damage(0, 0, 1, 1))
	s.Commit()
	assert.Equal(t, geom.Transform90, s.Current().Transform)
	assert.Equal(t, image.Pt(10, 20), s.Size())
	assert.NotNil(t, s.Current().Buffer, "buffer should carry over to a commit without attach")
}

func TestCommitReleasesReplacedBuffer(t *testing.T) {
	h := newHarness(t)
	s := h.ctx.CreateSurface()

	first := newFakeBuffer(10, 10, color.White)
	s.Attach(first, 0, 0)
	s.Commit()
	assert.Zero(t, first.released)

	require.NoError(t, s.Damage(0, 0, 10, 10))
	s.Commit()
	assert.Zero(t, first.released)

	second := newFakeBuffer(10, 10, color.Black)
	s.Attach(second, 0, 0)
	s.Commit()
	assert.Equal(t, 1, first.released)
	assert.Zero(t, second.released)
	assert.Nil(t, s.Previous().Buffer)

	s.Destroy()
	assert.Equal(t, 1, second.released)
}

func TestProtocolErrorsLeavePendingUntouched(t *testing.T) {
	h := newHarness(t)
	s := h.ctx.CreateSurface()

	tests := []struct {
		name string
		f    func() error
		code uint32
	}{
		{"NegativeDamage", func() error { return s.Damage(0, 0, -1, 10) }, compositor.ErrorInvalidDamage},
		{"NegativeBufferDamage", func() error { return s.DamageBuffer(0, 0, 10, -1) }, compositor.ErrorInvalidDamage},
		{"ZeroScale", func() error { return s.SetBufferScale(0) }, compositor.ErrorInvalidScale},
		{"BadTransform", func() error { return s.SetBufferTransform(8) }, compositor.ErrorInvalidTransform},
		{"BadViewport", func() error { return s.SetViewportDestination(0, 5) }, compositor.ErrorBadValue},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.f()
			var perr *compositor.ProtocolError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, test.code, perr.Code)
			assert.Zero(t, s.Pending().Committed)
			assert.Equal(t, int32(1), s.Pending().Scale)
		})
	}

	require.NoError(t, s.Damage(0, 0, 0, 10))
	assert.Zero(t, s.Pending().Committed, "empty damage should be ignored")
}

func TestDamageRoundTrip(t *testing.T) {
	h := newHarness(t)
	r := image.Rect(3, 4, 10, 9)

	for _, tr := range geom.Transforms {
		t.Run(tr.String(), func(t *testing.T) {
			s := h.ctx.CreateSurface()
			defer s.Destroy()

			require.NoError(t, s.SetBufferTransform(int32(tr)))
			s.Attach(newFakeBuffer(40, 20, color.White), 0, 0)
			s.Commit()

			s2b := s.Current().SurfaceToBuffer
			b2s, ok := s2b.Invert()
			require.True(t, ok)
			assert.Equal(t, r, b2s.ApplyRect(s2b.ApplyRect(r)))
		})
	}
}

func TestSurfaceDamageConvertsPerRectangle(t *testing.T) {
	h := newHarness(t)
	s := h.ctx.CreateSurface()
	require.NoError(t, s.SetBufferTransform(int32(geom.Transform90)))
	s.Attach(newFakeBuffer(20, 10, color.White), 0, 0)
	require.NoError(t, s.Damage(0, 0, 1, 1))
	require.NoError(t, s.Damage(9, 19, 1, 1))
	s.Commit()

	cur := s.Current()
	assert.Equal(t, 2, cur.BufferDamage.Area())
	assert.Equal(t, 2, cur.SurfaceDamage.Area())
}

func TestBufferDamageConvertsToSurface(t *testing.T) {
	h := newHarness(t)
	s := h.ctx.CreateSurface()
	require.NoError(t, s.SetBufferScale(2))
	s.Attach(newFakeBuffer(20, 20, color.White), 0, 0)
	require.NoError(t, s.DamageBuffer(4, 4, 4, 4))
	s.Commit()

	cur := s.Current()
	want := region.FromRects(image.Rect(2, 2, 4, 4))
	assert.True(t, want.Equal(&cur.SurfaceDamage), "surface damage: %v", cur.SurfaceDamage)
	want = region.FromRects(image.Rect(4, 4, 8, 8))
	assert.True(t, want.Equal(&cur.BufferDamage), "buffer damage: %v", cur.BufferDamage)
}

func TestDamageIsClipped(t *testing.T) {
	h := newHarness(t)
	s := h.ctx.CreateSurface()
	s.Attach(newFakeBuffer(10, 10, color.White), 0, 0)
	require.NoError(t, s.Damage(5, 5, 100, 100))
	s.Commit()

	want := region.FromRects(image.Rect(5, 5, 10, 10))
	assert.True(t, want.Equal(&s.Current().SurfaceDamage))
	assert.True(t, want.Equal(&s.Current().BufferDamage))
}

func TestViewportScalesSurface(t *testing.T) {
	h := newHarness(t)
	s := h.ctx.CreateSurface()
	h.ctx.Map(s, compositor.LayerNormal, image.Point{})

	require.NoError(t, s.SetViewportSource(geom.Rect{X: 10, Y: 10, W: 20, H: 20}))
	require.NoError(t, s.SetViewportDestination(40, 40))
	s.Attach(newFakeBuffer(50, 50, color.White), 0, 0)
	s.Commit()

	assert.Equal(t, image.Pt(40, 40), s.Size())
	x, y := s.Current().SurfaceToBuffer.Apply(40, 40)
	assert.InDelta(t, 30, x, 1e-9)
	assert.InDelta(t, 30, y, 1e-9)

	require.NoError(t, s.SetViewportSource(geom.Rect{X: -1, Y: -1, W: -1, H: -1}))
	require.NoError(t, s.SetViewportDestination(-1, -1))
	s.Commit()
	assert.Equal(t, image.Pt(50, 50), s.Size())
}

func TestFrameCallbackWithoutDamage(t *testing.T) {
	h := newHarness(t)
	s := h.ctx.CreateSurface()

	var done []uint32
	s.Frame(func(ms uint32) { done = append(done, ms) })
	s.Commit()
	assert.Equal(t, []uint32{1000}, done)
}

func TestFrameCallbackAfterRepaint(t *testing.T) {
	h := newHarness(t)
	out := h.addOutput(t, "one", image.Point{}, 200, 200)
	h.cycle(t, out)

	s, _ := h.mappedSurface(t, image.Pt(10, 10), 20, 20)
	h.cycle(t, out)

	var done int
	s.Frame(func(uint32) { done++ })
	require.NoError(t, s.Damage(0, 0, 5, 5))
	s.Commit()
	assert.Zero(t, done)

	require.NoError(t, h.ctx.Repaint(out, 1))
	assert.Equal(t, 1, done)
}

func TestOffsetMovesSurface(t *testing.T) {
	h := newHarness(t)
	s, _ := h.mappedSurface(t, image.Pt(10, 10), 20, 20)

	s.Offset(5, -3)
	s.Commit()
	assert.Equal(t, image.Rect(15, 7, 35, 27), s.Geometry().Box)
}

func TestRoles(t *testing.T) {
	h := newHarness(t)
	s := h.ctx.CreateSurface()
	require.NoError(t, s.SetRole(compositor.RoleCursor))
	require.NoError(t, s.SetRole(compositor.RoleCursor))

	err := s.SetRole(compositor.RoleToplevel)
	var perr *compositor.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, compositor.ErrorRole, perr.Code)
}

func TestInputRegion(t *testing.T) {
	h := newHarness(t)
	s, _ := h.mappedSurface(t, image.Point{}, 20, 20)
	assert.True(t, s.AcceptsInput(image.Pt(19, 19)))
	assert.False(t, s.AcceptsInput(image.Pt(20, 20)))

	input := region.FromRects(image.Rect(0, 0, 5, 5))
	s.SetInputRegion(&input)
	s.Commit()
	assert.True(t, s.AcceptsInput(image.Pt(1, 1)))
	assert.False(t, s.AcceptsInput(image.Pt(10, 10)))

	s.SetInputRegion(nil)
	s.Commit()
	assert.True(t, s.AcceptsInput(image.Pt(10, 10)))
}

func TestEnterLeave(t *testing.T) {
	h := newHarness(t)
	left := h.addOutput(t, "left", image.Point{}, 100, 100)
	right := h.addOutput(t, "right", image.Pt(100, 0), 100, 100)

	s := h.ctx.CreateSurface()
	var entered, exited []string
	s.OnEnter.Subscribe(func(out *compositor.Output) { entered = append(entered, out.Name()) })
	s.OnLeave.Subscribe(func(out *compositor.Output) { exited = append(exited, out.Name()) })

	h.ctx.Map(s, compositor.LayerNormal, image.Pt(50, 0))
	s.Attach(newFakeBuffer(20, 20, color.White), 0, 0)
	s.Commit()
	assert.Equal(t, []string{"left"}, entered)
	assert.True(t, s.OnOutput(left))

	h.ctx.Move(s, image.Pt(90, 0))
	assert.Equal(t, []string{"left", "right"}, entered)

	h.ctx.Move(s, image.Pt(150, 0))
	assert.Equal(t, []string{"left"}, exited)
	assert.True(t, s.OnOutput(right))
	assert.False(t, s.OnOutput(left))
}

func TestViewportValidatedOnCommit(t *testing.T) {
	h := newHarness(t)
	s := h.ctx.CreateSurface()

	code := func(err error) uint32 {
		t.Helper()
		var perr *compositor.ProtocolError
		require.ErrorAs(t, err, &perr)
		return perr.Code
	}

	s.Attach(newFakeBuffer(20, 20, color.White), 0, 0)
	require.NoError(t, s.SetViewportSource(geom.Rect{X: 0, Y: 0, W: 10.5, H: 10}))
	assert.Equal(t, compositor.ErrorBadSize, code(s.Commit()))
	assert.Nil(t, s.Current().Buffer, "nothing is applied")

	require.NoError(t, s.SetViewportDestination(10, 10))
	require.NoError(t, s.Commit())

	require.NoError(t, s.SetBufferScale(2))
	assert.Equal(t, compositor.ErrorOutOfBuffer, code(s.Commit()))

	require.NoError(t, s.SetViewportSource(geom.Rect{X: 5, Y: 5, W: 5, H: 5}))
	assert.NoError(t, s.Commit())
}

func TestCommitRotatesSlots(t *testing.T) {
	h := newHarness(t)
	s := h.ctx.CreateSurface()

	for i := 0; i < 6; i++ {
		pending, current, previous := s.Slots()
		assert.ElementsMatch(t, []int{0, 1, 2}, []int{pending, current, previous})

		s.Attach(newFakeBuffer(10, 10, color.White), 0, 0)
		require.NoError(t, s.Commit())

		p, c, prev := s.Slots()
		assert.Equal(t, pending, c, "pending should become current")
		assert.Equal(t, current, prev, "current should become previous")
		assert.Equal(t, previous, p, "previous should be reused as pending")
	}
}

func TestIncompatibleTextureIsReplaced(t *testing.T) {
	alloc := &fakeAllocator{}
	h := newHarness(t, compositor.WithAllocator(alloc))
	s, _ := h.mappedSurface(t, image.Point{}, 10, 10)
	require.Len(t, alloc.created, 1)
	first := alloc.created[0]

	s.Attach(newFakeBuffer(10, 10, color.White), 0, 0)
	require.NoError(t, s.DamageBuffer(1, 1, 2, 2))
	require.NoError(t, s.Commit())

	damage := region.FromRects(image.Rect(1, 1, 3, 3))
	require.Len(t, first.updates, 1)
	assert.True(t, damage.Equal(&first.updates[0]), "uploaded: %v", first.updates[0])
	assert.True(t, damage.Equal(&s.Current().BufferDamage), "fast path kept damage: %v", s.Current().BufferDamage)
	assert.Len(t, alloc.created, 1)

	s.Attach(newFakeBuffer(20, 20, color.White), 0, 0)
	require.NoError(t, s.DamageBuffer(0, 0, 5, 5))
	require.NoError(t, s.Commit())

	assert.True(t, first.destroyed)
	assert.Len(t, first.updates, 1)
	require.Len(t, alloc.created, 2)
	assert.Equal(t, image.Pt(20, 20), alloc.created[1].Size())

	damage = region.FromRects(image.Rect(0, 0, 5, 5))
	assert.True(t, s.Current().BufferDamage.ContainsRegion(&damage), "slow path kept damage: %v", s.Current().BufferDamage)
	assert.Equal(t, image.Pt(20, 20), s.Size())
}

func TestTextureAllocationRetriedOnRepaint(t *testing.T) {
	alloc := &fakeAllocator{fail: 2}
	h := newHarness(t, compositor.WithAllocator(alloc))
	out := h.addOutput(t, "one", image.Point{}, 100, 100)
	h.cycle(t, out)

	s, _ := h.mappedSurface(t, image.Pt(10, 10), 20, 20)
	assert.Empty(t, alloc.created)

	require.NoError(t, h.ctx.Repaint(out, 0))
	assert.NotContains(t, h.pipeline.last(t).Views, s)
	assert.Empty(t, alloc.created)
	assert.NotZero(t, out.State()&compositor.StateDirty, "skipped surface should keep the output dirty")

	requests := len(h.backend.requests)
	h.ctx.OnPresented(out, h.clock.Now())
	assert.Len(t, h.backend.requests, requests+1)

	require.NoError(t, h.ctx.Repaint(out, 0))
	frame := h.pipeline.last(t)
	assert.Contains(t, frame.Views, s)
	assert.True(t, frame.Damage.Contains(image.Pt(15, 15)), "damage: %v", frame.Damage)
	assert.Len(t, alloc.created, 1)
}
