package compositor

import (
	"fmt"
	"time"

	"deedles.dev/wlcomp/region"
)

// MarkDirty records that out has something new to draw and schedules a
// repaint unless one is already scheduled or in flight.
func (c *Context) MarkDirty(out *Output) {
	out.state |= StateDirty
	if out.state&(StateScheduled|StateCommitted) != 0 {
		return
	}
	c.schedule(out)
}

func (c *Context) schedule(out *Output) {
	if out.destroyed || out.needsReset || !out.dev.Enabled {
		return
	}

	delay := out.RepaintDelay(c.clock.Now(), c.margin)
	out.state |= StateScheduled
	c.backend.RequestRepaintSlot(out, delay)
}

// Repaint draws a frame for out. It is normally called in response to a
// RepaintEvent from the backend.
func (c *Context) Repaint(out *Output, age int) error {
	return c.Dispatch(RepaintEvent{Output: out, BufferAge: age})
}

// OnPresented records that the frame last submitted for out was
// displayed at t.
func (c *Context) OnPresented(out *Output, t time.Duration) {
	c.Dispatch(PresentedEvent{Output: out, Time: t})
}

// ResetClock discards the frame timings of out.
func (c *Context) ResetClock(out *Output) {
	c.Dispatch(ClockResetEvent{Output: out})
}

func (c *Context) repaint(out *Output, age int) error {
	if out.destroyed || !out.dev.Enabled || out.needsReset {
		return nil
	}
	if out.state&StateCommitted != 0 {
		return ErrRepaintInFlight
	}

	start := c.clock.Now()
	out.state &^= StateDirty

	c.buildViews()
	c.accumulateDamage()
	c.claimDamage(out)

	fb, err := c.backend.Framebuffer(out)
	if err != nil {
		return c.failOutput(out, err)
	}

	frame := Frame{
		Output:    out,
		BufferAge: age,
		Damage:    out.EffectiveDamage(age),
		Target:    fb,
		Views:     c.outputViews(out),
		Time:      timestampMS(start),
	}
	for _, p := range c.pipelines {
		err = p.RepaintOutput(&frame)
		if err != nil {
			err = fmt.Errorf("pipeline %T: %w", p, err)
			break
		}
	}

	out.rotateDamage()
	if err == nil {
		err = c.backend.Present(out, fb)
	}
	out.state &^= StateScheduled
	if err != nil {
		return c.failOutput(out, err)
	}

	out.frameCost = c.clock.Now() - start
	out.state |= StateCommitted
	return nil
}

func (c *Context) failOutput(out *Output, err error) error {
	out.state = 0
	out.needsReset = true
	c.logger.Error("repaint failed", "output", out, "err", err)
	out.OnNeedsReset.Emit(out)
	return &ResetError{Output: out, Err: err}
}

func (c *Context) presented(out *Output, t time.Duration) {
	if out.destroyed || out.state&StateCommitted == 0 {
		return
	}

	out.recordCost(out.frameCost)
	out.lastPresented = t
	out.presented = true
	out.state &^= StateCommitted
	out.OnPresented.Emit(out)

	if out.state&StateDirty != 0 {
		c.schedule(out)
	}
}

// buildViews collects the visible surfaces, front-most first, and
// assigns each of them to a plane. Within a layer, surfaces that were
// mapped or raised later are in front.
func (c *Context) buildViews() {
	c.views = c.views[:0]
	for l := layerCount - 1; l >= 0; l-- {
		layer := c.layers[l]
		for i := len(layer) - 1; i >= 0; i-- {
			c.appendTree(layer[i])
		}
	}

	for _, s := range c.views {
		s.plane = c.planeFor(s)
	}
}

func (c *Context) appendTree(s *Surface) {
	if s.Current().Buffer == nil {
		return
	}

	for i := len(s.stack) - 1; i >= 0; i-- {
		sub := s.stack[i]
		if sub != nil {
			c.appendTree(sub.child)
			continue
		}

		if s.textureFailed && !s.allocateTexture() {
			// Try again next time.
			s.geo.Dirty.Add(s.geo.Box)
			for _, out := range c.outputs {
				if s.OnOutput(out) {
					out.state |= StateDirty
				}
			}
			continue
		}
		c.views = append(c.views, s)
	}
}

func (c *Context) planeFor(s *Surface) *Plane {
	for _, p := range c.pipelines {
		if p.Claim(s) {
			return p.Plane()
		}
	}
	if len(c.pipelines) > 0 {
		return c.pipelines[0].Plane()
	}
	return &c.mainPlane
}

// accumulateDamage moves the dirty regions of the visible surfaces onto
// their planes, leaving out what is hidden behind opaque surfaces in
// front of them.
func (c *Context) accumulateDamage() {
	var occluded region.Region
	for _, s := range c.views {
		if d := &s.geo.Dirty; !d.Empty() {
			d.Subtract(&occluded)
			s.plane.damage.Union(d)
			d.Clear()
		}

		op := s.opaqueGlobal()
		occluded.Union(&op)
	}
}

func (c *Context) planes() []*Plane {
	planes := make([]*Plane, 0, len(c.pipelines)+1)
	planes = append(planes, &c.mainPlane)
	for _, p := range c.pipelines {
		planes = append(planes, p.Plane())
	}
	return planes
}

// claimDamage moves the damage of every plane that falls on out into
// its pending damage. Parts that also fall on other outputs are handed
// to those as well. Damage outside of every output is dropped.
func (c *Context) claimDamage(out *Output) {
	var screens region.Region
	for _, o := range c.outputs {
		if o.dev.Enabled {
			screens.Add(o.box)
		}
	}

	for _, p := range c.planes() {
		p.damage.Intersect(&screens)

		piece := p.damage.Clone()
		piece.IntersectRect(out.box)
		if piece.Empty() {
			continue
		}
		p.damage.Subtract(&piece)

		for _, o := range c.outputs {
			if o == out || !o.dev.Enabled || !o.box.Overlaps(piece.Extents()) {
				continue
			}
			fwd := piece.Clone()
			fwd.IntersectRect(o.box)
			if fwd.Empty() {
				continue
			}
			fwd.Translate(-o.box.Min.X, -o.box.Min.Y)
			o.PendingDamage().Union(&fwd)
			c.MarkDirty(o)
		}

		piece.Translate(-out.box.Min.X, -out.box.Min.Y)
		out.PendingDamage().Union(&piece)
	}
}

// outputViews returns the visible surfaces that are on out.
func (c *Context) outputViews(out *Output) []*Surface {
	views := make([]*Surface, 0, len(c.views))
	for _, s := range c.views {
		if s.OnOutput(out) {
			views = append(views, s)
		}
	}
	return views
}

// Views returns the visible surfaces, front-most first, as of the last
// repaint.
func (c *Context) Views() []*Surface {
	return c.views
}
