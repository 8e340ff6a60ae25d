package compositor

import (
	"errors"
	"image"
	"log/slog"
	"math"

	"deedles.dev/wlcomp/geom"
	"deedles.dev/wlcomp/region"
)

// Commit applies the pending state. If the surface is a synchronized
// sub-surface, the state is cached instead and applied when the parent
// is next committed. A viewport that doesn't fit the buffer is reported
// as a ProtocolError and nothing is applied.
func (s *Surface) Commit() error {
	if s.destroyed {
		return nil
	}
	err := s.checkViewport()
	if err != nil {
		return err
	}

	s.ctx.batch(func() {
		if s.sub != nil && s.sub.Synchronized() {
			s.cachePending()
			return
		}
		if s.hasCached {
			s.cachePending()
			s.applyCached()
			return
		}
		s.apply()
	})
	return nil
}

// checkViewport validates the pending viewport against the buffer that
// the commit would leave attached.
func (s *Surface) checkViewport() error {
	p := s.Pending()
	if p.Crop == nil {
		return nil
	}
	crop := *p.Crop

	if p.Dest == nil && (crop.W != math.Trunc(crop.W) || crop.H != math.Trunc(crop.H)) {
		return protocolError("wp_viewport", ErrorBadSize, "source size %vx%v is not an integer and no destination is set", crop.W, crop.H)
	}

	buf := p.Buffer
	if p.Committed&StateBuffer == 0 {
		buf = s.Current().Buffer
		if s.hasCached && s.cached.Committed&StateBuffer != 0 {
			buf = s.cached.Buffer
		}
	}
	if buf == nil {
		return nil
	}

	bsize := buf.Size()
	size := p.Transform.Size(bsize.X, bsize.Y)
	w := float64(size.X) / float64(p.Scale)
	h := float64(size.Y) / float64(p.Scale)
	if crop.X+crop.W > w || crop.Y+crop.H > h {
		return protocolError("wp_viewport", ErrorOutOfBuffer, "source rectangle %+v extends outside of %vx%v buffer", crop, w, h)
	}
	return nil
}

// cachePending merges the pending state into the cached state and
// starts a fresh pending state.
func (s *Surface) cachePending() {
	p := s.Pending()
	s.cached.merge(p)
	s.hasCached = true

	p.Buffer = nil
	p.Offset = image.Point{}
	p.SurfaceDamage.Clear()
	p.BufferDamage.Clear()
	p.Frames = nil
	p.Committed = 0
}

// applyCached applies the cached state. Anything that was requested
// since the last commit stays pending.
func (s *Surface) applyCached() {
	p := s.Pending()

	var left ViewState
	left.init()
	left.merge(p)

	p.recycle(s.Current())
	p.merge(&s.cached)
	s.cached = ViewState{}
	s.cached.init()
	s.hasCached = false

	s.apply()

	s.Pending().merge(&left)
}

func (s *Surface) apply() {
	s.commitStacking()

	if s.Pending().Committed == 0 {
		s.commitChildren()
		s.ctx.emit(CommitEvent{Surface: s})
		return
	}

	s.rotate()
	s.updateBuffer()
	s.updateGeometry()
	s.updateDamage()

	cur := s.Current()
	s.ctx.emit(CommitEvent{Surface: s})
	switch {
	case !s.geo.Dirty.Empty():
		s.ctx.emit(DirtyEvent{Surface: s})
	case len(cur.Frames) > 0:
		s.frameDone(timestampMS(s.ctx.clock.Now()))
	}

	s.commitChildren()
}

// rotate makes the pending state current. The old current state becomes
// the previous state and the old previous state becomes the new pending
// state.
func (s *Surface) rotate() {
	s.pending, s.current, s.previous = s.previous, s.pending, s.current

	cur, prev := s.Current(), s.Previous()
	s.Pending().recycle(cur)

	if cur.Committed&StateBuffer == 0 {
		cur.Buffer = prev.Buffer
		prev.Buffer = nil
	}
	cur.Frames = append(prev.Frames, cur.Frames...)
	prev.Frames = nil
}

func (s *Surface) updateBuffer() {
	cur, prev := s.Current(), s.Previous()
	if cur.Committed&StateBuffer == 0 {
		return
	}

	if prev.Buffer != nil && prev.Buffer != cur.Buffer {
		prev.Buffer.Release()
	}
	prev.Buffer = nil

	if cur.Buffer == nil {
		s.bufferSize = image.Point{}
		if s.texture != nil {
			s.texture.Destroy()
			s.texture = nil
		}
		s.textureFailed = false
		return
	}

	s.bufferSize = cur.Buffer.Size()
	s.upload(cur)
}

// upload copies the current buffer into the surface's texture. If the
// existing texture can't take it, a new one is allocated.
func (s *Surface) upload(cur *ViewState) {
	if s.texture != nil {
		damage := cur.BufferDamage.Clone()
		if cur.Committed&StateSurfaceDamage != 0 {
			damage.Add(image.Rectangle{Max: s.bufferSize})
		}

		err := s.texture.Update(cur.Buffer, &damage)
		if err == nil {
			return
		}
		if !errors.Is(err, ErrIncompatible) {
			s.ctx.logger.Warn("texture update failed", "surface", s.id, "err", err)
		}

		s.texture.Destroy()
		s.texture = nil
	}

	s.allocateTexture()
}

func (s *Surface) allocateTexture() bool {
	tex, err := s.ctx.allocator.CreateTexture(s.Current().Buffer)
	if err != nil {
		s.textureFailed = true
		s.ctx.logger.Warn("texture allocation failed", "surface", s.id, "err", err)
		return false
	}

	s.texture = tex
	s.textureFailed = false
	return true
}

// bufferToSurface returns the matrix that maps buffer coordinates into
// surface-local coordinates for the state v, along with the resulting
// surface size.
func bufferToSurface(v *ViewState, bsize image.Point) (geom.Matrix, image.Point) {
	if bsize.X <= 0 || bsize.Y <= 0 {
		return geom.Identity(), image.Point{}
	}

	bw, bh := float64(bsize.X), float64(bsize.Y)
	scale := float64(max(v.Scale, 1))
	tsize := v.Transform.Size(bsize.X, bsize.Y)

	src := geom.Rect{W: float64(tsize.X) / scale, H: float64(tsize.Y) / scale}
	if v.Crop != nil {
		src = *v.Crop
	}

	size := image.Pt(tsize.X/int(scale), tsize.Y/int(scale))
	switch {
	case v.Dest != nil:
		size = *v.Dest
	case v.Crop != nil:
		size = src.Size()
	}

	m := geom.Scale(float64(size.X)/src.W, float64(size.Y)/src.H).
		Mul(geom.Translate(-src.X, -src.Y)).
		Mul(geom.Scale(1/scale, 1/scale)).
		Mul(v.Transform.Invert().Matrix(bw, bh))
	return m, size
}

// origin returns the global position of the surface before its own
// offset is applied.
func (s *Surface) origin() image.Point {
	if s.sub != nil {
		return s.sub.parent.geo.Position.Add(s.sub.pos)
	}
	return s.base
}

func (s *Surface) updateGeometry() {
	cur := s.Current()
	if cur.Committed&StateOffset != 0 {
		s.offset = s.offset.Add(cur.Offset)
	}

	b2s, size := bufferToSurface(cur, s.bufferSize)
	s2b, ok := b2s.Invert()
	if !ok {
		s2b = geom.Identity()
	}
	cur.SurfaceToBuffer = s2b
	s.size = size

	s.layout()
}

// layout recomputes the global placement of the surface from its
// current state and its position in the tree.
func (s *Surface) layout() {
	cur := s.Current()
	old := s.geo.Box
	wasVisible := !old.Empty()

	b2s, ok := cur.SurfaceToBuffer.Invert()
	if !ok {
		b2s = geom.Identity()
	}

	pos := s.origin().Add(s.offset)
	s.geo.Position = pos
	s.geo.Transform = geom.Translate(float64(pos.X), float64(pos.Y)).Mul(b2s)
	s.geo.InverseTransform, _ = s.geo.Transform.Invert()

	var box image.Rectangle
	if cur.Buffer != nil && s.visible() {
		quad := s.geo.Transform.Mul(geom.Scale(float64(s.bufferSize.X), float64(s.bufferSize.Y)))
		box = quad.ApplyRect(image.Rect(0, 0, 1, 1))
	}
	if box == old {
		return
	}

	s.geo.Box = box
	if wasVisible {
		s.ctx.damage(old)
	}
	if !box.Empty() {
		s.geo.Dirty.Add(box)
	}
	s.ctx.updateSurfaceOutputs(s)
}

// relayout recomputes the placement of s and its descendants after
// something above them in the tree moved.
func (s *Surface) relayout() {
	s.layout()
	if !s.geo.Dirty.Empty() {
		s.ctx.emit(DirtyEvent{Surface: s})
	}
	for _, sub := range s.stack {
		if sub != nil {
			sub.child.relayout()
		}
	}
}

// convertDamage maps every rectangle of r through m.
func convertDamage(r *region.Region, m geom.Matrix) region.Region {
	var out region.Region
	for _, rect := range r.Rects() {
		out.Add(m.ApplyRect(rect))
	}
	return out
}

func (s *Surface) updateDamage() {
	cur := s.Current()

	var fromSurface, fromBuffer region.Region
	if cur.Committed&StateSurfaceDamage != 0 {
		fromSurface = convertDamage(&cur.SurfaceDamage, cur.SurfaceToBuffer)
	}
	if cur.Committed&StateBufferDamage != 0 {
		b2s, ok := cur.SurfaceToBuffer.Invert()
		if ok {
			fromBuffer = convertDamage(&cur.BufferDamage, b2s)
		}
	}
	cur.BufferDamage.Union(&fromSurface)
	cur.SurfaceDamage.Union(&fromBuffer)

	cur.SurfaceDamage.IntersectRect(image.Rectangle{Max: s.size})
	cur.BufferDamage.IntersectRect(image.Rectangle{Max: s.bufferSize})

	if cur.Buffer == nil || s.geo.Box.Empty() {
		return
	}

	global := convertDamage(&cur.BufferDamage, s.geo.Transform)
	global.IntersectRect(s.geo.Box)
	s.geo.Dirty.Union(&global)
}

// commitStacking applies the pending order and positions of the
// surface's children.
func (s *Surface) commitStacking() {
	if !s.stackDirty {
		return
	}
	s.stackDirty = false

	s.damageTree()
	s.stack = append(s.stack[:0], s.pendingStack...)
	for _, sub := range s.stack {
		if sub != nil {
			sub.pos = sub.pendingPos
		}
	}
	s.damageTree()
}

// commitChildren applies the cached state of synchronized children and
// updates the placement of the rest.
func (s *Surface) commitChildren() {
	for _, sub := range s.stack {
		if sub == nil {
			continue
		}

		child := sub.child
		if !child.sub.Synchronized() {
			child.relayout()
			continue
		}
		if child.hasCached {
			child.applyCached()
			continue
		}
		child.layout()
		if !child.geo.Dirty.Empty() {
			s.ctx.emit(DirtyEvent{Surface: child})
		}
		child.commitChildren()
	}
}

func (s *Surface) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("id", s.id),
		slog.String("role", s.role.String()),
		slog.Any("box", s.geo.Box),
	)
}
