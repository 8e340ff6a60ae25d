package compositor

import (
	"image"
	"slices"

	"deedles.dev/wlcomp/geom"
	"deedles.dev/wlcomp/internal/ev"
	"deedles.dev/wlcomp/region"
)

// Role is the role that a surface has been given by the protocol.
type Role int

const (
	RoleNone Role = iota
	RoleSubsurface
	RoleCursor
	RoleToplevel
)

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleSubsurface:
		return "subsurface"
	case RoleCursor:
		return "cursor"
	case RoleToplevel:
		return "toplevel"
	default:
		return "unknown"
	}
}

// Geometry is the compositor-computed placement of a surface.
type Geometry struct {
	// Position is the global position of the surface's origin.
	Position image.Point

	// Box is the global bounding box of the displayed buffer.
	Box image.Rectangle

	// Transform maps buffer coordinates to global coordinates.
	// InverseTransform maps the other way.
	Transform        geom.Matrix
	InverseTransform geom.Matrix

	// Dirty is damage in global coordinates that has not yet been
	// handed to a plane.
	Dirty region.Region
}

// Surface is a rectangular area of client content. It is created by
// Context.CreateSurface.
type Surface struct {
	ctx *Context
	id  uint64

	slots                      [3]ViewState
	pending, current, previous int

	cached    ViewState
	hasCached bool

	role Role
	sub  *Subsurface

	// stack holds the children in the order that they are drawn, bottom
	// first. A nil entry marks the surface itself.
	stack        []*Subsurface
	pendingStack []*Subsurface
	stackDirty   bool

	texture       Texture
	textureFailed bool

	size       image.Point
	bufferSize image.Point
	offset     image.Point
	geo        Geometry

	mapped bool
	layer  Layer
	base   image.Point

	plane   *Plane
	outputs uint32

	destroyed bool

	OnCommit     ev.Signal[*Surface]
	OnDirty      ev.Signal[*Surface]
	OnFrameReady ev.Signal[*Surface]
	OnEnter      ev.Signal[*Output]
	OnLeave      ev.Signal[*Output]
	OnDestroy    ev.Signal[*Surface]
}

func newSurface(ctx *Context, id uint64) *Surface {
	s := Surface{
		ctx:          ctx,
		id:           id,
		pending:      0,
		current:      1,
		previous:     2,
		stack:        []*Subsurface{nil},
		pendingStack: []*Subsurface{nil},
	}
	for i := range s.slots {
		s.slots[i].init()
	}
	s.cached.init()
	s.geo.Transform = geom.Identity()
	s.geo.InverseTransform = geom.Identity()
	return &s
}

func (s *Surface) ID() uint64 { return s.id }

// Pending returns the state that client requests modify.
func (s *Surface) Pending() *ViewState { return &s.slots[s.pending] }

// Current returns the state that is being displayed.
func (s *Surface) Current() *ViewState { return &s.slots[s.current] }

// Previous returns the state that was displayed before the last
// commit. Its buffer has already been released or moved forward.
func (s *Surface) Previous() *ViewState { return &s.slots[s.previous] }

// Slots returns the indices of the pending, current and previous
// states in the surface's three state slots.
func (s *Surface) Slots() (pending, current, previous int) {
	return s.pending, s.current, s.previous
}

func (s *Surface) Role() Role { return s.role }

// SetRole gives the surface a role. A surface may be given the same
// role more than once, but never two different roles.
func (s *Surface) SetRole(role Role) error {
	if s.role != RoleNone && s.role != role {
		return protocolError("wl_surface", ErrorRole, "surface already has role %v", s.role)
	}
	s.role = role
	return nil
}

// Subsurface returns the link to the surface's parent, or nil if it is
// not a sub-surface.
func (s *Surface) Subsurface() *Subsurface { return s.sub }

// Parent returns the surface's parent, or nil.
func (s *Surface) Parent() *Surface {
	if s.sub == nil {
		return nil
	}
	return s.sub.parent
}

// Size is the surface's size in surface-local coordinates.
func (s *Surface) Size() image.Point { return s.size }

// BufferSize is the size of the current buffer in pixels.
func (s *Surface) BufferSize() image.Point { return s.bufferSize }

// Geometry returns the surface's placement. It must not be modified.
func (s *Surface) Geometry() *Geometry { return &s.geo }

// Texture returns the texture holding the current buffer's content, or
// nil if there isn't one.
func (s *Surface) Texture() Texture { return s.texture }

// Plane returns the plane that the surface was assigned to during the
// last repaint.
func (s *Surface) Plane() *Plane { return s.plane }

func (s *Surface) Layer() Layer { return s.layer }

func (s *Surface) Mapped() bool { return s.mapped }

// Destroyed reports whether Destroy has been called.
func (s *Surface) Destroyed() bool { return s.destroyed }

// Outputs returns a bitmask of the IDs of the outputs that the surface
// is currently displayed on.
func (s *Surface) Outputs() uint32 { return s.outputs }

// OnOutput reports whether the surface is displayed on out.
func (s *Surface) OnOutput(out *Output) bool {
	return s.outputs&out.bit() != 0
}

// Attach sets the pending buffer. A nil buffer unmaps the surface on
// the next commit.
func (s *Surface) Attach(buf Buffer, dx, dy int) {
	p := s.Pending()
	if p.Committed&StateBuffer != 0 && p.Buffer != nil && p.Buffer != buf {
		p.Buffer.Release()
	}
	p.Buffer = buf
	p.Committed |= StateBuffer
	if dx != 0 || dy != 0 {
		p.Offset = p.Offset.Add(image.Pt(dx, dy))
		p.Committed |= StateOffset
	}
}

func (s *Surface) Offset(dx, dy int) {
	p := s.Pending()
	p.Offset = p.Offset.Add(image.Pt(dx, dy))
	p.Committed |= StateOffset
}

func checkDamage(x, y, w, h int) (image.Rectangle, error) {
	if w < 0 || h < 0 {
		return image.Rectangle{}, protocolError("wl_surface", ErrorInvalidDamage, "negative damage size %vx%v", w, h)
	}
	return image.Rect(x, y, x+w, y+h), nil
}

// Damage marks an area of the surface, in surface-local coordinates,
// as changed.
func (s *Surface) Damage(x, y, w, h int) error {
	r, err := checkDamage(x, y, w, h)
	if err != nil {
		return err
	}
	if r.Empty() {
		return nil
	}

	p := s.Pending()
	p.SurfaceDamage.Add(r)
	p.Committed |= StateSurfaceDamage
	return nil
}

// DamageBuffer is like Damage but takes buffer coordinates.
func (s *Surface) DamageBuffer(x, y, w, h int) error {
	r, err := checkDamage(x, y, w, h)
	if err != nil {
		return err
	}
	if r.Empty() {
		return nil
	}

	p := s.Pending()
	p.BufferDamage.Add(r)
	p.Committed |= StateBufferDamage
	return nil
}

// SetOpaqueRegion sets the part of the surface that the client
// guarantees to be fully opaque. A nil region clears it.
func (s *Surface) SetOpaqueRegion(r *region.Region) {
	p := s.Pending()
	if r == nil {
		p.Opaque.Clear()
	} else {
		p.Opaque.Set(r)
	}
	p.Committed |= StateOpaque
}

// SetInputRegion sets the part of the surface that accepts input. A nil
// region means the whole surface.
func (s *Surface) SetInputRegion(r *region.Region) {
	p := s.Pending()
	p.InputInfinite = r == nil
	if r == nil {
		p.Input.Clear()
	} else {
		p.Input.Set(r)
	}
	p.Committed |= StateInput
}

func (s *Surface) SetBufferTransform(t int32) error {
	if !geom.Transform(t).Valid() {
		return protocolError("wl_surface", ErrorInvalidTransform, "invalid buffer transform %v", t)
	}

	p := s.Pending()
	p.Transform = geom.Transform(t)
	p.Committed |= StateTransform
	return nil
}

func (s *Surface) SetBufferScale(scale int32) error {
	if scale < 1 {
		return protocolError("wl_surface", ErrorInvalidScale, "invalid buffer scale %v", scale)
	}

	p := s.Pending()
	p.Scale = scale
	p.Committed |= StateScale
	return nil
}

// SetViewportSource sets the crop rectangle. A rectangle with every
// field set to -1 unsets it.
func (s *Surface) SetViewportSource(src geom.Rect) error {
	p := s.Pending()
	if src == (geom.Rect{X: -1, Y: -1, W: -1, H: -1}) {
		p.Crop = nil
		p.Committed |= StateCrop
		return nil
	}
	if src.X < 0 || src.Y < 0 || src.W <= 0 || src.H <= 0 {
		return protocolError("wp_viewport", ErrorBadValue, "invalid source rectangle %+v", src)
	}

	p.Crop = &src
	p.Committed |= StateCrop
	return nil
}

// SetViewportDestination sets the size that the surface is scaled to.
// A size of -1x-1 unsets it.
func (s *Surface) SetViewportDestination(w, h int) error {
	p := s.Pending()
	if w == -1 && h == -1 {
		p.Dest = nil
		p.Committed |= StateDest
		return nil
	}
	if w <= 0 || h <= 0 {
		return protocolError("wp_viewport", ErrorBadValue, "invalid destination size %vx%v", w, h)
	}

	dest := image.Pt(w, h)
	p.Dest = &dest
	p.Committed |= StateDest
	return nil
}

// Frame requests that cb be called once the content of the next commit
// has been drawn.
func (s *Surface) Frame(cb FrameCallback) {
	p := s.Pending()
	p.Frames = append(p.Frames, cb)
	p.Committed |= StateFrame
}

// AcceptsInput reports whether the surface-local point p is inside the
// surface's input region.
func (s *Surface) AcceptsInput(p image.Point) bool {
	if !p.In(image.Rectangle{Max: s.size}) {
		return false
	}
	c := s.Current()
	return c.InputInfinite || c.Input.Contains(p)
}

// Destroy destroys the surface. Sub-surface links in which it takes
// part are destroyed with it.
func (s *Surface) Destroy() {
	if s.destroyed {
		return
	}

	s.ctx.batch(func() {
		s.OnDestroy.Emit(s)
		s.OnDestroy.Clear()
		s.OnCommit.Clear()
		s.OnDirty.Clear()
		s.OnFrameReady.Clear()
		s.OnEnter.Clear()
		s.OnLeave.Clear()

		s.damageTree()

		for _, sub := range slices.Clone(s.pendingStack) {
			if sub != nil {
				sub.destroy()
			}
		}
		for _, sub := range slices.Clone(s.stack) {
			if sub != nil {
				sub.destroy()
			}
		}
		if s.sub != nil {
			s.sub.destroy()
		}
		if s.mapped {
			s.ctx.unmap(s)
		}

		for i := range s.slots {
			if b := s.slots[i].Buffer; b != nil {
				b.Release()
				s.slots[i].Buffer = nil
			}
		}
		if s.cached.Buffer != nil {
			s.cached.Buffer.Release()
			s.cached.Buffer = nil
		}
		if s.texture != nil {
			s.texture.Destroy()
			s.texture = nil
		}

		s.destroyed = true
		s.ctx.removeSurface(s)
	})
}

// visible reports whether the surface is part of the scene.
func (s *Surface) visible() bool {
	for cur := s; ; cur = cur.sub.parent {
		if cur.destroyed || cur.Current().Buffer == nil {
			return false
		}
		if cur.sub == nil {
			return cur.mapped
		}
		if !slices.Contains(cur.sub.parent.stack, cur.sub) {
			return false
		}
	}
}

// opaqueGlobal returns the opaque region in global coordinates.
func (s *Surface) opaqueGlobal() region.Region {
	op := s.Current().Opaque.Clone()
	op.IntersectRect(image.Rectangle{Max: s.size})
	op.Translate(s.geo.Position.X, s.geo.Position.Y)
	return op
}

// damageTree damages the boxes of s and of all of its children.
func (s *Surface) damageTree() {
	if s.visible() {
		s.ctx.damage(s.geo.Box)
	}
	for _, sub := range s.stack {
		if sub != nil {
			sub.child.damageTree()
		}
	}
}

func (s *Surface) frameDone(ms uint32) {
	cur := s.Current()
	if len(cur.Frames) == 0 {
		return
	}

	frames := cur.Frames
	cur.Frames = nil
	for _, cb := range frames {
		cb(ms)
	}
	s.OnFrameReady.Emit(s)
}
