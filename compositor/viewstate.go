package compositor

import (
	"image"
	"time"

	"deedles.dev/wlcomp/geom"
	"deedles.dev/wlcomp/region"
)

// CommitState is a set of flags marking which parts of a ViewState were
// set by the client since the last commit.
type CommitState uint32

const (
	StateBuffer CommitState = 1 << iota
	StateOffset
	StateSurfaceDamage
	StateBufferDamage
	StateOpaque
	StateInput
	StateTransform
	StateScale
	StateCrop
	StateDest
	StateFrame
)

// FrameCallback is called with the presentation time, in milliseconds
// of the compositor's clock, once a surface's content has been drawn.
type FrameCallback func(ms uint32)

// ViewState is one snapshot of the client-controlled state of a
// surface. Every surface keeps three of them: the pending state that
// requests modify, the current state that is displayed, and the
// previous state, which is recycled as the next pending state on
// commit.
type ViewState struct {
	// Buffer is the attached buffer, or nil if there is none.
	Buffer Buffer

	// Offset is the displacement requested with attach or offset.
	Offset image.Point

	// SurfaceDamage is in surface-local coordinates. BufferDamage is in
	// buffer coordinates.
	SurfaceDamage region.Region
	BufferDamage  region.Region

	Opaque region.Region

	// Input is ignored if InputInfinite is set.
	Input         region.Region
	InputInfinite bool

	Transform geom.Transform
	Scale     int32

	// Crop is the viewport source rectangle in surface coordinates
	// before scaling. Dest is the viewport destination size.
	Crop *geom.Rect
	Dest *image.Point

	// SurfaceToBuffer maps surface-local coordinates into buffer
	// coordinates. It is computed on commit.
	SurfaceToBuffer geom.Matrix

	Committed CommitState

	Frames []FrameCallback
}

func (v *ViewState) init() {
	v.Scale = 1
	v.InputInfinite = true
	v.SurfaceToBuffer = geom.Identity()
}

// recycle prepares v to be used as the next pending state after cur
// has become current. Commit-scoped fields are cleared, damage in
// place, and the persistent fields are copied from cur.
func (v *ViewState) recycle(cur *ViewState) {
	v.Buffer = nil
	v.Offset = image.Point{}
	v.SurfaceDamage.Clear()
	v.BufferDamage.Clear()
	v.Committed = 0
	v.Frames = nil

	v.Opaque.Set(&cur.Opaque)
	v.Input.Set(&cur.Input)
	v.InputInfinite = cur.InputInfinite
	v.Transform = cur.Transform
	v.Scale = cur.Scale
	v.Crop = cur.Crop
	v.Dest = cur.Dest
	v.SurfaceToBuffer = cur.SurfaceToBuffer
}

// merge folds the changes recorded in src into v as if they had been
// made on top of it. A buffer in v that is replaced by one from src is
// released.
func (v *ViewState) merge(src *ViewState) {
	c := src.Committed
	if c&StateBuffer != 0 {
		if v.Buffer != nil && v.Buffer != src.Buffer {
			v.Buffer.Release()
		}
		v.Buffer = src.Buffer
	}
	if c&StateOffset != 0 {
		v.Offset = v.Offset.Add(src.Offset)
	}
	if c&StateSurfaceDamage != 0 {
		v.SurfaceDamage.Union(&src.SurfaceDamage)
	}
	if c&StateBufferDamage != 0 {
		v.BufferDamage.Union(&src.BufferDamage)
	}
	if c&StateOpaque != 0 {
		v.Opaque.Set(&src.Opaque)
	}
	if c&StateInput != 0 {
		v.Input.Set(&src.Input)
		v.InputInfinite = src.InputInfinite
	}
	if c&StateTransform != 0 {
		v.Transform = src.Transform
	}
	if c&StateScale != 0 {
		v.Scale = src.Scale
	}
	if c&StateCrop != 0 {
		v.Crop = src.Crop
	}
	if c&StateDest != 0 {
		v.Dest = src.Dest
	}
	if c&StateFrame != 0 {
		v.Frames = append(v.Frames, src.Frames...)
	}
	v.Committed |= c
}

// swap exchanges the contents of two states.
func (v *ViewState) swap(o *ViewState) {
	*v, *o = *o, *v
}

func timestampMS(t time.Duration) uint32 {
	return uint32(t.Milliseconds())
}
