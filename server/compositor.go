package server

import (
	"image"

	"deedles.dev/wlcomp/compositor"
	"deedles.dev/wlcomp/internal/ev"
	"deedles.dev/wlcomp/region"
	"deedles.dev/wlcomp/shm"
	"deedles.dev/wlcomp/wire"
)

type compositorGlobal struct {
	resource
}

func bindCompositor(client *Client, id, version uint32) error {
	return client.add(&compositorGlobal{resource: resource{id: id, client: client, version: version}})
}

func (c *compositorGlobal) Interface() string { return "wl_compositor" }

func (c *compositorGlobal) Delete() {}

func (c *compositorGlobal) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0:
		id := msg.ReadUint()
		if err := decoded(c, "create_surface", msg); err != nil {
			return err
		}
		return c.createSurface(id)

	case 1:
		id := msg.ReadUint()
		if err := decoded(c, "create_region", msg); err != nil {
			return err
		}
		return c.client.add(&regionResource{resource: resource{id: id, client: c.client, version: c.version}})

	default:
		return wire.UnknownOpError{Interface: c.Interface(), Type: "request", Op: msg.Op()}
	}
}

func (c *compositorGlobal) createSurface(id uint32) error {
	s := surface{
		resource: resource{id: id, client: c.client, version: c.version},
		surface:  c.client.server.ctx.CreateSurface(),
	}
	if err := c.client.add(&s); err != nil {
		s.surface.Destroy()
		return err
	}
	c.client.surfaces.Add(&s)

	s.enter = s.surface.OnEnter.Subscribe(func(out *compositor.Output) { s.sendOutput(0, "enter", out) })
	s.leave = s.surface.OnLeave.Subscribe(func(out *compositor.Output) { s.sendOutput(1, "leave", out) })
	return nil
}

// surface is a wl_surface.
type surface struct {
	resource
	surface  *compositor.Surface
	viewport *viewport

	enter, leave ev.Handle
}

func (s *surface) Interface() string { return "wl_surface" }

// Surface returns the compositor surface that s controls.
func (s *surface) Surface() *compositor.Surface { return s.surface }

func (s *surface) Delete() {
	s.client.surfaces.Delete(s)
	s.surface.OnEnter.Unsubscribe(s.enter)
	s.surface.OnLeave.Unsubscribe(s.leave)
	s.surface.Destroy()
}

// errorTarget returns the object that errors about the surface's
// extension state are reported on.
func (s *surface) errorTarget(iface string) wire.Object {
	if iface == "wp_viewport" && s.viewport != nil {
		return s.viewport
	}
	return nil
}

func (s *surface) sendOutput(op uint16, method string, out *compositor.Output) {
	og, ok := s.client.server.outputs[out]
	if !ok {
		return
	}
	for _, r := range og.resourcesOf(s.client) {
		mb := wire.NewMessage(s, op)
		mb.Method = method
		mb.Args = []any{r}
		mb.WriteObject(r)
		s.client.Enqueue(mb)
	}
}

func (s *surface) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0:
		if err := decoded(s, "destroy", msg); err != nil {
			return err
		}
		s.client.remove(s.id)
		return nil

	case 1:
		bufID := msg.ReadObject()
		x, y := msg.ReadInt(), msg.ReadInt()
		if err := decoded(s, "attach", msg); err != nil {
			return err
		}
		return s.attach(bufID, int(x), int(y))

	case 2:
		x, y, w, h := msg.ReadInt(), msg.ReadInt(), msg.ReadInt(), msg.ReadInt()
		if err := decoded(s, "damage", msg); err != nil {
			return err
		}
		return s.surface.Damage(int(x), int(y), int(w), int(h))

	case 3:
		id := msg.ReadUint()
		if err := decoded(s, "frame", msg); err != nil {
			return err
		}
		cb := callback{resource: resource{id: id, client: s.client, version: 1}}
		if err := s.client.add(&cb); err != nil {
			return err
		}
		s.surface.Frame(func(ms uint32) { cb.done(int64(ms)) })
		return nil

	case 4:
		id := msg.ReadObject()
		if err := decoded(s, "set_opaque_region", msg); err != nil {
			return err
		}
		r, err := lookupOptional[*regionResource](s.client, id, "wl_region")
		if err != nil {
			return err
		}
		s.surface.SetOpaqueRegion(r.Region())
		return nil

	case 5:
		id := msg.ReadObject()
		if err := decoded(s, "set_input_region", msg); err != nil {
			return err
		}
		r, err := lookupOptional[*regionResource](s.client, id, "wl_region")
		if err != nil {
			return err
		}
		s.surface.SetInputRegion(r.Region())
		return nil

	case 6:
		if err := decoded(s, "commit", msg); err != nil {
			return err
		}
		return s.surface.Commit()

	case 7:
		if err := since(s, s.version, msg.Op(), 2); err != nil {
			return err
		}
		t := msg.ReadInt()
		if err := decoded(s, "set_buffer_transform", msg); err != nil {
			return err
		}
		return s.surface.SetBufferTransform(t)

	case 8:
		if err := since(s, s.version, msg.Op(), 3); err != nil {
			return err
		}
		scale := msg.ReadInt()
		if err := decoded(s, "set_buffer_scale", msg); err != nil {
			return err
		}
		return s.surface.SetBufferScale(scale)

	case 9:
		if err := since(s, s.version, msg.Op(), 4); err != nil {
			return err
		}
		x, y, w, h := msg.ReadInt(), msg.ReadInt(), msg.ReadInt(), msg.ReadInt()
		if err := decoded(s, "damage_buffer", msg); err != nil {
			return err
		}
		return s.surface.DamageBuffer(int(x), int(y), int(w), int(h))

	case 10:
		if err := since(s, s.version, msg.Op(), 5); err != nil {
			return err
		}
		x, y := msg.ReadInt(), msg.ReadInt()
		if err := decoded(s, "offset", msg); err != nil {
			return err
		}
		s.surface.Offset(int(x), int(y))
		return nil

	default:
		return wire.UnknownOpError{Interface: s.Interface(), Type: "request", Op: msg.Op()}
	}
}

func (s *surface) attach(bufID uint32, x, y int) error {
	if s.version >= 5 && (x != 0 || y != 0) {
		return &compositor.ProtocolError{
			Object:  "wl_surface",
			Code:    compositor.ErrorInvalidOffset,
			Message: "attach offset must be zero, use wl_surface.offset",
		}
	}

	buf, err := lookupOptional[*buffer](s.client, bufID, "wl_buffer")
	if err != nil {
		return err
	}
	if buf == nil {
		s.surface.Attach(nil, x, y)
		return nil
	}
	s.surface.Attach(buf.buf, x, y)
	return nil
}

// regionResource is a wl_region.
type regionResource struct {
	resource
	region region.Region
}

func (r *regionResource) Interface() string { return "wl_region" }

func (r *regionResource) Delete() {}

// Region returns the region, or nil if r is nil.
func (r *regionResource) Region() *region.Region {
	if r == nil {
		return nil
	}
	return &r.region
}

func (r *regionResource) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0:
		if err := decoded(r, "destroy", msg); err != nil {
			return err
		}
		r.client.remove(r.id)
		return nil

	case 1, 2:
		method := "add"
		if msg.Op() == 2 {
			method = "subtract"
		}
		x, y, w, h := msg.ReadInt(), msg.ReadInt(), msg.ReadInt(), msg.ReadInt()
		if err := decoded(r, method, msg); err != nil {
			return err
		}
		if w <= 0 || h <= 0 {
			return nil
		}

		rect := image.Rect(int(x), int(y), int(x)+int(w), int(y)+int(h))
		if method == "add" {
			r.region.Add(rect)
		} else {
			r.region.SubtractRect(rect)
		}
		return nil

	default:
		return wire.UnknownOpError{Interface: r.Interface(), Type: "request", Op: msg.Op()}
	}
}

// buffer is a wl_buffer backed by shared memory.
type buffer struct {
	resource
	buf *shm.Buffer
}

func (b *buffer) Interface() string { return "wl_buffer" }

func (b *buffer) Delete() {
	err := b.buf.Destroy()
	if err != nil {
		b.client.server.logger.Warn("destroy buffer", "err", err)
	}
}

func (b *buffer) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0:
		if err := decoded(b, "destroy", msg); err != nil {
			return err
		}
		b.client.remove(b.id)
		return nil

	default:
		return wire.UnknownOpError{Interface: b.Interface(), Type: "request", Op: msg.Op()}
	}
}

func (b *buffer) release() {
	mb := wire.NewMessage(b, 0)
	mb.Method = "release"
	b.client.Enqueue(mb)
}
