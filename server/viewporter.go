package server

import (
	"deedles.dev/wlcomp/compositor"
	"deedles.dev/wlcomp/geom"
	"deedles.dev/wlcomp/wire"
)

// wp_viewporter and wp_viewport error codes that aren't raised by the
// compositor package.
const (
	ErrorViewportExists uint32 = 0
	ErrorNoSurface      uint32 = 3
)

type viewporter struct {
	resource
}

func bindViewporter(client *Client, id, version uint32) error {
	return client.add(&viewporter{resource: resource{id: id, client: client, version: version}})
}

func (vp *viewporter) Interface() string { return "wp_viewporter" }

func (vp *viewporter) Delete() {}

func (vp *viewporter) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0:
		if err := decoded(vp, "destroy", msg); err != nil {
			return err
		}
		vp.client.remove(vp.id)
		return nil

	case 1:
		id := msg.ReadUint()
		surfaceID := msg.ReadObject()
		if err := decoded(vp, "get_viewport", msg); err != nil {
			return err
		}

		s, err := lookup[*surface](vp.client, surfaceID, "wl_surface")
		if err != nil {
			return err
		}
		if s.viewport != nil {
			return &compositor.ProtocolError{
				Object:  "wp_viewporter",
				Code:    ErrorViewportExists,
				Message: "surface already has a viewport",
			}
		}

		v := viewport{
			resource: resource{id: id, client: vp.client, version: vp.version},
			surface:  s,
		}
		if err := vp.client.add(&v); err != nil {
			return err
		}
		s.viewport = &v
		return nil

	default:
		return wire.UnknownOpError{Interface: vp.Interface(), Type: "request", Op: msg.Op()}
	}
}

// viewport is a wp_viewport. It outlives its surface, but every request
// other than destroy fails after the surface is gone.
type viewport struct {
	resource
	surface *surface
}

func (v *viewport) Interface() string { return "wp_viewport" }

func (v *viewport) Delete() {
	s := v.surface
	if s.viewport != v {
		return
	}
	s.viewport = nil
	if s.surface.Destroyed() {
		return
	}

	// Removing the viewport unsets the crop and destination on the next
	// commit.
	s.surface.SetViewportSource(geom.Rect{X: -1, Y: -1, W: -1, H: -1})
	s.surface.SetViewportDestination(-1, -1)
}

func (v *viewport) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0:
		if err := decoded(v, "destroy", msg); err != nil {
			return err
		}
		v.client.remove(v.id)
		return nil

	case 1:
		x, y, w, h := msg.ReadFixed(), msg.ReadFixed(), msg.ReadFixed(), msg.ReadFixed()
		if err := decoded(v, "set_source", msg); err != nil {
			return err
		}
		if err := v.checkSurface(); err != nil {
			return err
		}
		return v.surface.surface.SetViewportSource(geom.Rect{
			X: x.Float(),
			Y: y.Float(),
			W: w.Float(),
			H: h.Float(),
		})

	case 2:
		w, h := msg.ReadInt(), msg.ReadInt()
		if err := decoded(v, "set_destination", msg); err != nil {
			return err
		}
		if err := v.checkSurface(); err != nil {
			return err
		}
		return v.surface.surface.SetViewportDestination(int(w), int(h))

	default:
		return wire.UnknownOpError{Interface: v.Interface(), Type: "request", Op: msg.Op()}
	}
}

func (v *viewport) checkSurface() error {
	if v.surface.surface.Destroyed() {
		return &compositor.ProtocolError{
			Object:  "wp_viewport",
			Code:    ErrorNoSurface,
			Message: "surface was destroyed",
		}
	}
	return nil
}
