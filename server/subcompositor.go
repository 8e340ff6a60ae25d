package server

import (
	"deedles.dev/wlcomp/compositor"
	"deedles.dev/wlcomp/wire"
)

type subcompositor struct {
	resource
}

func bindSubcompositor(client *Client, id, version uint32) error {
	return client.add(&subcompositor{resource: resource{id: id, client: client, version: version}})
}

func (sc *subcompositor) Interface() string { return "wl_subcompositor" }

func (sc *subcompositor) Delete() {}

func (sc *subcompositor) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0:
		if err := decoded(sc, "destroy", msg); err != nil {
			return err
		}
		sc.client.remove(sc.id)
		return nil

	case 1:
		id := msg.ReadUint()
		childID := msg.ReadObject()
		parentID := msg.ReadObject()
		if err := decoded(sc, "get_subsurface", msg); err != nil {
			return err
		}
		return sc.getSubsurface(id, childID, parentID)

	default:
		return wire.UnknownOpError{Interface: sc.Interface(), Type: "request", Op: msg.Op()}
	}
}

func (sc *subcompositor) getSubsurface(id, childID, parentID uint32) error {
	child, err := lookup[*surface](sc.client, childID, "wl_surface")
	if err != nil {
		return err
	}
	parent, err := lookup[*surface](sc.client, parentID, "wl_surface")
	if err != nil {
		return err
	}

	sub, err := sc.client.server.ctx.CreateSubsurface(child.surface, parent.surface)
	if err != nil {
		return err
	}

	ss := subsurface{
		resource: resource{id: id, client: sc.client, version: sc.version},
		sub:      sub,
	}
	if err := sc.client.add(&ss); err != nil {
		sub.Destroy()
		return err
	}
	return nil
}

// subsurface is a wl_subsurface.
type subsurface struct {
	resource
	sub *compositor.Subsurface
}

func (ss *subsurface) Interface() string { return "wl_subsurface" }

func (ss *subsurface) Delete() {
	ss.sub.Destroy()
}

func (ss *subsurface) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0:
		if err := decoded(ss, "destroy", msg); err != nil {
			return err
		}
		ss.client.remove(ss.id)
		return nil

	case 1:
		x, y := msg.ReadInt(), msg.ReadInt()
		if err := decoded(ss, "set_position", msg); err != nil {
			return err
		}
		ss.sub.SetPosition(int(x), int(y))
		return nil

	case 2, 3:
		method := "place_above"
		if msg.Op() == 3 {
			method = "place_below"
		}
		siblingID := msg.ReadObject()
		if err := decoded(ss, method, msg); err != nil {
			return err
		}
		sibling, err := lookup[*surface](ss.client, siblingID, "wl_surface")
		if err != nil {
			return err
		}
		if method == "place_above" {
			return ss.sub.PlaceAbove(sibling.surface)
		}
		return ss.sub.PlaceBelow(sibling.surface)

	case 4:
		if err := decoded(ss, "set_sync", msg); err != nil {
			return err
		}
		ss.sub.SetSync()
		return nil

	case 5:
		if err := decoded(ss, "set_desync", msg); err != nil {
			return err
		}
		ss.sub.SetDesync()
		return nil

	default:
		return wire.UnknownOpError{Interface: ss.Interface(), Type: "request", Op: msg.Op()}
	}
}
