package server

import (
	"deedles.dev/wlcomp/wire"
)

type display struct {
	resource
}

func (d *display) Interface() string { return "wl_display" }

func (d *display) Delete() {}

func (d *display) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0:
		id := msg.ReadUint()
		if err := decoded(d, "sync", msg); err != nil {
			return err
		}
		return d.sync(id)

	case 1:
		id := msg.ReadUint()
		if err := decoded(d, "get_registry", msg); err != nil {
			return err
		}
		return d.getRegistry(id)

	default:
		return wire.UnknownOpError{Interface: d.Interface(), Type: "request", Op: msg.Op()}
	}
}

func (d *display) sync(id uint32) error {
	cb := callback{resource: resource{id: id, client: d.client, version: 1}}
	if err := d.client.add(&cb); err != nil {
		return err
	}
	cb.done(d.client.server.ctx.Clock().Now().Milliseconds())
	return nil
}

func (d *display) getRegistry(id uint32) error {
	server := d.client.server

	r := registry{resource: resource{id: id, client: d.client, version: 1}}
	if err := d.client.add(&r); err != nil {
		return err
	}
	server.registries.Add(&r)

	for _, g := range server.sortedGlobals() {
		r.sendGlobal(g)
	}
	return nil
}

type registry struct {
	resource
}

func (r *registry) Interface() string { return "wl_registry" }

func (r *registry) Delete() {
	r.client.server.registries.Delete(r)
}

func (r *registry) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0:
		name := msg.ReadUint()
		id := msg.ReadNewID()
		if err := decoded(r, "bind", msg); err != nil {
			return err
		}
		return r.bind(name, id)

	default:
		return wire.UnknownOpError{Interface: r.Interface(), Type: "request", Op: msg.Op()}
	}
}

func (r *registry) bind(name uint32, id wire.NewID) error {
	g, ok := r.client.server.globals[name]
	if !ok {
		return invalidObject("no global with name %v", name)
	}
	if id.Interface != g.iface {
		return invalidObject("global %v is %v, not %v", name, g.iface, id.Interface)
	}
	if id.Version == 0 || id.Version > g.version {
		return invalidObject("invalid version %v for %v, max is %v", id.Version, g.iface, g.version)
	}

	return g.bind(r.client, id.ID, id.Version)
}

func (r *registry) sendGlobal(g *global) {
	mb := wire.NewMessage(r, 0)
	mb.Method = "global"
	mb.Args = []any{g.name, g.iface, g.version}
	mb.WriteUint(g.name)
	mb.WriteString(g.iface)
	mb.WriteUint(g.version)
	r.client.Enqueue(mb)
}

func (r *registry) sendGlobalRemove(name uint32) {
	mb := wire.NewMessage(r, 1)
	mb.Method = "global_remove"
	mb.Args = []any{name}
	mb.WriteUint(name)
	r.client.Enqueue(mb)
}

// callback is a wl_callback. It is destroyed by the server as soon as it
// fires.
type callback struct {
	resource
	fired bool
}

func (cb *callback) Interface() string { return "wl_callback" }

func (cb *callback) Delete() {}

func (cb *callback) Dispatch(msg *wire.MessageBuffer) error {
	return wire.UnknownOpError{Interface: cb.Interface(), Type: "request", Op: msg.Op()}
}

func (cb *callback) done(ms int64) {
	if cb.fired || cb.client.dead {
		return
	}
	cb.fired = true

	mb := wire.NewMessage(cb, 0)
	mb.Method = "done"
	mb.Args = []any{uint32(ms)}
	mb.WriteUint(uint32(ms))
	cb.client.Enqueue(mb)
	cb.client.remove(cb.id)
}
