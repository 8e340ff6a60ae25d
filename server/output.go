package server

import (
	"math"

	"deedles.dev/wlcomp/compositor"
	"deedles.dev/wlcomp/internal/xslices"
	"deedles.dev/wlcomp/wire"
)

// wl_output.mode flags.
const (
	modeCurrent   uint32 = 1
	modePreferred uint32 = 2
)

// outputGlobal is the wl_output global of a single compositor output.
type outputGlobal struct {
	out       *compositor.Output
	global    *global
	resources []*output
}

func (server *Server) addOutput(out *compositor.Output) {
	og := outputGlobal{out: out}
	og.global = server.addGlobal("wl_output", OutputVersion, og.bind)
	server.outputs[out] = &og

	out.OnDeviceChanged.Subscribe(func(*compositor.Output) {
		for _, r := range og.resources {
			r.sendInfo()
		}
	})
	out.OnDestroy.Subscribe(func(*compositor.Output) {
		server.removeGlobal(og.global)
		delete(server.outputs, out)
	})
}

func (og *outputGlobal) bind(client *Client, id, version uint32) error {
	r := output{
		resource: resource{id: id, client: client, version: version},
		global:   og,
	}
	if err := client.add(&r); err != nil {
		return err
	}
	og.resources = append(og.resources, &r)

	r.sendInfo()
	for s := range client.surfaces {
		if s.surface.OnOutput(og.out) {
			mb := wire.NewMessage(s, 0)
			mb.Method = "enter"
			mb.Args = []any{&r}
			mb.WriteObject(&r)
			client.Enqueue(mb)
		}
	}
	return nil
}

// resourcesOf returns the wl_output objects of client that are bound to
// the output.
func (og *outputGlobal) resourcesOf(client *Client) []*output {
	return xslices.Filter(og.resources, func(r *output) bool { return r.client == client })
}

// output is a wl_output.
type output struct {
	resource
	global *outputGlobal
}

func (r *output) Interface() string { return "wl_output" }

func (r *output) Delete() {
	r.global.resources = xslices.Filter(r.global.resources, func(o *output) bool { return o != r })
}

func (r *output) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0:
		if err := since(r, r.version, msg.Op(), 3); err != nil {
			return err
		}
		if err := decoded(r, "release", msg); err != nil {
			return err
		}
		r.client.remove(r.id)
		return nil

	default:
		return wire.UnknownOpError{Interface: r.Interface(), Type: "request", Op: msg.Op()}
	}
}

// sendInfo describes the output's current device to the client.
func (r *output) sendInfo() {
	dev := r.global.out.Device()

	mb := wire.NewMessage(r, 0)
	mb.Method = "geometry"
	mb.Args = []any{dev.Position.X, dev.Position.Y, 0, 0, 0, "wlcomp", dev.Name, dev.Transform}
	mb.WriteInt(int32(dev.Position.X))
	mb.WriteInt(int32(dev.Position.Y))
	mb.WriteInt(0)
	mb.WriteInt(0)
	mb.WriteInt(0)
	mb.WriteString("wlcomp")
	mb.WriteString(dev.Name)
	mb.WriteInt(int32(dev.Transform))
	r.client.Enqueue(mb)

	mb = wire.NewMessage(r, 1)
	mb.Method = "mode"
	mb.Args = []any{modeCurrent | modePreferred, dev.Mode.Width, dev.Mode.Height, dev.Mode.Refresh}
	mb.WriteUint(modeCurrent | modePreferred)
	mb.WriteInt(int32(dev.Mode.Width))
	mb.WriteInt(int32(dev.Mode.Height))
	mb.WriteInt(int32(dev.Mode.Refresh))
	r.client.Enqueue(mb)

	if r.version >= 2 {
		scale := max(int32(math.Ceil(dev.Scale)), 1)
		mb = wire.NewMessage(r, 3)
		mb.Method = "scale"
		mb.Args = []any{scale}
		mb.WriteInt(scale)
		r.client.Enqueue(mb)

		mb = wire.NewMessage(r, 2)
		mb.Method = "done"
		r.client.Enqueue(mb)
	}
}
