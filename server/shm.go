package server

import (
	"deedles.dev/wlcomp/shm"
	"deedles.dev/wlcomp/wire"
)

type shmGlobal struct {
	resource
}

func bindShm(client *Client, id, version uint32) error {
	s := shmGlobal{resource: resource{id: id, client: client, version: version}}
	if err := client.add(&s); err != nil {
		return err
	}

	for _, format := range shm.Formats() {
		mb := wire.NewMessage(&s, 0)
		mb.Method = "format"
		mb.Args = []any{format}
		mb.WriteUint(format)
		client.Enqueue(mb)
	}
	return nil
}

func (s *shmGlobal) Interface() string { return "wl_shm" }

func (s *shmGlobal) Delete() {}

func (s *shmGlobal) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0:
		id := msg.ReadUint()
		file := msg.ReadFile()
		size := msg.ReadInt()
		if err := decoded(s, "create_pool", msg); err != nil {
			if file != nil {
				file.Close()
			}
			return err
		}

		p, err := shm.NewPool(file, int(size))
		if err != nil {
			return err
		}
		pool := shmPool{
			resource: resource{id: id, client: s.client, version: s.version},
			pool:     p,
		}
		if err := s.client.add(&pool); err != nil {
			p.Destroy()
			return err
		}
		return nil

	default:
		return wire.UnknownOpError{Interface: s.Interface(), Type: "request", Op: msg.Op()}
	}
}

type shmPool struct {
	resource
	pool *shm.Pool
}

func (p *shmPool) Interface() string { return "wl_shm_pool" }

func (p *shmPool) Delete() {
	err := p.pool.Destroy()
	if err != nil {
		p.client.server.logger.Warn("destroy pool", "err", err)
	}
}

func (p *shmPool) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0:
		id := msg.ReadUint()
		offset, w, h, stride := msg.ReadInt(), msg.ReadInt(), msg.ReadInt(), msg.ReadInt()
		format := msg.ReadUint()
		if err := decoded(p, "create_buffer", msg); err != nil {
			return err
		}
		return p.createBuffer(id, int(offset), int(w), int(h), int(stride), format)

	case 1:
		if err := decoded(p, "destroy", msg); err != nil {
			return err
		}
		p.client.remove(p.id)
		return nil

	case 2:
		size := msg.ReadInt()
		if err := decoded(p, "resize", msg); err != nil {
			return err
		}
		return p.pool.Resize(int(size))

	default:
		return wire.UnknownOpError{Interface: p.Interface(), Type: "request", Op: msg.Op()}
	}
}

func (p *shmPool) createBuffer(id uint32, offset, w, h, stride int, format uint32) error {
	buf, err := p.pool.CreateBuffer(offset, w, h, stride, format)
	if err != nil {
		return err
	}

	b := buffer{
		resource: resource{id: id, client: p.client, version: 1},
		buf:      buf,
	}
	if err := p.client.add(&b); err != nil {
		buf.Destroy()
		return err
	}
	buf.OnRelease = b.release
	return nil
}
