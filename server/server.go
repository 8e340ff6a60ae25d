// Package server binds a compositor.Context to the Wayland protocol.
//
// Each client connection is read on its own goroutine, but every
// request is handled on the goroutine running the Reactor, so nothing
// in this package needs locking beyond what the Reactor provides.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"

	"deedles.dev/wlcomp/compositor"
	"deedles.dev/wlcomp/internal/ev"
	"deedles.dev/wlcomp/internal/set"
	"deedles.dev/wlcomp/wire"
	"golang.org/x/exp/maps"
)

// Versions of the globals that the server offers.
const (
	CompositorVersion    = 5
	SubcompositorVersion = 1
	ShmVersion           = 1
	OutputVersion        = 3
	ViewporterVersion    = 1
)

// Server accepts client connections and exposes the compositor's
// globals to them.
type Server struct {
	reactor *compositor.Reactor
	ctx     *compositor.Context
	logger  *slog.Logger

	done  chan struct{}
	close sync.Once

	clients    set.Set[*Client]
	registries set.Set[*registry]
	globals    map[uint32]*global
	nextGlobal uint32
	outputs    map[*compositor.Output]*outputGlobal

	// OnClient is emitted after a client has connected.
	OnClient ev.Signal[*Client]
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New creates a server for the Context run by reactor. It must be
// called on the reactor's goroutine, or before the reactor is started.
func New(reactor *compositor.Reactor, opts ...Option) *Server {
	server := Server{
		reactor:    reactor,
		ctx:        reactor.Context(),
		logger:     reactor.Context().Logger(),
		done:       make(chan struct{}),
		clients:    make(set.Set[*Client]),
		registries: make(set.Set[*registry]),
		globals:    make(map[uint32]*global),
		nextGlobal: 1,
		outputs:    make(map[*compositor.Output]*outputGlobal),
	}
	for _, opt := range opts {
		opt(&server)
	}

	server.addGlobal("wl_compositor", CompositorVersion, bindCompositor)
	server.addGlobal("wl_subcompositor", SubcompositorVersion, bindSubcompositor)
	server.addGlobal("wl_shm", ShmVersion, bindShm)
	server.addGlobal("wp_viewporter", ViewporterVersion, bindViewporter)

	for _, out := range server.ctx.Outputs() {
		server.addOutput(out)
	}
	server.ctx.OnOutputAdded.Subscribe(server.addOutput)

	return &server
}

// Serve accepts connections on lis until ctx is canceled or Close is
// called. It closes lis before returning.
func (server *Server) Serve(ctx context.Context, lis *net.UnixListener) error {
	stop := context.AfterFunc(ctx, func() { lis.Close() })
	defer stop()
	defer lis.Close()

	for {
		c, err := lis.AcceptUnix()
		if err != nil {
			select {
			case <-server.done:
				return nil
			default:
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		server.Connect(c)
	}
}

// Connect starts serving a single connection. It is safe to call from
// any goroutine.
func (server *Server) Connect(c *net.UnixConn) {
	server.reactor.Post(compositor.FuncEvent(func() error {
		select {
		case <-server.done:
			c.Close()
			return nil
		default:
		}

		client := newClient(server, wire.NewConn(c))
		server.clients.Add(client)
		go client.listen()
		server.OnClient.Emit(client)
		return nil
	}))
}

// Flush sends every queued event to its client. It is meant to be
// passed to Reactor.Run.
func (server *Server) Flush() error {
	for client := range server.clients {
		client.Flush()
	}
	return nil
}

// Clients returns the connected clients.
func (server *Server) Clients() []*Client {
	clients := make([]*Client, 0, len(server.clients))
	for client := range server.clients {
		clients = append(clients, client)
	}
	return clients
}

// Close disconnects every client. It must be called on the reactor's
// goroutine.
func (server *Server) Close() {
	server.close.Do(func() { close(server.done) })
	for client := range maps.Clone(server.clients) {
		client.destroy()
	}
}

type global struct {
	name    uint32
	iface   string
	version uint32
	bind    func(client *Client, id, version uint32) error
}

func (server *Server) addGlobal(iface string, version uint32, bind func(*Client, uint32, uint32) error) *global {
	g := global{
		name:    server.nextGlobal,
		iface:   iface,
		version: version,
		bind:    bind,
	}
	server.nextGlobal++
	server.globals[g.name] = &g

	for r := range server.registries {
		r.sendGlobal(&g)
	}
	return &g
}

func (server *Server) removeGlobal(g *global) {
	delete(server.globals, g.name)
	for r := range server.registries {
		r.sendGlobalRemove(g.name)
	}
}

func (server *Server) sortedGlobals() []*global {
	globals := make([]*global, 0, len(server.globals))
	for _, g := range server.globals {
		globals = append(globals, g)
	}
	slices.SortFunc(globals, func(g1, g2 *global) int { return int(g1.name) - int(g2.name) })
	return globals
}

// Globals returns the interface names of the current globals, keyed by
// global name.
func (server *Server) Globals() map[uint32]string {
	globals := make(map[uint32]string, len(server.globals))
	for name, g := range server.globals {
		globals[name] = g.iface
	}
	return globals
}
