package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"deedles.dev/wlcomp/compositor"
	"deedles.dev/wlcomp/internal/debug"
	"deedles.dev/wlcomp/internal/ev"
	"deedles.dev/wlcomp/internal/objstore"
	"deedles.dev/wlcomp/internal/set"
	"deedles.dev/wlcomp/wire"
)

// wl_display error codes.
const (
	ErrorInvalidObject  uint32 = 0
	ErrorInvalidMethod  uint32 = 1
	ErrorNoMemory       uint32 = 2
	ErrorImplementation uint32 = 3
)

// serverIDs is the first object ID used for objects that the server
// creates itself.
const serverIDs = 0xFF000000

// displayError is a fatal error that is reported against the client's
// wl_display instead of the object that caused it.
type displayError struct {
	Code    uint32
	Message string
}

func (err *displayError) Error() string {
	return fmt.Sprintf("wl_display error %v: %v", err.Code, err.Message)
}

func invalidObject(format string, args ...any) error {
	return &displayError{Code: ErrorInvalidObject, Message: fmt.Sprintf(format, args...)}
}

// Client is a single connection to the server.
type Client struct {
	server *Server
	conn   *wire.Conn
	store  *objstore.Store
	disp   *display

	done  chan struct{}
	close sync.Once
	dead  bool

	surfaces set.Set[*surface]

	OnDestroy ev.Signal[*Client]
}

func newClient(server *Server, conn *wire.Conn) *Client {
	client := Client{
		server:   server,
		conn:     conn,
		store:    objstore.New(serverIDs),
		done:     make(chan struct{}),
		surfaces: make(set.Set[*surface]),
	}

	client.disp = &display{resource: resource{id: 1, client: &client, version: 1}}
	client.store.Add(client.disp)

	return &client
}

func (client *Client) listen() {
	for {
		msg, err := client.conn.ReadMessage()
		if err != nil {
			select {
			case <-client.done:
				return
			default:
			}

			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				client.server.logger.Warn("read from client", "err", err)
			}
			client.server.reactor.Post(compositor.FuncEvent(func() error {
				client.destroy()
				return nil
			}))
			return
		}

		client.server.reactor.Post(compositor.FuncEvent(func() error {
			client.dispatch(msg)
			return nil
		}))
	}
}

func (client *Client) dispatch(msg *wire.MessageBuffer) {
	if client.dead {
		return
	}

	obj := client.store.Get(msg.Sender())
	if obj == nil {
		client.fail(nil, wire.UnknownSenderIDError{Msg: msg})
		return
	}

	err := obj.Dispatch(msg)
	if err != nil {
		client.fail(obj, err)
	}
}

// fail reports a fatal error to the client and disconnects it.
func (client *Client) fail(obj wire.Object, err error) {
	debug.Dump("failed request", err)

	var (
		perr  *compositor.ProtocolError
		derr  *displayError
		operr wire.UnknownOpError
		serr  wire.UnknownSenderIDError
		dcerr *decodeError
	)
	switch {
	case errors.As(err, &perr):
		target := obj
		if t, ok := obj.(interface{ errorTarget(string) wire.Object }); ok {
			if o := t.errorTarget(perr.Object); o != nil {
				target = o
			}
		}
		client.postError(target.ID(), perr.Code, perr.Message)
	case errors.As(err, &derr):
		client.postError(1, derr.Code, derr.Message)
	case errors.As(err, &serr):
		client.postError(1, ErrorInvalidObject, err.Error())
	case errors.As(err, &operr), errors.As(err, &dcerr):
		client.postError(obj.ID(), ErrorInvalidMethod, err.Error())
	default:
		client.server.logger.Error("request failed", "err", err)
		client.postError(1, ErrorImplementation, err.Error())
	}
}

func (client *Client) postError(id, code uint32, msg string) {
	client.server.logger.Info("client protocol error", "object", id, "code", code, "message", msg)

	mb := wire.NewMessage(client.disp, 0)
	mb.Method = "error"
	mb.Args = []any{id, code, msg}
	mb.WriteUint(id)
	mb.WriteUint(code)
	mb.WriteString(msg)
	client.Enqueue(mb)
	client.Flush()

	client.destroy()
}

// add registers a new object that the client created.
func (client *Client) add(obj wire.Object) error {
	if obj.ID() == 0 || obj.ID() >= serverIDs {
		return invalidObject("invalid new ID %v", obj.ID())
	}
	err := client.store.Add(obj)
	if err != nil {
		return invalidObject("%v", err)
	}
	return nil
}

// remove deletes an object and tells the client that its ID can be
// reused.
func (client *Client) remove(id uint32) {
	if !client.store.Delete(id) || id >= serverIDs {
		return
	}

	mb := wire.NewMessage(client.disp, 1)
	mb.Method = "delete_id"
	mb.Args = []any{id}
	mb.WriteUint(id)
	client.Enqueue(mb)
}

// Enqueue queues an event to be sent on the next Flush.
func (client *Client) Enqueue(mb *wire.MessageBuilder) {
	if client.dead {
		return
	}

	debug.Printf(" -> %v", mb)
	err := mb.Build(client.conn)
	if err != nil {
		client.server.logger.Error("build event", "event", mb.Method, "err", err)
	}
}

// Flush sends queued events. A client that can't be written to is
// disconnected.
func (client *Client) Flush() {
	if client.dead {
		return
	}

	err := client.conn.Flush()
	if err != nil {
		client.server.logger.Warn("write to client", "err", err)
		client.destroy()
	}
}

// Destroy disconnects the client.
func (client *Client) Destroy() {
	client.destroy()
}

func (client *Client) destroy() {
	if client.dead {
		return
	}
	client.dead = true
	client.close.Do(func() { close(client.done) })

	client.store.Clear()
	client.conn.Close()
	client.server.clients.Delete(client)

	client.OnDestroy.Emit(client)
	client.OnDestroy.Clear()
}

// Dead reports whether the client has been disconnected.
func (client *Client) Dead() bool {
	return client.dead
}

// Get returns the client's object with the given ID.
func (client *Client) Get(id uint32) wire.Object {
	return client.store.Get(id)
}

// resource is embedded in every protocol object.
type resource struct {
	id      uint32
	client  *Client
	version uint32
}

func (r *resource) ID() uint32 { return r.id }

func (r *resource) SetID(id uint32) { r.id = id }

func (r *resource) Version() uint32 { return r.version }

// decodeError is returned by dispatch methods when a request's
// arguments couldn't be decoded.
type decodeError struct {
	Interface string
	Method    string
	Err       error
}

func (err *decodeError) Error() string {
	return fmt.Sprintf("decode %v.%v: %v", err.Interface, err.Method, err.Err)
}

func (err *decodeError) Unwrap() error { return err.Err }

// decoded checks msg for decoding errors and traces the request.
func decoded(obj wire.Object, method string, msg *wire.MessageBuffer) error {
	err := msg.Err()
	if err != nil {
		return &decodeError{Interface: obj.Interface(), Method: method, Err: err}
	}
	if debug.Enabled() {
		debug.Printf("%v", msg.Debug(obj, method))
	}
	return nil
}

// since returns an error if a request isn't available at the object's
// version.
func since(obj wire.Object, version uint32, op uint16, min uint32) error {
	if version < min {
		return wire.UnknownOpError{Interface: obj.Interface(), Type: "request", Op: op}
	}
	return nil
}

func lookup[T wire.Object](client *Client, id uint32, iface string) (T, error) {
	obj, ok := client.store.Get(id).(T)
	if !ok {
		var zero T
		return zero, invalidObject("object %v is not a live %v", id, iface)
	}
	return obj, nil
}

// lookupOptional is like lookup but allows the null object.
func lookupOptional[T wire.Object](client *Client, id uint32, iface string) (obj T, err error) {
	if id == 0 {
		return obj, nil
	}
	return lookup[T](client, id, iface)
}
