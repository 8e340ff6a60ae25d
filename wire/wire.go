// Package wire implements the Wayland wire protocol: reading requests
// from and writing events to a client's socket.
package wire

// Object represents a Wayland protocol object.
type Object interface {
	ID() uint32
	SetID(id uint32)

	// Interface is the name of the object's protocol interface.
	Interface() string

	// Dispatch performs the operation requested by the message in the
	// buffer.
	Dispatch(msg *MessageBuffer) error

	// Delete is called when the object is removed from its client's
	// object store.
	Delete()
}

// NewID is a new_id argument without a statically known interface, as
// used by wl_registry.bind.
type NewID struct {
	Interface string
	Version   uint32
	ID        uint32
}

func padding(length uint32) uint32 {
	return (4 - (length % 4)) % 4
}

func pop[T any](s *[]T) (v T, ok bool) {
	if len(*s) == 0 {
		return v, false
	}

	v = (*s)[0]
	*s = (*s)[1:]
	return v, true
}
