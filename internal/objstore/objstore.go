// Package objstore tracks the protocol objects of a single client.
package objstore

import (
	"fmt"
	"slices"

	"deedles.dev/wlcomp/wire"
)

// Store maps object IDs to objects.
type Store struct {
	objects map[uint32]wire.Object
	nextID  uint32
}

// New returns a store that assigns IDs starting at start to objects
// that are added without one.
func New(start uint32) *Store {
	return &Store{
		objects: make(map[uint32]wire.Object),
		nextID:  start,
	}
}

// Add adds obj to the store. If obj has no ID yet, it is given one.
func (s *Store) Add(obj wire.Object) error {
	id := obj.ID()
	if id == 0 {
		id = s.nextID
		obj.SetID(id)
		s.nextID++
	}

	if _, ok := s.objects[id]; ok {
		return fmt.Errorf("object ID %v already in use", id)
	}
	s.objects[id] = obj
	return nil
}

func (s *Store) Get(id uint32) wire.Object {
	return s.objects[id]
}

// Delete removes the object with the given ID and calls its Delete
// method. It reports whether there was such an object.
func (s *Store) Delete(id uint32) bool {
	obj, ok := s.objects[id]
	if !ok {
		return false
	}
	delete(s.objects, id)
	obj.Delete()
	return true
}

func (s *Store) Len() int {
	return len(s.objects)
}

// Clear deletes every object, newest first.
func (s *Store) Clear() {
	ids := make([]uint32, 0, len(s.objects))
	for id := range s.objects {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range slices.Backward(ids) {
		s.Delete(id)
	}
}
