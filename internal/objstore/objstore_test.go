package objstore_test

import (
	"testing"

	"deedles.dev/wlcomp/internal/objstore"
	"deedles.dev/wlcomp/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type object struct {
	id      uint32
	deleted *[]uint32
}

func (obj *object) ID() uint32                             { return obj.id }
func (obj *object) SetID(id uint32)                        { obj.id = id }
func (obj *object) Interface() string                      { return "object" }
func (obj *object) Dispatch(msg *wire.MessageBuffer) error { return nil }
func (obj *object) Delete()                                { *obj.deleted = append(*obj.deleted, obj.id) }

func TestStore(t *testing.T) {
	var deleted []uint32
	s := objstore.New(100)

	require.NoError(t, s.Add(&object{id: 1, deleted: &deleted}))
	require.NoError(t, s.Add(&object{id: 5, deleted: &deleted}))
	assert.Error(t, s.Add(&object{id: 5, deleted: &deleted}))

	auto := &object{deleted: &deleted}
	require.NoError(t, s.Add(auto))
	assert.Equal(t, uint32(100), auto.id)
	assert.Same(t, auto, s.Get(100))
	assert.Equal(t, 3, s.Len())

	assert.True(t, s.Delete(5))
	assert.False(t, s.Delete(5))
	assert.Nil(t, s.Get(5))

	s.Clear()
	assert.Equal(t, []uint32{5, 100, 1}, deleted)
	assert.Equal(t, 0, s.Len())
}
