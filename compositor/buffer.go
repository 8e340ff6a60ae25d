package compositor

import (
	"image"

	"deedles.dev/wlcomp/region"
)

// Buffer is client pixel content that can be attached to a surface.
type Buffer interface {
	// Size is the buffer's size in pixels.
	Size() image.Point

	// Format is the buffer's pixel format, as a wl_shm format code.
	Format() uint32

	// Image returns the buffer's pixels.
	Image() image.Image

	// Release tells the owner of the buffer that the compositor no
	// longer reads from it.
	Release()
}

// Texture is the renderer's copy of a buffer's content.
type Texture interface {
	Size() image.Point

	// Update uploads the parts of buf that are in damage into the
	// texture. Damage is given in buffer coordinates and may be modified
	// as the upload progresses. If buf can't be uploaded into this
	// texture, Update returns an error wrapping ErrIncompatible.
	Update(buf Buffer, damage *region.Region) error

	Destroy()
}

// TextureAllocator creates textures for buffers.
type TextureAllocator interface {
	CreateTexture(buf Buffer) (Texture, error)
}

type nopAllocator struct{}

func (nopAllocator) CreateTexture(buf Buffer) (Texture, error) {
	return &nopTexture{size: buf.Size(), format: buf.Format()}, nil
}

type nopTexture struct {
	size   image.Point
	format uint32
}

func (t *nopTexture) Size() image.Point { return t.size }

func (t *nopTexture) Update(buf Buffer, damage *region.Region) error {
	if buf.Size() != t.size || buf.Format() != t.format {
		return ErrIncompatible
	}
	damage.Clear()
	return nil
}

func (t *nopTexture) Destroy() {}
