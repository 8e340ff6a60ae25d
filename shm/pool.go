package shm

import (
	"errors"
	"fmt"
	"image"
	"os"

	"deedles.dev/wlcomp/compositor"
	"deedles.dev/wlcomp/shm/shmimage"
	"deedles.dev/ximage"
)

func shmError(obj string, code uint32, format string, args ...any) error {
	return &compositor.ProtocolError{
		Object:  obj,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Pool is memory shared by a client. It stays mapped until both the
// pool and every buffer created from it have been destroyed.
type Pool struct {
	file *os.File
	mmap Mmap
	refs int
}

// NewPool maps size bytes of file. The pool takes ownership of file.
func NewPool(file *os.File, size int) (*Pool, error) {
	if size <= 0 {
		file.Close()
		return nil, shmError("wl_shm", ErrorInvalidStride, "invalid pool size %v", size)
	}

	mmap, err := Map(file, size)
	if err != nil {
		file.Close()
		return nil, shmError("wl_shm", ErrorInvalidFD, "mmap failed: %v", err)
	}

	return &Pool{
		file: file,
		mmap: mmap,
		refs: 1,
	}, nil
}

func (p *Pool) Size() int {
	return len(p.mmap)
}

// Resize grows the pool to size bytes. Pools can't shrink.
func (p *Pool) Resize(size int) error {
	if size < len(p.mmap) {
		return shmError("wl_shm_pool", ErrorInvalidStride, "shrinking pool from %v to %v", len(p.mmap), size)
	}
	if size == len(p.mmap) {
		return nil
	}

	mmap, err := Map(p.file, size)
	if err != nil {
		return shmError("wl_shm_pool", ErrorInvalidFD, "remap failed: %v", err)
	}
	p.mmap.Unmap()
	p.mmap = mmap
	return nil
}

// CreateBuffer creates a buffer that shows part of the pool.
func (p *Pool) CreateBuffer(offset, width, height, stride int, format uint32) (*Buffer, error) {
	if format != FormatARGB8888 && format != FormatXRGB8888 {
		return nil, shmError("wl_shm_pool", ErrorInvalidFormat, "unsupported format %#x", format)
	}
	if offset < 0 || width <= 0 || height <= 0 || stride < width*4 || offset > len(p.mmap)-stride*height {
		return nil, shmError(
			"wl_shm_pool",
			ErrorInvalidStride,
			"invalid width, height or stride (%vx%v, %v) at offset %v in pool of %v bytes",
			width, height, stride, offset, len(p.mmap),
		)
	}

	p.refs++
	return &Buffer{
		pool:   p,
		offset: offset,
		stride: stride,
		size:   image.Pt(width, height),
		format: format,
	}, nil
}

// Destroy destroys the pool. The memory is unmapped once every buffer
// from the pool is destroyed as well.
func (p *Pool) Destroy() error {
	return p.unref()
}

func (p *Pool) unref() error {
	p.refs--
	if p.refs > 0 {
		return nil
	}

	err := errors.Join(p.mmap.Unmap(), p.file.Close())
	p.mmap = nil
	return err
}

// Buffer is a rectangle of pixels in a Pool. It implements
// compositor.Buffer.
type Buffer struct {
	pool      *Pool
	offset    int
	stride    int
	size      image.Point
	format    uint32
	destroyed bool

	// OnRelease is called when the compositor stops reading from the
	// buffer.
	OnRelease func()
}

func (b *Buffer) Size() image.Point { return b.size }

func (b *Buffer) Format() uint32 { return b.format }

func (b *Buffer) Stride() int { return b.stride }

// Image returns the buffer's pixels. The image reads directly from
// shared memory. A destroyed buffer has transparent content.
func (b *Buffer) Image() image.Image {
	rect := image.Rectangle{Max: b.size}
	if b.destroyed || b.pool.mmap == nil {
		return image.NewRGBA(rect)
	}

	pix := b.pool.mmap[b.offset : b.offset+b.stride*b.size.Y]
	switch {
	case b.format == FormatXRGB8888:
		return &shmimage.XRGB8888{Pix: pix, Stride: b.stride, Rect: rect}
	case b.stride == b.size.X*4:
		return &ximage.FormatImage{Format: ximage.ARGB8888, Rect: rect, Pix: pix}
	default:
		return &shmimage.ARGB8888{Pix: pix, Stride: b.stride, Rect: rect}
	}
}

func (b *Buffer) Release() {
	if b.destroyed || b.OnRelease == nil {
		return
	}
	b.OnRelease()
}

// Destroy destroys the buffer. A surface that still shows it keeps its
// last uploaded content.
func (b *Buffer) Destroy() error {
	if b.destroyed {
		return nil
	}
	b.destroyed = true
	return b.pool.unref()
}
