// Package shm implements the server side of wl_shm: pools of memory
// shared with a client and the buffers that are carved out of them.
package shm

import (
	"os"

	"golang.org/x/sys/unix"
)

// wl_shm formats supported by Buffer.
const (
	FormatARGB8888 uint32 = 0
	FormatXRGB8888 uint32 = 1
)

// Formats returns the formats that are advertised to clients.
func Formats() []uint32 {
	return []uint32{FormatARGB8888, FormatXRGB8888}
}

// wl_shm error codes.
const (
	ErrorInvalidFormat uint32 = 0
	ErrorInvalidStride uint32 = 1
	ErrorInvalidFD     uint32 = 2
)

type Mmap []byte

// Map maps size bytes of file read-only.
func Map(file *os.File, size int) (mmap Mmap, err error) {
	sc, err := file.SyscallConn()
	if err != nil {
		return nil, err
	}

	cerr := sc.Control(func(fd uintptr) {
		m, merr := unix.Mmap(int(fd), 0, size, unix.PROT_READ, unix.MAP_SHARED)
		mmap, err = Mmap(m), merr
	})
	if cerr != nil {
		return nil, cerr
	}

	return mmap, err
}

func (mmap Mmap) Unmap() error {
	if mmap == nil {
		return nil
	}
	return unix.Munmap(mmap)
}
