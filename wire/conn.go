package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"deedles.dev/wlcomp/internal/set"
	"golang.org/x/sys/unix"
)

// maxFDs is the largest number of file descriptors accepted with a
// single read.
const maxFDs = 28

func xdgRuntimeDir() string {
	dir, ok := os.LookupEnv("XDG_RUNTIME_DIR")
	if ok {
		return dir
	}
	return fmt.Sprintf("/var/run/user/%v", os.Getuid())
}

// SocketPath determines the path to the Wayland Unix domain socket
// based on the contents of the $WAYLAND_DISPLAY environment variable.
// It does not attempt to determine if the value corresponds to an
// actual socket.
func SocketPath() string {
	v, ok := os.LookupEnv("WAYLAND_DISPLAY")
	if !ok {
		v = "wayland-0"
	}
	if filepath.IsAbs(v) {
		return v
	}

	return filepath.Join(xdgRuntimeDir(), v)
}

// NewSocketPath attempts to generate a valid path for opening a new
// socket to listen on.
func NewSocketPath() (string, error) {
	dir := xdgRuntimeDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	names := make(set.Set[int], len(entries))
	for _, ent := range entries {
		after, ok := strings.CutPrefix(ent.Name(), "wayland-")
		if !ok {
			continue
		}
		after, _ = strings.CutSuffix(after, ".lock")
		n, err := strconv.ParseInt(after, 10, 0)
		if err != nil {
			continue
		}
		names.Add(int(n))
	}

	var num int
	for names.Has(num) {
		num++
	}

	return filepath.Join(dir, fmt.Sprintf("wayland-%v", num)), nil
}

// Listen opens a socket for clients to connect to. If name is empty, a
// free wayland-N name in $XDG_RUNTIME_DIR is picked. Relative names are
// relative to $XDG_RUNTIME_DIR.
func Listen(name string) (*net.UnixListener, error) {
	path := name
	switch {
	case path == "":
		p, err := NewSocketPath()
		if err != nil {
			return nil, fmt.Errorf("find socket path: %w", err)
		}
		path = p
	case !filepath.IsAbs(path):
		path = filepath.Join(xdgRuntimeDir(), path)
	}

	lis, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, err
	}
	lis.SetUnlinkOnClose(true)
	return lis, nil
}

// Conn represents a low-level Wayland connection. Incoming data and
// file descriptors are buffered until a full message has arrived, and
// outgoing messages are buffered until Flush is called.
//
// Messages may be read on one goroutine while they are written and
// decoded on another.
type Conn struct {
	conn *net.UnixConn
	in   []byte

	fdm sync.Mutex
	fds []int

	out    bytes.Buffer
	outFDs []int
}

// NewConn creates a new Conn that wraps c. After this is called, use
// the provided Close method to close c instead of calling its own
// Close method.
func NewConn(c *net.UnixConn) *Conn {
	return &Conn{
		conn: c,
	}
}

// Close closes the underlying connection and every file descriptor that
// was received but not claimed.
func (c *Conn) Close() error {
	errs := []error{c.conn.Close()}
	c.fdm.Lock()
	for _, fd := range c.fds {
		errs = append(errs, unix.Close(fd))
	}
	c.fds = nil
	c.fdm.Unlock()
	for _, fd := range c.outFDs {
		errs = append(errs, unix.Close(fd))
	}
	c.outFDs = nil
	return errors.Join(errs...)
}

func (c *Conn) readFDs(data []byte) error {
	cmsgs, err := unix.ParseSocketControlMessage(data)
	if err != nil {
		return fmt.Errorf("parse socket control messages: %w", err)
	}
	for _, cmsg := range cmsgs {
		fds, err := unix.ParseUnixRights(&cmsg)
		if err != nil {
			if errors.Is(err, unix.EINVAL) {
				continue
			}
			return fmt.Errorf("parse unix control message: %w", err)
		}
		c.fdm.Lock()
		c.fds = append(c.fds, fds...)
		c.fdm.Unlock()
	}
	return nil
}

// fill reads from the socket until at least n bytes are buffered.
func (c *Conn) fill(n int) error {
	buf := make([]byte, 4096)
	oob := make([]byte, unix.CmsgSpace(maxFDs*4))
	for len(c.in) < n {
		rn, oobn, _, _, err := c.conn.ReadMsgUnix(buf, oob)
		if oobn > 0 {
			ferr := c.readFDs(oob[:oobn])
			if ferr != nil {
				return ferr
			}
		}
		c.in = append(c.in, buf[:rn]...)
		if err != nil {
			return err
		}
		if rn == 0 && oobn == 0 {
			if len(c.in) == 0 {
				return io.EOF
			}
			return io.ErrUnexpectedEOF
		}
	}
	return nil
}

// ReadMessage blocks until a complete message has been received.
func (c *Conn) ReadMessage() (*MessageBuffer, error) {
	err := c.fill(8)
	if err != nil {
		return nil, fmt.Errorf("read message header: %w", err)
	}

	msg := MessageBuffer{
		conn:   c,
		sender: bin32(c.in[0:4]),
	}
	so := bin32(c.in[4:8])
	msg.size = uint16(so >> 16)
	msg.op = uint16(so & 0xFFFF)
	if msg.size < 8 || msg.size%4 != 0 {
		return nil, fmt.Errorf("invalid message size: %v", msg.size)
	}

	err = c.fill(int(msg.size))
	if err != nil {
		return nil, fmt.Errorf("read message body: %w", err)
	}

	data := make([]byte, msg.size-8)
	copy(data, c.in[8:msg.size])
	c.in = append(c.in[:0], c.in[msg.size:]...)
	msg.data.Reset(data)

	return &msg, nil
}

func (c *Conn) takeFD() (int, bool) {
	c.fdm.Lock()
	defer c.fdm.Unlock()
	return pop(&c.fds)
}

// Flush writes every buffered message to the socket.
func (c *Conn) Flush() error {
	if c.out.Len() == 0 {
		return nil
	}

	var oob []byte
	if len(c.outFDs) > 0 {
		oob = unix.UnixRights(c.outFDs...)
	}
	data := c.out.Bytes()
	n, _, err := c.conn.WriteMsgUnix(data, oob, nil)
	if err == nil && n < len(data) {
		_, err = c.conn.Write(data[n:])
	}

	errs := []error{err}
	for _, fd := range c.outFDs {
		errs = append(errs, unix.Close(fd))
	}
	c.outFDs = c.outFDs[:0]
	c.out.Reset()
	return errors.Join(errs...)
}
