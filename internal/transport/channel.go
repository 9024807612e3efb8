// Package transport implements the buffered byte channel the ADB session
// multiplexer reads and writes through. It knows nothing about ADB
// framing; it only moves bytes, with timeouts and an idempotent close.
package transport

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/scrcpy-core/adbcore/internal/coreerr"
)

// bufferSize mirrors the 64KiB internal buffer the reference transport
// channel fills from on every short read.
const bufferSize = 64 * 1024

// Timeout sentinels for ReadExact, mirroring the ringbuf.WaitForever /
// ringbuf.WaitNonBlocking pair. Any other value is a bounded relative
// deadline.
const (
	// Forever blocks until dst is full, the channel closes, or the
	// underlying conn errors.
	Forever time.Duration = -1
	// NonBlocking performs a single read attempt and fails with
	// coreerr.WouldBlock instead of waiting if dst cannot be filled
	// immediately.
	NonBlocking time.Duration = 0
)

// Channel is a blocking, buffered byte transport over a net.Conn. Reads
// and writes are safe to call from different goroutines, but not
// concurrently with themselves (the session multiplexer serializes each
// direction through its own single reader/writer goroutine).
type Channel struct {
	conn   net.Conn
	closed atomic.Bool

	buf        []byte
	bufHead    int
	bufTail    int
}

// Dial resolves and connects to addr ("host:port"), disabling Nagle's
// algorithm the way the reference TcpChannel does.
func Dial(addr string) (*Channel, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "transport: dial")
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return Wrap(conn), nil
}

// Wrap adapts an already-connected net.Conn (e.g. one accepted from a
// listener set up for a reverse port forward).
func Wrap(conn net.Conn) *Channel {
	return &Channel{conn: conn, buf: make([]byte, bufferSize)}
}

// ReadExact blocks until dst is fully populated, the channel closes, or
// timeout elapses. timeout == Forever (negative) blocks indefinitely;
// timeout == NonBlocking (zero) makes a single attempt and fails with
// coreerr.WouldBlock if dst cannot be filled immediately; a positive
// timeout is a relative deadline.
func (c *Channel) ReadExact(dst []byte, timeout time.Duration) error {
	if c.closed.Load() {
		return coreerr.Wrap(coreerr.KindTransportBroken, "transport: read on closed channel", nil)
	}

	offset := 0
	for offset < len(dst) {
		if c.bufTail > c.bufHead {
			n := copy(dst[offset:], c.buf[c.bufHead:c.bufTail])
			c.bufHead += n
			offset += n
			if offset == len(dst) {
				break
			}
		}

		needed := len(dst) - offset
		if needed >= bufferSize {
			if err := c.setDeadline(timeout); err != nil {
				return err
			}
			n, err := c.conn.Read(dst[offset:])
			if n > 0 {
				offset += n
			}
			if err != nil {
				return classifyReadErr(err, timeout)
			}
			continue
		}

		if err := c.fillBuffer(timeout); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) fillBuffer(timeout time.Duration) error {
	c.bufHead = 0
	c.bufTail = 0

	if err := c.setDeadline(timeout); err != nil {
		return err
	}
	n, err := c.conn.Read(c.buf)
	if n > 0 {
		c.bufTail = n
	}
	if err != nil && n == 0 {
		return classifyReadErr(err, timeout)
	}
	return nil
}

func (c *Channel) setDeadline(timeout time.Duration) error {
	switch {
	case timeout == NonBlocking:
		// A deadline already in the past makes conn.Read return
		// immediately with a timeout error if no data is buffered by
		// the OS yet, which is the closest net.Conn gets to a true
		// non-blocking read.
		return c.conn.SetReadDeadline(time.Unix(0, 0))
	case timeout < 0:
		return c.conn.SetReadDeadline(time.Time{})
	default:
		return c.conn.SetReadDeadline(time.Now().Add(timeout))
	}
}

func classifyReadErr(err error, timeout time.Duration) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		if timeout == NonBlocking {
			return coreerr.Wrap(coreerr.KindWouldBlock, "transport: read would block", err)
		}
		return coreerr.Wrap(coreerr.KindTimeout, "transport: read timeout", err)
	}
	return coreerr.Wrap(coreerr.KindTransportBroken, "transport: read failed", err)
}

// Write blocks until all of data has been written or an error occurs.
func (c *Channel) Write(data []byte) error {
	if c.closed.Load() {
		return coreerr.Wrap(coreerr.KindTransportBroken, "transport: write on closed channel", nil)
	}
	offset := 0
	for offset < len(data) {
		n, err := c.conn.Write(data[offset:])
		if n > 0 {
			offset += n
		}
		if err != nil {
			return coreerr.Wrap(coreerr.KindTransportBroken, "transport: write failed", err)
		}
	}
	return nil
}

// Close is idempotent and unblocks any goroutine waiting in ReadExact or
// Write, matching TcpChannel's shutdown(fd, SHUT_RDWR) behavior.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

// IsClosed reports whether Close has been called.
func (c *Channel) IsClosed() bool {
	return c.closed.Load()
}
