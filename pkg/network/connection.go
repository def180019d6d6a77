package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/ZentaChain/zentalk-peer/pkg/protocol"
)

// Connection wraps a socket with independent send and receive guards, so a
// send and a receive may overlap but two sends (or two receives) never do.
type Connection struct {
	id     string
	conn   net.Conn
	reader *bufio.Reader

	sendSem *semaphore.Weighted
	recvSem *semaphore.Weighted

	lastActivity atomic.Int64
	closed       atomic.Bool
	closeOnce    sync.Once
}

func newConnection(conn net.Conn, bufferSize int) *Connection {
	if bufferSize <= 0 {
		bufferSize = 64 * 1024
	}
	c := &Connection{
		id:      uuid.NewString(),
		conn:    conn,
		sendSem: semaphore.NewWeighted(1),
		recvSem: semaphore.NewWeighted(1),
	}
	c.reader = bufio.NewReaderSize(activityReader{c}, bufferSize)
	c.touch()
	return c
}

// ID returns a unique connection id
func (c *Connection) ID() string {
	return c.id
}

// RemoteAddr returns the peer's socket address
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// RemoteIP returns the peer's IP without the port
func (c *Connection) RemoteIP() string {
	if tcp, ok := c.conn.RemoteAddr().(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(c.conn.RemoteAddr().String())
	if err != nil {
		return c.conn.RemoteAddr().String()
	}
	return host
}

// LastActivity returns when a frame was last sent or when bytes last
// arrived, partial frames included
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// IdleFor returns the time since the last frame
func (c *Connection) IdleFor() time.Duration {
	return time.Since(c.LastActivity())
}

// Send writes one complete frame
func (c *Connection) Send(ctx context.Context, frame []byte, timeout time.Duration) error {
	if err := c.sendSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sendSem.Release(1)

	if c.closed.Load() {
		return ErrConnectionClosed
	}

	if err := c.conn.SetWriteDeadline(deadline(ctx, timeout)); err != nil {
		return c.wrapError(ctx, err)
	}
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	if _, err := c.conn.Write(frame); err != nil {
		return c.wrapError(ctx, err)
	}

	c.touch()
	return nil
}

// Receive reads one complete frame and returns its packet buffers. A zero
// timeout waits until ctx is done or the peer closes. Any failure after the
// first byte of a frame was consumed also closes the connection.
func (c *Connection) Receive(ctx context.Context, maxSize uint32, timeout time.Duration) ([][]byte, error) {
	if err := c.recvSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.recvSem.Release(1)

	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}

	if err := c.conn.SetReadDeadline(deadline(ctx, timeout)); err != nil {
		return nil, c.wrapError(ctx, err)
	}
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	fr := &frameReader{r: c.reader}
	buffers, err := protocol.ReadFrame(fr, maxSize)
	if err != nil {
		err = c.receiveError(ctx, err)
		if fr.n > 0 {
			c.Close()
		}
		return nil, err
	}

	c.touch()
	return buffers, nil
}

// Close closes the socket; it is safe to call more than once
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
	})
	return err
}

// Closed reports whether Close was called
func (c *Connection) Closed() bool {
	return c.closed.Load()
}

func (c *Connection) receiveError(ctx context.Context, err error) error {
	if errors.Is(err, protocol.ErrFrameCorrupted) || errors.Is(err, protocol.ErrFrameTooLarge) || errors.Is(err, io.EOF) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return c.wrapError(ctx, err)
}

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// wrapError maps socket errors onto the package's error values
func (c *Connection) wrapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c.closed.Load() || errors.Is(err, net.ErrClosed) {
		return ErrConnectionClosed
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
			return context.DeadlineExceeded
		}
		return fmt.Errorf("%w: timeout: %v", ErrConnectionFailed, err)
	}
	return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
}

// deadline picks the earlier of ctx's deadline and now+timeout. The zero
// time means no deadline.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (d.IsZero() || ctxDeadline.Before(d)) {
		d = ctxDeadline
	}
	return d
}

// activityReader marks the connection active whenever bytes arrive
type activityReader struct {
	c *Connection
}

func (a activityReader) Read(p []byte) (int, error) {
	n, err := a.c.conn.Read(p)
	if n > 0 {
		a.c.touch()
	}
	return n, err
}

// frameReader counts the bytes one ReadFrame call consumed
type frameReader struct {
	r io.Reader
	n int
}

func (f *frameReader) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	f.n += n
	return n, err
}
