// Package conn owns the one-connection-per-process socket lifecycle shared by
// every capability: accept exactly one peer on the server side, connect with
// bounded linear retry on the client side.
//
// Messages are raw UTF-8 text with no length prefix. One Recv is one message,
// which holds only because both ends alternate exactly one Send per Recv.
// A message longer than the receive buffer is split across Recv calls.
package conn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// DefaultRecvBufLen is the receive buffer size used when none is configured.
const DefaultRecvBufLen = 4096

var (
	// ErrUnavailable means the client exhausted its connect attempts. The
	// capability behind it will never answer for the life of the process.
	ErrUnavailable = errors.New("capability unavailable")
	// ErrPeerClosed is returned by Recv once the other end has gone away.
	ErrPeerClosed = errors.New("peer closed connection")
	// ErrMalformed is returned for bytes that are not valid UTF-8.
	ErrMalformed = errors.New("malformed message")
)

// Role is the side of the connection this process plays
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// DialFunc opens the underlying stream. Tests substitute it to count attempts.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

type options struct {
	recvBufLen int
	log        zerolog.Logger
	dial       DialFunc
}

// Option configures Listen, NewListener and Dial
type Option func(*options)

// WithRecvBufLen sets the maximum number of bytes returned by one Recv.
func WithRecvBufLen(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.recvBufLen = n
		}
	}
}

// WithLogger sets the logger for connection events.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithDialFunc replaces the TCP dialer used by Dial.
func WithDialFunc(fn DialFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.dial = fn
		}
	}
}

func buildOptions(opts []Option) options {
	var d net.Dialer
	o := options{
		recvBufLen: DefaultRecvBufLen,
		log:        zerolog.Nop(),
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", addr)
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Conn is one established connection, in either role
type Conn struct {
	role Role
	nc   net.Conn
	buf  []byte
	log  zerolog.Logger
}

func newConn(role Role, nc net.Conn, o options) *Conn {
	return &Conn{
		role: role,
		nc:   nc,
		buf:  make([]byte, o.recvBufLen),
		log: o.log.With().
			Str("role", role.String()).
			Str("remote", nc.RemoteAddr().String()).
			Logger(),
	}
}

// Recv performs exactly one read of at most RecvBufLen bytes.
// A read that yields no bytes and no error returns ("", nil), which callers
// treat as "no data".
func (c *Conn) Recv() (string, error) {
	n, err := c.nc.Read(c.buf)
	if n > 0 {
		data := c.buf[:n]
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: %d bytes of invalid UTF-8", ErrMalformed, n)
		}
		c.log.Debug().Int("bytes", n).Msg("Received")
		return string(data), nil
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", ErrPeerClosed
		}
		return "", fmt.Errorf("recv: %w", err)
	}
	return "", nil
}

// Send writes the whole message with no framing.
func (c *Conn) Send(msg string) error {
	if _, err := io.WriteString(c.nc, msg); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	c.log.Debug().Int("bytes", len(msg)).Msg("Sent")
	return nil
}

// Close closes the socket. There is no half-close or drain.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// Role returns whether this end accepted or dialed.
func (c *Conn) Role() Role { return c.role }

// LocalAddr returns the local socket address.
func (c *Conn) LocalAddr() net.Addr { return c.nc.LocalAddr() }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// RecvBufLen returns the receive buffer capacity.
func (c *Conn) RecvBufLen() int { return len(c.buf) }
