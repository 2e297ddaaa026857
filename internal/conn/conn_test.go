package conn

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pair returns an accepted server Conn and its dialed client Conn on loopback.
func pair(t *testing.T, serverOpts ...Option) (*Conn, *Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l, err := NewListener(ctx, "127.0.0.1:0", serverOpts...)
	require.NoError(t, err)

	type result struct {
		c   *Conn
		err error
	}
	accepted := make(chan result, 1)
	go func() {
		c, err := l.Accept(ctx, 20*time.Millisecond)
		accepted <- result{c, err}
	}()

	client, err := Dial(ctx, l.Addr().String(), 3, 10*time.Millisecond)
	require.NoError(t, err)

	r := <-accepted
	require.NoError(t, r.err)

	t.Cleanup(func() {
		client.Close()
		r.c.Close()
	})
	return r.c, client
}

func TestRole_String(t *testing.T) {
	assert.Equal(t, "server", RoleServer.String())
	assert.Equal(t, "client", RoleClient.String())
	assert.Equal(t, "role(7)", Role(7).String())
}

func TestConn_RoundTrip(t *testing.T) {
	server, client := pair(t)

	assert.Equal(t, RoleServer, server.Role())
	assert.Equal(t, RoleClient, client.Role())
	assert.Equal(t, DefaultRecvBufLen, server.RecvBufLen())
	assert.Equal(t, client.LocalAddr().String(), server.RemoteAddr().String())

	require.NoError(t, client.Send("/tmp/a.wav"))
	msg, err := server.Recv()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/a.wav", msg)

	require.NoError(t, server.Send("héllo thére"))
	msg, err = client.Recv()
	require.NoError(t, err)
	assert.Equal(t, "héllo thére", msg)
}

func TestConn_PeerClosed(t *testing.T) {
	server, client := pair(t)

	require.NoError(t, client.Close())
	_, err := server.Recv()
	assert.ErrorIs(t, err, ErrPeerClosed)
}

func TestConn_Malformed(t *testing.T) {
	server, client := pair(t)

	require.NoError(t, client.Send(string([]byte{0xff, 0xfe, 0xfd})))
	_, err := server.Recv()
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestConn_TruncatesAtRecvBufLen(t *testing.T) {
	server, client := pair(t, WithRecvBufLen(4))
	assert.Equal(t, 4, server.RecvBufLen())

	require.NoError(t, client.Send("abcdefgh"))

	first, err := server.Recv()
	require.NoError(t, err)
	assert.Equal(t, "abcd", first)

	second, err := server.Recv()
	require.NoError(t, err)
	assert.Equal(t, "efgh", second)
}

type emptyReadConn struct {
	net.Conn
}

func (emptyReadConn) Read([]byte) (int, error) { return 0, nil }

func TestConn_EmptyReadIsNoData(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	c := newConn(RoleServer, emptyReadConn{a}, buildOptions(nil))
	msg, err := c.Recv()
	assert.NoError(t, err)
	assert.Empty(t, msg)
}

func TestListener_ClosedAfterFirstAccept(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l, err := NewListener(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()

	done := make(chan *Conn, 1)
	go func() {
		c, _ := l.Accept(ctx, 20*time.Millisecond)
		done <- c
	}()

	first, err := Dial(ctx, addr, 3, 10*time.Millisecond)
	require.NoError(t, err)
	defer first.Close()

	server := <-done
	require.NotNil(t, server)
	defer server.Close()

	_, err = Dial(ctx, addr, 1, 0)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestListener_AcceptHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	l, err := NewListener(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	time.AfterFunc(60*time.Millisecond, cancel)

	start := time.Now()
	_, err = l.Accept(ctx, 10*time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestListen_BindError(t *testing.T) {
	_, err := Listen(context.Background(), "256.0.0.1:0", 10*time.Millisecond)
	assert.Error(t, err)
}

func TestDial_AttemptsBoundedByMaxRetries(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		want       int32
	}{
		{"one", 1, 1},
		{"three", 3, 3},
		{"five", 5, 5},
		{"zero means one", 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts int32
			dial := func(ctx context.Context, addr string) (net.Conn, error) {
				atomic.AddInt32(&attempts, 1)
				return nil, errors.New("connection refused")
			}

			c, err := Dial(context.Background(), "127.0.0.1:1", tt.maxRetries, time.Millisecond, WithDialFunc(dial))
			assert.Nil(t, c)
			assert.ErrorIs(t, err, ErrUnavailable)
			assert.Equal(t, tt.want, atomic.LoadInt32(&attempts))
		})
	}
}

func TestDial_SucceedsAfterFailures(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l, err := NewListener(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	go l.Accept(ctx, 20*time.Millisecond)

	var attempts int32
	var d net.Dialer
	dial := func(ctx context.Context, addr string) (net.Conn, error) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return nil, errors.New("not yet")
		}
		return d.DialContext(ctx, "tcp", addr)
	}

	c, err := Dial(ctx, l.Addr().String(), 5, time.Millisecond, WithDialFunc(dial))
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestDial_WaitsRetryDelay(t *testing.T) {
	dial := func(ctx context.Context, addr string) (net.Conn, error) {
		return nil, errors.New("refused")
	}

	start := time.Now()
	_, err := Dial(context.Background(), "x", 3, 30*time.Millisecond, WithDialFunc(dial))
	require.ErrorIs(t, err, ErrUnavailable)

	// two sleeps between three attempts, none after the last
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestDial_ContextCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dial := func(ctx context.Context, addr string) (net.Conn, error) {
		cancel()
		return nil, errors.New("refused")
	}

	_, err := Dial(ctx, "x", 5, time.Hour, WithDialFunc(dial))
	assert.ErrorIs(t, err, context.Canceled)
}
