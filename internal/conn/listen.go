package conn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// Listener is a one-shot rendezvous: it binds an address and resolves to the
// first peer that connects, then stops listening.
type Listener struct {
	ln   *net.TCPListener
	o    options
	once sync.Once
}

// NewListener binds addr. Port 0 picks a free port; see Addr.
func NewListener(ctx context.Context, addr string, opts ...Option) (*Listener, error) {
	o := buildOptions(opts)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	tl, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return nil, fmt.Errorf("listen %s: not a TCP listener", addr)
	}

	o.log.Info().Str("addr", tl.Addr().String()).Msg("Listening")
	return &Listener{ln: tl, o: o}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Accept waits for the single peer, polling with acceptTimeout as the bounded
// wait. There is no cap on the number of polls; only ctx ends the wait. The
// listener is closed on return, whatever the outcome.
func (l *Listener) Accept(ctx context.Context, acceptTimeout time.Duration) (*Conn, error) {
	defer l.Close()

	if acceptTimeout <= 0 {
		acceptTimeout = time.Second
	}

	for polls := 1; ; polls++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := l.ln.SetDeadline(time.Now().Add(acceptTimeout)); err != nil {
			return nil, fmt.Errorf("set accept deadline: %w", err)
		}

		nc, err := l.ln.Accept()
		if err == nil {
			c := newConn(RoleServer, nc, l.o)
			c.log.Info().Msg("Client accepted")
			return c, nil
		}

		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			l.o.log.Debug().
				Int("poll", polls).
				Str("addr", l.ln.Addr().String()).
				Msg("Waiting for client")
			continue
		}
		return nil, fmt.Errorf("accept: %w", err)
	}
}

// Close stops listening. Safe to call more than once.
func (l *Listener) Close() error {
	var err error
	l.once.Do(func() {
		err = l.ln.Close()
	})
	return err
}

// Listen binds addr and blocks until exactly one client connects.
func Listen(ctx context.Context, addr string, acceptTimeout time.Duration, opts ...Option) (*Conn, error) {
	l, err := NewListener(ctx, addr, opts...)
	if err != nil {
		return nil, err
	}
	return l.Accept(ctx, acceptTimeout)
}
