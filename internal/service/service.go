package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/NewComer00/TalkyTalky/internal/bus"
	"github.com/NewComer00/TalkyTalky/internal/conn"
	"github.com/NewComer00/TalkyTalky/internal/metrics"
)

// ResponseWriter sends a response back over the session's connection.
type ResponseWriter interface {
	Send(msg string) error
}

// Handler applies a capability to one request. It runs to completion before
// the next request is read and must send at least one response.
type Handler interface {
	ServeRequest(ctx context.Context, req string, w ResponseWriter) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, req string, w ResponseWriter) error

// ServeRequest calls f
func (f HandlerFunc) ServeRequest(ctx context.Context, req string, w ResponseWriter) error {
	return f(ctx, req, w)
}

// Respond builds a Handler for capabilities that answer with a single message.
func Respond(fn func(ctx context.Context, req string) (string, error)) Handler {
	return HandlerFunc(func(ctx context.Context, req string, w ResponseWriter) error {
		resp, err := fn(ctx, req)
		if err != nil {
			return err
		}
		return w.Send(resp)
	})
}

// Session pairs the single accepted connection with the capability behind it.
type Session struct {
	Name    string
	Conn    *conn.Conn
	Handler Handler
	Metrics *metrics.Metrics
	Bus     *bus.EventBus
	Log     zerolog.Logger
}

type sessionWriter struct {
	s    *Session
	sent int
}

// Send refuses an empty message: the peer skips zero-byte reads, so it would
// wait forever for a response that never arrives.
func (w *sessionWriter) Send(msg string) error {
	if msg == "" {
		return fmt.Errorf("%w: empty response", ErrProtocol)
	}
	if err := w.s.Conn.Send(msg); err != nil {
		return err
	}
	w.sent++
	w.s.Log.Info().Str("response", msg).Msg("Sent")
	return nil
}

// Serve receives, handles and answers requests one at a time, forever.
// It returns only on a fatal error (peer closed, malformed input, handler or
// send failure) or when ctx ends. There is no per-request recovery, and the
// connection is closed on return.
func Serve(ctx context.Context, s *Session) error {
	defer s.Conn.Close()
	stop := context.AfterFunc(ctx, func() { s.Conn.Close() })
	defer stop()

	s.Log.Info().Str("remote", s.Conn.RemoteAddr().String()).Msg("Serving")

	for {
		req, err := s.Conn.Recv()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%s: %w", s.Name, err)
		}
		if req == "" {
			continue
		}

		s.Log.Info().Str("request", req).Msg("Received")
		s.Bus.Publish(bus.NewEvent(bus.EventTypeCapabilityRequest, map[string]any{
			"capability": s.Name,
			"request":    req,
		}))

		w := &sessionWriter{s: s}
		start := time.Now()
		err = s.Handler.ServeRequest(ctx, req, w)
		elapsed := time.Since(start)
		s.Metrics.ObserveRequest(s.Name, elapsed, err)

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%s: handle request: %w", s.Name, err)
		}
		if w.sent == 0 {
			return fmt.Errorf("%s: %w: no response sent", s.Name, ErrProtocol)
		}

		s.Bus.Publish(bus.NewEvent(bus.EventTypeCapabilityResponse, map[string]any{
			"capability": s.Name,
			"duration":   elapsed.String(),
		}))
	}
}
