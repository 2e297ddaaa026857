package actor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"
)

// FrameSink receives animation frames. Delivery is best effort.
type FrameSink interface {
	Send(frame []byte) error
}

// UDPSink sends each frame as one datagram to the animation frontend.
type UDPSink struct {
	conn *net.UDPConn
}

// NewUDPSink resolves addr and opens a unicast socket to it.
func NewUDPSink(addr string) (*UDPSink, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve frontend %s: %w", addr, err)
	}
	c, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("open frontend socket: %w", err)
	}
	return &UDPSink{conn: c}, nil
}

// Send writes one datagram. With nobody listening it may fail; callers log and go on.
func (s *UDPSink) Send(frame []byte) error {
	_, err := s.conn.Write(frame)
	return err
}

// Close closes the socket.
func (s *UDPSink) Close() error {
	return s.conn.Close()
}

// Record writes every datagram of exactly frameLen bytes received on pc to w,
// until ctx ends or limit frames were written (limit <= 0 means no limit).
// Datagrams of any other size are skipped.
func Record(ctx context.Context, pc net.PacketConn, w io.Writer, frameLen, limit int, log zerolog.Logger) (int, error) {
	buf := make([]byte, frameLen+1024)
	written := 0

	for limit <= 0 || written < limit {
		if err := ctx.Err(); err != nil {
			return written, nil
		}
		if err := pc.SetReadDeadline(time.Now().Add(200 * time.Millisecond)); err != nil {
			return written, err
		}

		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return written, fmt.Errorf("read frame: %w", err)
		}

		if n != frameLen {
			log.Debug().Int("bytes", n).Str("from", from.String()).Msg("Skipping datagram of wrong size")
			continue
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return written, fmt.Errorf("write frame: %w", err)
		}
		written++
		log.Debug().Int("frames", written).Str("from", from.String()).Msg("Recorded frame")
	}
	return written, nil
}
