package monitor

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Watcher follows a monitor's /ws stream and reconnects when it drops.
type Watcher struct {
	url     string
	onEvent func(StateEvent)
	log     zerolog.Logger

	connected atomic.Bool

	// MinBackoff and MaxBackoff bound the wait between reconnects.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// NewWatcher builds a watcher for the monitor at addr (host:port or an
// http/ws URL). onEvent is called for every message, in order.
func NewWatcher(addr string, onEvent func(StateEvent), log zerolog.Logger) (*Watcher, error) {
	u, err := wsURL(addr)
	if err != nil {
		return nil, err
	}
	return &Watcher{
		url:        u,
		onEvent:    onEvent,
		log:        log.With().Str("component", "monitor-watch").Logger(),
		MinBackoff: time.Second,
		MaxBackoff: 30 * time.Second,
	}, nil
}

func wsURL(addr string) (string, error) {
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("monitor address %q: %w", addr, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("monitor address %q: unsupported scheme %q", addr, u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

// URL returns the websocket URL being watched.
func (w *Watcher) URL() string { return w.url }

// IsConnected reports whether a stream is currently open.
func (w *Watcher) IsConnected() bool { return w.connected.Load() }

// Run watches until ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	backoff := w.MinBackoff
	failures := 0

	for {
		err := w.watchOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if err == nil {
			// the stream was up; start over from the short wait
			backoff = w.MinBackoff
			failures = 0
		} else {
			failures++
			if failures == 3 {
				w.log.Warn().Err(err).Int("failures", failures).Msg("Monitor unreachable, will keep retrying")
			} else if failures < 3 {
				w.log.Debug().Err(err).Msg("Monitor connection failed, reconnecting")
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		if err != nil && backoff < w.MaxBackoff {
			backoff = min(backoff*2, w.MaxBackoff)
		}
	}
}

// watchOnce returns nil if a stream was opened, however it ended.
func (w *Watcher) watchOnce(ctx context.Context) error {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.url, err)
	}
	defer ws.Close()
	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()

	w.connected.Store(true)
	defer w.connected.Store(false)
	w.log.Info().Str("url", w.url).Msg("Watching actor state")

	for {
		var ev StateEvent
		if err := ws.ReadJSON(&ev); err != nil {
			w.log.Debug().Err(err).Msg("Monitor stream ended")
			return nil
		}
		if w.onEvent != nil {
			w.onEvent(ev)
		}
	}
}
