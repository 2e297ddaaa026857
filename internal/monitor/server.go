// Package monitor exposes the action process over HTTP: health, the current
// actor state, recent log lines, a websocket stream of state changes and
// Prometheus metrics.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/NewComer00/TalkyTalky/internal/actor"
	"github.com/NewComer00/TalkyTalky/internal/bus"
	"github.com/NewComer00/TalkyTalky/internal/logging"
)

// Message types on the websocket stream
const (
	TypeSnapshot     = "snapshot"
	TypeStateChanged = "state_changed"
)

// StateEvent is one message on /ws. The first message of every stream is a
// snapshot of the current state.
type StateEvent struct {
	Type string    `json:"type"`
	From string    `json:"from,omitempty"`
	To   string    `json:"to"`
	Text string    `json:"text,omitempty"`
	Time time.Time `json:"time"`
}

// StateResponse is the body of GET /state.
type StateResponse struct {
	State    string `json:"state"`
	Speaking bool   `json:"speaking"`
}

// LogSource supplies the lines served on GET /logs.
type LogSource interface {
	GetHistory(limit int) []logging.LogEntry
}

const (
	clientBuffer    = 16
	defaultLogLimit = 100
)

// Server serves the monitor endpoints.
type Server struct {
	flag     *actor.StateFlag
	gatherer prometheus.Gatherer
	log      zerolog.Logger
	upgrader websocket.Upgrader
	logs     LogSource

	mu      sync.Mutex
	clients map[string]chan StateEvent
	closed  bool
	unsub   func()
}

// NewServer subscribes to actor state changes on b. A nil gatherer serves
// the default Prometheus registry.
func NewServer(flag *actor.StateFlag, b *bus.EventBus, g prometheus.Gatherer, log zerolog.Logger) *Server {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	s := &Server{
		flag:     flag,
		gatherer: g,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]chan StateEvent),
		unsub:   func() {},
	}
	if b != nil {
		s.unsub = b.Subscribe(bus.EventTypeActorStateChanged, s.onStateChanged)
	}
	return s
}

// WithLogs serves src on GET /logs. Without it the endpoint answers an empty list.
func (s *Server) WithLogs(src LogSource) *Server {
	s.logs = src
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/state", s.handleState)
	r.Get("/logs", s.handleLogs)
	r.Get("/ws", s.handleWS)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return r
}

// Run listens on addr until ctx ends.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", addr).Msg("Monitor listening")

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close unsubscribes from the bus and ends every websocket stream.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.unsub()
	for id, ch := range s.clients {
		close(ch)
		delete(s.clients, id)
	}
}

func (s *Server) current() actor.State {
	if s.flag == nil {
		return actor.Idle
	}
	return s.flag.Load()
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	st := s.current()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(StateResponse{
		State:    st.String(),
		Speaking: st == actor.Speaking,
	})
}

// handleLogs answers the most recent log lines, oldest first. ?limit=N caps
// the count; 0 means everything kept.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries := []logging.LogEntry{}
	if s.logs != nil {
		entries = s.logs.GetHistory(limit)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

func (s *Server) onStateChanged(e bus.Event) {
	from, _ := e.Data["from"].(string)
	to, _ := e.Data["to"].(string)
	text, _ := e.Data["text"].(string)
	s.broadcast(StateEvent{Type: TypeStateChanged, From: from, To: to, Text: text, Time: e.Time})
}

func (s *Server) broadcast(ev StateEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.clients {
		select {
		case ch <- ev:
		default:
			s.log.Debug().Str("client", id).Msg("Dropping event for slow client")
		}
	}
}

func (s *Server) register() (string, chan StateEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", nil, false
	}
	id := uuid.NewString()
	ch := make(chan StateEvent, clientBuffer)
	// queued under the lock so no change can slip in ahead of it
	ch <- StateEvent{Type: TypeSnapshot, To: s.current().String(), Time: time.Now()}
	s.clients[id] = ch
	return id, ch, true
}

func (s *Server) unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.clients[id]; ok {
		close(ch)
		delete(s.clients, id)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer ws.Close()

	id, ch, ok := s.register()
	if !ok {
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		return
	}
	log := s.log.With().Str("client", id).Logger()
	log.Debug().Msg("Monitor client connected")

	// the reader only notices the peer going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer s.unregister(id)
	for {
		select {
		case ev, open := <-ch:
			if !open {
				_ = ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := ws.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("Monitor client write failed")
				return
			}
		case <-gone:
			log.Debug().Msg("Monitor client disconnected")
			return
		}
	}
}
