// Package status serves the liveness endpoint and a live stream of delivery
// events.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/newsrelay/newsrelay/internal/logging"
	"github.com/newsrelay/newsrelay/internal/publisher"
)

// Snapshot is the /healthz payload.
type Snapshot struct {
	Status              string     `json:"status"`
	Uptime              string     `json:"uptime"`
	Ready               bool       `json:"ready"`
	DedupKeys           int        `json:"dedup_keys"`
	LastPoll            *time.Time `json:"last_poll,omitempty"`
	ActiveConversations int        `json:"active_conversations"`
}

// Provider reports the current pipeline state.
type Provider interface {
	Snapshot() Snapshot
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func() Snapshot

// Snapshot implements Provider.
func (f ProviderFunc) Snapshot() Snapshot { return f() }

// eventBuffer bounds the delivery events waiting for broadcast. Events beyond
// it are dropped.
const eventBuffer = 64

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server is the HTTP side of the process.
type Server struct {
	router   *mux.Router
	provider Provider
	logger   *logging.Logger
	started  time.Time

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	httpSrv *http.Server
	writeMu sync.Mutex

	events   chan publisher.Event
	done     chan struct{}
	stopOnce sync.Once
}

// NewServer builds the router: "/" for liveness, "/healthz" for the status
// snapshot and "/ws" for delivery events.
func NewServer(provider Provider, logger *logging.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		provider: provider,
		logger:   logger,
		started:  time.Now(),
		clients:  make(map[*websocket.Conn]bool),
		events:   make(chan publisher.Event, eventBuffer),
		done:     make(chan struct{}),
	}
	go s.broadcastLoop()
	s.router.HandleFunc("/", s.handleAlive).Methods("GET", "HEAD")
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebsocket)
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr in the background.
func (s *Server) Start(addr string) {
	s.mu.Lock()
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpSrv
	s.mu.Unlock()

	go func() {
		s.logger.Info("Starting status server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status server failed: %v", err)
		}
	}()
}

// Shutdown stops the server, the broadcaster and drops websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.done) })

	s.mu.Lock()
	srv := s.httpSrv
	for c := range s.clients {
		c.Close()
		delete(s.clients, c)
	}
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handleAlive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("Bot is alive!"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.provider.Snapshot()
	snap.Uptime = time.Since(s.started).Round(time.Second).String()
	if snap.Status == "" {
		snap.Status = "ok"
		if !snap.Ready {
			snap.Status = "starting"
		}
	}
	respondWithJSON(w, http.StatusOK, snap)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warning("Error upgrading to websocket: %v", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	if err := s.write(conn, "init", s.provider.Snapshot()); err != nil {
		return
	}

	// Reads only detect disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Observe queues a delivery event for the websocket clients. It never
// blocks: when the queue is full the event is dropped.
func (s *Server) Observe(ev publisher.Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Debug("Dropping publish event for %q: broadcast queue full", ev.Title)
	}
}

func (s *Server) broadcastLoop() {
	for {
		select {
		case ev := <-s.events:
			s.broadcast("publish", ev)
		case <-s.done:
			return
		}
	}
}

func (s *Server) broadcast(eventType string, data interface{}) {
	s.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if err := s.write(c, eventType, data); err != nil {
			s.logger.Debug("Dropping websocket client: %v", err)
			s.mu.Lock()
			delete(s.clients, c)
			s.mu.Unlock()
			c.Close()
		}
	}
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) write(c *websocket.Conn, eventType string, data interface{}) error {
	msg, err := json.Marshal(map[string]interface{}{
		"type": eventType,
		"data": data,
		"time": time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	// gorilla connections allow one concurrent writer
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	c.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.WriteMessage(websocket.TextMessage, msg)
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Failed to marshal JSON response"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
