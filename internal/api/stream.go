package api

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/loglane/backend/internal/broadcast"
)

// Streamer pushes broadcast envelopes to connected WebSocket clients. It
// registers a channel observer with the broadcaster and fans envelopes out
// from a single hub loop.
type Streamer struct {
	observer *broadcast.ChanObserver

	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	upgrader   websocket.Upgrader

	done   chan struct{}
	logger *log.Logger
}

// NewStreamer builds the hub and hooks it into the broadcaster.
func NewStreamer(caster *broadcast.Broadcaster) *Streamer {
	s := &Streamer{
		observer:   broadcast.NewChanObserver("websocket-hub", 256),
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		done:   make(chan struct{}),
		logger: log.New(log.Writer(), "[WS] ", log.LstdFlags),
	}
	caster.Register(s.observer)
	return s
}

// Run pumps envelopes to clients until Stop. Call in a goroutine.
func (s *Streamer) Run() {
	for {
		select {
		case <-s.done:
			return

		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			total := len(s.clients)
			s.mu.Unlock()
			s.logger.Printf("client connected (total: %d)", total)

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				client.Close()
			}
			total := len(s.clients)
			s.mu.Unlock()
			s.logger.Printf("client disconnected (total: %d)", total)

		case env := <-s.observer.C():
			s.mu.Lock()
			for client := range s.clients {
				if err := client.WriteJSON(env); err != nil {
					s.logger.Printf("write error: %v", err)
					client.Close()
					delete(s.clients, client)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Stop halts the hub and disconnects all clients.
func (s *Streamer) Stop() {
	close(s.done)
	s.mu.Lock()
	for client := range s.clients {
		client.Close()
	}
	s.clients = make(map[*websocket.Conn]bool)
	s.mu.Unlock()
}

// HandleWebSocket upgrades the connection and parks a reader that detects
// disconnects.
func (s *Streamer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("upgrade error: %v", err)
		return
	}

	s.register <- conn

	go func() {
		defer func() { s.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
