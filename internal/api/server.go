// Package api exposes the pipeline over REST plus a WebSocket stream of
// broadcast envelopes.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loglane/backend/internal/core"
	"github.com/loglane/backend/internal/detect"
	"github.com/loglane/backend/internal/faults"
	"github.com/loglane/backend/internal/metrics"
	"github.com/loglane/backend/internal/queue"
	"github.com/loglane/backend/internal/store"
)

// Server wires the submission and observability endpoints.
type Server struct {
	clock     core.Clock
	queue     *queue.Queue
	patterns  *detect.PatternCache
	handler   *faults.Handler
	collector *metrics.Collector
	storage   store.Store
	streamer  *Streamer

	srv    *http.Server
	logger *log.Logger
}

// NewServer builds the HTTP server around the pipeline components.
func NewServer(clock core.Clock, q *queue.Queue, patterns *detect.PatternCache, handler *faults.Handler, collector *metrics.Collector, storage store.Store, streamer *Streamer) *Server {
	return &Server{
		clock:     clock,
		queue:     q,
		patterns:  patterns,
		handler:   handler,
		collector: collector,
		storage:   storage,
		streamer:  streamer,
		logger:    log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

// Start listens on the port. Blocks until the server exits.
func (s *Server) Start(port int) error {
	r := mux.NewRouter()

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if req.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	r.HandleFunc("/api/v1/ingest", s.handleIngest).Methods("POST")
	r.HandleFunc("/api/v1/stats", s.handleStats).Methods("GET")
	r.HandleFunc("/api/v1/patterns", s.handlePatterns).Methods("GET")
	r.HandleFunc("/api/v1/errors", s.handleErrors).Methods("GET")
	r.HandleFunc("/api/v1/events", s.handleEvents).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler())
	if s.streamer != nil {
		r.HandleFunc("/ws", s.streamer.HandleWebSocket)
	}

	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	s.logger.Printf("listening on :%d", port)
	return s.srv.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

type ingestRequest struct {
	Content    string `json:"content"`
	SourcePath string `json:"source_path"`
	SourceName string `json:"source_name"`
	Priority   string `json:"priority"`
}

// handleIngest accepts one payload and enqueues it. The response reports
// only admission; processing outcomes arrive over the WebSocket stream.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Content == "" || req.SourceName == "" {
		writeError(w, http.StatusBadRequest, "content and source_name are required")
		return
	}

	entry := core.NewLogEntry(s.clock, req.Content, req.SourcePath, req.SourceName, core.ParsePriority(req.Priority))
	accepted := s.queue.Enqueue(entry)
	status := http.StatusAccepted
	if !accepted {
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, map[string]interface{}{
		"entry_id": entry.EntryID,
		"accepted": accepted,
		"pressure": s.queue.Pressure(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queue":    s.queue.Stats(),
		"pressure": s.queue.Pressure(),
		"pipeline": s.collector.Snapshot(),
		"faults":   s.handler.Stats(),
	})
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    s.patterns.Len(),
		"patterns": s.patterns.Snapshot(),
	})
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"recent": s.handler.Recent(50),
		"stats":  s.handler.Stats(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.storage.RecentEvents(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(events),
		"events": events,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"pressure": s.queue.Pressure(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
