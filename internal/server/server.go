package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/jashan-lco/banzai/internal/db"
	"github.com/jashan-lco/banzai/internal/queue"
)

// Server exposes the catalog and live task events over HTTP.
type Server struct {
	addr   string
	store  *db.Store
	queue  *queue.Queue
	hub    *Hub
	log    *slog.Logger
	server *http.Server
}

// NewServer wires the API server.
func NewServer(addr string, store *db.Store, q *queue.Queue, log *slog.Logger) *Server {
	return &Server{
		addr:  addr,
		store: store,
		queue: q,
		hub:   NewHub(log),
		log:   log,
	}
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	r := mux.NewRouter()
	s.setupRoutes(r)

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: r,
	}

	go s.hub.Run(ctx)
	if s.queue != nil {
		go s.forwardEvents(ctx)
	}

	go func() {
		<-ctx.Done()
		s.log.Info("Shutting down server...")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("Server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/tasks", s.handleTasks).Methods("GET")
	r.HandleFunc("/calimages", s.handleCalImages).Methods("GET")
	r.HandleFunc("/instruments", s.handleInstruments).Methods("GET")
	r.HandleFunc("/stream", s.handleEventStream).Methods("GET")
	r.HandleFunc("/ws", s.hub.HandleWebSocket).Methods("GET")
}

// forwardEvents relays queue events into the websocket hub.
func (s *Server) forwardEvents(ctx context.Context) {
	events, unsubscribe := s.queue.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, _ := json.Marshal(ev)
			s.hub.Broadcast(payload)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentTasks(100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recs)
}

func (s *Server) handleCalImages(w http.ResponseWriter, r *http.Request) {
	var telescopeID int64
	if v := r.URL.Query().Get("telescope_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid telescope_id", http.StatusBadRequest)
			return
		}
		telescopeID = id
	}
	frameType := r.URL.Query().Get("type")

	var isMaster *bool
	if v := r.URL.Query().Get("is_master"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "invalid is_master", http.StatusBadRequest)
			return
		}
		isMaster = &b
	}

	recs, err := s.store.CalibrationImages(telescopeID, frameType, isMaster)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recs)
}

func (s *Server) handleInstruments(w http.ResponseWriter, r *http.Request) {
	site := r.URL.Query().Get("site")
	if site == "" {
		http.Error(w, "site parameter required", http.StatusBadRequest)
		return
	}
	recs, err := s.store.GetInstrumentsAtSite(site)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recs)
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	if s.queue == nil {
		http.Error(w, "queue not running", http.StatusServiceUnavailable)
		return
	}
	events, unsubscribe := s.queue.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, _ := json.Marshal(ev)
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}
