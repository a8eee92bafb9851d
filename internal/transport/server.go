package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/inkwell-dev/roomsync/internal/coordinator"
	"github.com/inkwell-dev/roomsync/pkg/logger"
)

// Stats reports coarse server-wide counters for /api/stats.
type Stats struct {
	StartTime int64 `json:"start_time"`
	NumRooms  int   `json:"num_rooms"`
	NumAgents int   `json:"num_agents"`
}

// Server is the HTTP surface that upgrades connections to websockets and
// hands each one to a transport.Connection bound to the shared
// coordinator. Room lifetime is owned entirely by the coordinator now,
// so unlike the teacher's per-document sync.Map, this server holds no
// per-room state of its own.
type Server struct {
	handle coordinator.SessionHandle
	mux    *http.ServeMux
	start  time.Time

	outboundBufferSize int
	readTimeout        time.Duration
	writeTimeout       time.Duration
}

// Config bundles the transport-tunable knobs that don't belong to the
// coordinator itself.
type Config struct {
	OutboundBufferSize int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
}

// NewServer creates an HTTP server backed by handle.
func NewServer(handle coordinator.SessionHandle, cfg Config) *Server {
	s := &Server{
		handle:             handle,
		mux:                http.NewServeMux(),
		start:              time.Now(),
		outboundBufferSize: cfg.OutboundBufferSize,
		readTimeout:        cfg.ReadTimeout,
		writeTimeout:       cfg.WriteTimeout,
	}
	s.mux.HandleFunc("/api/socket", s.handleSocket)
	s.mux.HandleFunc("/api/stats", s.handleStats)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleSocket upgrades to a websocket and hands the connection off to a
// transport.Connection. Room selection happens entirely over the wire
// protocol (Create/Join messages), not the URL path.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		logger.Error("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	connHandler := NewConnection(s.handle, conn, s.outboundBufferSize, s.readTimeout, s.writeTimeout)
	if err := connHandler.Handle(r.Context()); err != nil {
		logger.Error("connection error: %v", err)
	}

	conn.Close(websocket.StatusNormalClosure, "")
}

// handleStats reports coarse counters sourced from the coordinator.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := Stats{
		StartTime: s.start.Unix(),
		NumRooms:  len(s.handle.List()),
		NumAgents: len(s.handle.ListAgents()),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	logger.Info("server listening on %s", addr)
	return http.ListenAndServe(addr, s)
}

// Shutdown returns nil without stopping anything: ListenAndServe serves
// through http.ListenAndServe and keeps no *http.Server, so the listener
// and open connections are not closed here. Coordinator teardown is the
// caller's responsibility (stop its Run loop separately).
func (s *Server) Shutdown(ctx context.Context) error {
	return nil
}
