package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"sidedock/internal/core"
)

// Server is the HTTP API adapter, a thin transport layer over a
// core.TaskManager shared with the Wails frontend.
type Server struct {
	port       int
	logger     *log.Logger
	taskMgr    *core.TaskManager
	server     *http.Server
	mux        *http.ServeMux

	sseClients   map[chan core.TaskUpdateEvent]struct{}
	sseClientsMu sync.Mutex

	prereqProvider      func() interface{}
	deviceProvider      func() interface{}
	settingsProvider    func() interface{}
	startDownloadFunc   func(req StartDownloadRequest) (uint64, error)
	startInstallFunc    func(req StartDownloadRequest) (uint64, error)
}

// ServerOption configures the Server
type ServerOption func(*Server)

// WithPrereqProvider sets the function to get prerequisite status
func WithPrereqProvider(fn func() interface{}) ServerOption {
	return func(s *Server) { s.prereqProvider = fn }
}

// WithDeviceProvider sets the function to get device status
func WithDeviceProvider(fn func() interface{}) ServerOption {
	return func(s *Server) { s.deviceProvider = fn }
}

// WithSettingsProvider sets the function to get the current settings
// document.
func WithSettingsProvider(fn func() interface{}) ServerOption {
	return func(s *Server) { s.settingsProvider = fn }
}

// WithStartDownloadFunc sets the function that starts a download-only task.
func WithStartDownloadFunc(fn func(req StartDownloadRequest) (uint64, error)) ServerOption {
	return func(s *Server) { s.startDownloadFunc = fn }
}

// WithStartDownloadInstallFunc sets the function that starts a
// download-then-install task.
func WithStartDownloadInstallFunc(fn func(req StartDownloadRequest) (uint64, error)) ServerOption {
	return func(s *Server) { s.startInstallFunc = fn }
}

// NewServer creates a new API server bound to a shared task manager.
func NewServer(port int, logger *log.Logger, taskMgr *core.TaskManager, opts ...ServerOption) *Server {
	s := &Server{
		port:       port,
		logger:     logger,
		taskMgr:    taskMgr,
		sseClients: make(map[chan core.TaskUpdateEvent]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux = http.NewServeMux()

	s.mux.HandleFunc("/api/health", s.handleHealth)

	s.mux.HandleFunc("/api/tasks", s.handleTasks)
	s.mux.HandleFunc("/api/tasks/download", s.handleStartDownload)
	s.mux.HandleFunc("/api/tasks/download-install", s.handleStartDownloadInstall)
	s.mux.HandleFunc("/api/tasks/", s.handleTask) // /api/tasks/{id} and /api/tasks/{id}/cancel

	s.mux.HandleFunc("/api/events", s.handleSSE)

	s.mux.HandleFunc("/api/prereqs", s.handlePrereqs)
	s.mux.HandleFunc("/api/devices", s.handleDevices)
	s.mux.HandleFunc("/api/settings", s.handleSettings)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.corsMiddleware(s.loggingMiddleware(s.mux)),
	}

	s.logger.Printf("[API] Starting HTTP server on port %d", s.port)
	return s.server.ListenAndServe()
}

// StartBackground starts the server in a goroutine
func (s *Server) StartBackground(ctx context.Context) {
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("[API] Server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.logger.Printf("[API] Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if s.server != nil {
			if err := s.server.Shutdown(shutdownCtx); err != nil {
				s.logger.Printf("[API] Shutdown error: %v", err)
			}
		}
	}()
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Printf("[API] %s %s (took %v)", r.Method, r.URL.Path, time.Since(start))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// EmitJobUpdate implements core.JobEventEmitter to broadcast events to SSE
// clients.
func (s *Server) EmitJobUpdate(event core.TaskUpdateEvent) {
	s.sseClientsMu.Lock()
	defer s.sseClientsMu.Unlock()

	for clientChan := range s.sseClients {
		select {
		case clientChan <- event:
		default:
			s.logger.Printf("[API] SSE client slow, skipping event")
		}
	}
}

func (s *Server) addSSEClient(ch chan core.TaskUpdateEvent) {
	s.sseClientsMu.Lock()
	defer s.sseClientsMu.Unlock()
	s.sseClients[ch] = struct{}{}
	s.logger.Printf("[API] SSE client connected (total: %d)", len(s.sseClients))
}

func (s *Server) removeSSEClient(ch chan core.TaskUpdateEvent) {
	s.sseClientsMu.Lock()
	defer s.sseClientsMu.Unlock()
	delete(s.sseClients, ch)
	close(ch)
	s.logger.Printf("[API] SSE client disconnected (total: %d)", len(s.sseClients))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: true,
		Data:    data,
	})
}

func (s *Server) writeError(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
	})
}
