package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tailwind/internal/coordinator"
	"tailwind/pkg/platform"

	"go.uber.org/zap"
)

// Coordinator is the part of the data coordinator the API exposes
type Coordinator interface {
	Status() coordinator.Status
	Refresh(ctx context.Context) error
}

type coordinatorAdapter[T any] struct {
	c *coordinator.Coordinator[T]
}

func (a coordinatorAdapter[T]) Status() coordinator.Status { return a.c.Status() }

func (a coordinatorAdapter[T]) Refresh(ctx context.Context) error {
	_, err := a.c.Refresh(ctx)
	return err
}

// FromCoordinator adapts a typed coordinator for the API
func FromCoordinator[T any](c *coordinator.Coordinator[T]) Coordinator {
	return coordinatorAdapter[T]{c: c}
}

// Server provides HTTP API endpoints for the entities and their coordinator
type Server struct {
	entities    []platform.Entity
	byID        map[string]platform.Entity
	coordinator Coordinator
	hub         *Hub
	subs        []platform.Subscription
	logger      *zap.Logger
	server      *http.Server
}

// NewServer creates a new API server. Entity changes are streamed to
// WebSocket clients from the moment the server is created.
func NewServer(entities []platform.Entity, coord Coordinator, logger *zap.Logger, port int) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")

	s := &Server{
		entities:    entities,
		byID:        make(map[string]platform.Entity, len(entities)),
		coordinator: coord,
		hub:         NewHub(logger),
		logger:      logger,
	}

	for _, e := range entities {
		s.byID[e.UniqueID()] = e
		s.subs = append(s.subs, e.OnChange(func(state platform.EntityState) {
			s.hub.Broadcast(EventStateChanged, state)
		}))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleSitemap)
	mux.HandleFunc("/api/entities", s.handleListEntities)
	mux.HandleFunc("/api/entities/{unique_id}", s.handleGetEntity)
	mux.HandleFunc("/api/coordinator", s.handleCoordinator)
	mux.HandleFunc("/api/refresh", s.handleRefresh)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler serving all endpoints
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Hub returns the WebSocket hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// EntitiesResponse represents the JSON response for the entity list
type EntitiesResponse struct {
	Count    int                    `json:"count"`
	Entities []platform.EntityState `json:"entities"`
}

// RefreshResponse represents the JSON response for a manual refresh
type RefreshResponse struct {
	Refreshed   bool               `json:"refreshed"`
	Error       string             `json:"error,omitempty"`
	Coordinator coordinator.Status `json:"coordinator"`
}

func (s *Server) states() []platform.EntityState {
	states := make([]platform.EntityState, len(s.entities))
	for i, e := range s.entities {
		states[i] = e.State()
	}
	return states
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// handleListEntities returns the last reported state of every entity
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	states := s.states()
	s.writeJSON(w, http.StatusOK, EntitiesResponse{Count: len(states), Entities: states})

	s.logger.Debug("Entities request served",
		zap.String("remote_addr", r.RemoteAddr))
}

// handleGetEntity returns one entity by unique id
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uniqueID := r.PathValue("unique_id")
	e, ok := s.byID[uniqueID]
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "unknown entity: " + uniqueID,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, e.State())
}

// handleCoordinator returns the coordinator status
func (s *Server) handleCoordinator(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.coordinator.Status())
}

// handleRefresh refreshes the coordinator now. Concurrent requests share a
// single fetch.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	err := s.coordinator.Refresh(r.Context())
	response := RefreshResponse{
		Refreshed:   err == nil,
		Coordinator: s.coordinator.Status(),
	}

	status := http.StatusOK
	if err != nil {
		response.Error = err.Error()
		status = http.StatusServiceUnavailable
		s.logger.Warn("Manual refresh failed", zap.Error(err))
	}
	s.writeJSON(w, status, response)
}

// handleHealth reports ok while the coordinator is available
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.coordinator.Status().Available {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

var endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This sitemap - lists all available API endpoints"},
	{Path: "/api/entities", Method: "GET", Description: "Last reported state of every entity"},
	{Path: "/api/entities/{unique_id}", Method: "GET", Description: "State of one entity"},
	{Path: "/api/coordinator", Method: "GET", Description: "Coordinator availability and failure count"},
	{Path: "/api/refresh", Method: "POST", Description: "Refresh the coordinator now"},
	{Path: "/health", Method: "GET", Description: "Health check - 503 while the coordinator is unavailable"},
	{Path: "/ws", Method: "GET", Description: "WebSocket stream of entity state changes"},
}

// handleSitemap returns a list of all available API endpoints
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	// Only handle requests to the root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	accept := r.Header.Get("Accept")
	preferHTML := strings.Contains(accept, "text/html")

	if preferHTML {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head>
    <title>Tailwind API</title>
    <style>
        body { font-family: monospace; margin: 40px; background: #1e1e1e; color: #d4d4d4; }
        h1 { color: #4ec9b0; }
        .endpoint { background: #2d2d2d; padding: 15px; margin: 10px 0; border-left: 3px solid #007acc; }
        .method { color: #4ec9b0; font-weight: bold; }
        .path { color: #ce9178; }
        .description { color: #9cdcfe; margin-top: 5px; }
    </style>
</head>
<body>
    <h1>Tailwind API</h1>
`)
		for _, ep := range endpoints {
			fmt.Fprintf(w, `    <div class="endpoint">
        <div><span class="method">%s</span> <span class="path">%s</span></div>
        <div class="description">%s</div>
    </div>
`, ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprint(w, "</body>\n</html>\n")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "Tailwind API\n")
		fmt.Fprintf(w, "============\n\n")
		fmt.Fprintf(w, "Available endpoints:\n\n")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "  %-6s %-28s %s\n", ep.Method, ep.Path, ep.Description)
		}
	}

	s.logger.Debug("Sitemap request served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Bool("html_format", preferHTML))
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop detaches from the entities, disconnects WebSocket clients and
// gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
	s.hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
