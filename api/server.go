package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/wricardo/mcp-training/linetracer/sim/config"
	"github.com/wricardo/mcp-training/linetracer/sim/engine"
	"github.com/wricardo/mcp-training/linetracer/sim/policy"
	"github.com/wricardo/mcp-training/linetracer/sim/runlog"
	"github.com/wricardo/mcp-training/linetracer/sim/service"
	"github.com/wricardo/mcp-training/linetracer/transport/websocket"
)

// Server represents the REST API server
type Server struct {
	service service.SimulationService
	hub     *websocket.Hub
	router  *mux.Router
}

// NewServer creates a new API server
func NewServer(simService service.SimulationService, hub *websocket.Hub) *Server {
	s := &Server{
		service: simService,
		hub:     hub,
		router:  mux.NewRouter(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Control
	api.HandleFunc("/play", s.handlePlay).Methods("POST")
	api.HandleFunc("/pause", s.handlePause).Methods("POST")
	api.HandleFunc("/stop", s.handleStop).Methods("POST")

	// Manual placement
	api.HandleFunc("/reposition/begin", s.handleBeginReposition).Methods("POST")
	api.HandleFunc("/reposition/update", s.handleUpdatePosition).Methods("POST")
	api.HandleFunc("/reposition/end", s.handleEndReposition).Methods("POST")
	api.HandleFunc("/heading", s.handleHeading).Methods("POST")

	// Display
	api.HandleFunc("/visibility", s.handleVisibility).Methods("POST")
	api.HandleFunc("/speed", s.handleSpeed).Methods("POST")
	api.HandleFunc("/telemetry", s.handleTelemetry).Methods("GET")

	// Maps and policies
	api.HandleFunc("/maps", s.handleListMaps).Methods("GET")
	api.HandleFunc("/maps/{name}", s.handleLoadMap).Methods("POST")
	api.HandleFunc("/policies", s.handleListPolicies).Methods("GET")
	api.HandleFunc("/policies/{name}", s.handleSelectPolicy).Methods("POST")

	// Run log
	api.HandleFunc("/runs", s.handleListRuns).Methods("GET")
	api.HandleFunc("/runs/{id}", s.handleGetRun).Methods("GET")

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// WebSocket
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, config.ErrMapNotFound),
		errors.Is(err, policy.ErrUnknownPolicy),
		errors.Is(err, runlog.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrBusy),
		errors.Is(err, service.ErrNotRepositioning),
		errors.Is(err, service.ErrRejected):
		return http.StatusConflict
	case errors.Is(err, config.ErrInvalidMap):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Control Handlers

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.service.Play)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.service.Pause)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.service.Stop)
}

func (s *Server) control(w http.ResponseWriter, r *http.Request, call func(context.Context) (*service.ControlResult, error)) {
	result, err := call(r.Context())
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	// Compact server log for observability
	status := "REJECTED"
	if result.Accepted {
		status = "OK"
	}
	if st := result.State; st != nil {
		fmt.Printf("[CTRL] %s status=%s pos=(%.0f,%.0f) heading=%.0f run=%.1fcm miss=%.1fcm %s\n",
			result.Request, st.Status, st.Pose.X, st.Pose.Y, st.Pose.Heading,
			st.Metrics.DistanceTraveled, st.Metrics.DistanceOffLine, status)
	}

	respondJSON(w, http.StatusOK, result)
}

// Placement Handlers

type positionRequest struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

func decodePosition(r *http.Request) (x, y float64, err error) {
	var req positionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return 0, 0, err
	}
	if req.X == nil || req.Y == nil {
		return 0, 0, errors.New("x and y are required")
	}
	return *req.X, *req.Y, nil
}

func (s *Server) handleBeginReposition(w http.ResponseWriter, r *http.Request) {
	tel, err := s.service.BeginReposition(r.Context())
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, tel)
}

func (s *Server) handleUpdatePosition(w http.ResponseWriter, r *http.Request) {
	x, y, err := decodePosition(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	tel, err := s.service.UpdatePosition(r.Context(), x, y)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, tel)
}

func (s *Server) handleEndReposition(w http.ResponseWriter, r *http.Request) {
	x, y, err := decodePosition(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	tel, err := s.service.EndReposition(r.Context(), x, y)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	fmt.Printf("[CTRL] reposition pos=(%.0f,%.0f) status=%s\n", x, y, tel.Status)
	respondJSON(w, http.StatusOK, tel)
}

func (s *Server) handleHeading(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Heading *float64 `json:"heading"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Heading == nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tel, err := s.service.SetHeading(r.Context(), *req.Heading)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, tel)
}

// Display Handlers

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Visible *bool `json:"visible"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Visible == nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tel, err := s.service.SetVisibility(r.Context(), *req.Visible)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, tel)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level int `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tel, err := s.service.SetSpeed(r.Context(), req.Level)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, tel)
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	tel, err := s.service.Telemetry(r.Context())
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, tel)
}

// Map and Policy Handlers

func (s *Server) handleListMaps(w http.ResponseWriter, r *http.Request) {
	maps, err := s.service.ListMaps(r.Context())
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, maps)
}

func (s *Server) handleLoadMap(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSuffix(mux.Vars(r)["name"], ".json")

	tel, err := s.service.LoadMap(r.Context(), name)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	log.Printf("Map %s loaded via API", name)
	respondJSON(w, http.StatusOK, tel)
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := s.service.ListPolicies(r.Context())
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, policies)
}

func (s *Server) handleSelectPolicy(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	tel, err := s.service.SelectPolicy(r.Context(), name)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, tel)
}

// Run Log Handlers

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := runlog.Filter{
		Map:    query.Get("map"),
		Policy: query.Get("policy"),
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			filter.Limit = l
		}
	}

	runs, err := s.service.ListRuns(r.Context(), filter)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(runs),
		"runs":  runs,
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.service.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// WebSocket Handler

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "websocket not available", http.StatusServiceUnavailable)
		return
	}
	s.hub.ServeWS(w, r)
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
