// Package opsapi is the small operator-facing REST surface: room
// creation/listing, config introspection, health and metrics. Grounded in
// the teacher's internal/routes (the actually-wired net/http route table,
// not the dead fiber-based internal/api) plus original_source/src/main.rs's
// /api/rooms and /api/config routes.
package opsapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"rendezvous/internal/localip"
	"rendezvous/internal/metrics"
	"rendezvous/internal/signaling"
)

// IceServer mirrors one entry of the effective ICE server configuration
// handed to clients via GET /api/config.
type IceServer struct {
	URLs []string `json:"urls"`
}

// Handlers holds the dependencies for the ops routes.
type Handlers struct {
	Logger     logging.LeveledLogger
	Manager    *signaling.Manager
	IceServers []IceServer
}

type createRoomResponse struct {
	RoomID string `json:"room_id"`
}

type roomExistsResponse struct {
	Exists bool `json:"exists"`
}

type roomInfo struct {
	RoomID    string `json:"room_id"`
	PeerCount int    `json:"peer_count"`
}

type roomsResponse struct {
	Timestamp  string     `json:"timestamp"`
	Rooms      []roomInfo `json:"rooms"`
	TotalRooms int        `json:"total_rooms"`
	TotalPeers int        `json:"total_peers"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// RegisterRoutes mounts every ops endpoint on mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/rooms", h.handleRoomsCollection)
	mux.HandleFunc("/api/rooms/", h.handleRoomByID)
	mux.HandleFunc("/api/config", h.handleConfig)
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/metrics", h.handleMetrics)
}

func (h *Handlers) handleRoomsCollection(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodPost:
		roomID := uuid.NewString()
		h.Manager.CreateRoom(roomID)
		h.writeJSON(w, http.StatusCreated, createRoomResponse{RoomID: roomID})
	case http.MethodGet:
		snapshot := h.Manager.Snapshot()
		rooms := make([]roomInfo, 0, len(snapshot))
		totalPeers := 0
		for id, count := range snapshot {
			rooms = append(rooms, roomInfo{RoomID: id, PeerCount: count})
			totalPeers += count
		}
		h.writeJSON(w, http.StatusOK, roomsResponse{
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			Rooms:      rooms,
			TotalRooms: len(rooms),
			TotalPeers: totalPeers,
		})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) handleRoomByID(w http.ResponseWriter, r *http.Request) {
	roomID := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	if roomID == "" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if !h.Manager.RoomExists(roomID) {
		http.NotFound(w, r)
		return
	}
	h.writeJSON(w, http.StatusOK, roomExistsResponse{Exists: true})
}

// handleConfig returns the effective ICE server config, rewriting
// localhost/127.0.0.1 to the machine's LAN address so phones on the same
// network can resolve the STUN/TURN endpoints.
func (h *Handlers) handleConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	lanIP, err := localip.Get()
	servers := h.IceServers
	if err == nil {
		rewritten := make([]IceServer, len(servers))
		for i, s := range servers {
			urls := make([]string, len(s.URLs))
			for j, u := range s.URLs {
				u = strings.ReplaceAll(u, "localhost", lanIP)
				u = strings.ReplaceAll(u, "127.0.0.1", lanIP)
				urls[j] = u
			}
			rewritten[i] = IceServer{URLs: urls}
		}
		servers = rewritten
	}

	h.writeJSON(w, http.StatusOK, struct {
		IceServers []IceServer `json:"ice_servers"`
	}{IceServers: servers})
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	h.writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(metrics.Get().ToJSON()); err != nil {
		h.Logger.Errorf("failed to write metrics response: %v", err)
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Logger.Errorf("failed to encode json response: %v", err)
	}
}
