package opsapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pion/logging"

	"rendezvous/internal/localip"
	"rendezvous/internal/signaling"
)

func newTestHandlers() *Handlers {
	factory := logging.NewDefaultLoggerFactory()
	return &Handlers{
		Logger:  factory.NewLogger("opsapi_test"),
		Manager: signaling.NewManager(signaling.NopSink{}, factory.NewLogger("manager_test")),
		IceServers: []IceServer{
			{URLs: []string{"stun:localhost:3478"}},
			{URLs: []string{"turn:127.0.0.1:3479"}},
		},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *Handlers) {
	t.Helper()
	h := newTestHandlers()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, h
}

func TestCreateRoomMintsUUID(t *testing.T) {
	srv, h := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/rooms", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/rooms: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var body createRoomResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.RoomID == "" {
		t.Fatal("expected a non-empty room id")
	}
	if !h.Manager.RoomExists(body.RoomID) {
		t.Fatal("expected manager to know about the minted room")
	}
}

func TestListRoomsReflectsPeerCounts(t *testing.T) {
	srv, h := newTestServer(t)

	h.Manager.CreateRoom("room-a")
	h.Manager.HandleMessage("room-a", signaling.Envelope{
		Type:         signaling.TypeJoin,
		ConnectionID: strPtr("conn-1"),
		IsSender:     boolPtr(false),
	})

	resp, err := http.Get(srv.URL + "/api/rooms")
	if err != nil {
		t.Fatalf("GET /api/rooms: %v", err)
	}
	defer resp.Body.Close()

	var body roomsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.TotalRooms != 1 || body.TotalPeers != 1 {
		t.Fatalf("expected 1 room with 1 peer, got rooms=%d peers=%d", body.TotalRooms, body.TotalPeers)
	}
}

func TestRoomByIDReturnsNotFoundForUnknownRoom(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/rooms/does-not-exist")
	if err != nil {
		t.Fatalf("GET /api/rooms/x: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRoomByIDReturnsExistsForKnownRoom(t *testing.T) {
	srv, h := newTestServer(t)
	h.Manager.CreateRoom("known-room")

	resp, err := http.Get(srv.URL + "/api/rooms/known-room")
	if err != nil {
		t.Fatalf("GET /api/rooms/known-room: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body roomExistsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !body.Exists {
		t.Fatal("expected exists=true")
	}
}

func TestConfigRewritesLoopbackHosts(t *testing.T) {
	if _, err := localip.Get(); err != nil {
		t.Skipf("no network available in this environment: %v", err)
	}
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/config")
	if err != nil {
		t.Fatalf("GET /api/config: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		IceServers []IceServer `json:"ice_servers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.IceServers) != 2 {
		t.Fatalf("expected 2 ice servers, got %d", len(body.IceServers))
	}
	for _, s := range body.IceServers {
		for _, u := range s.URLs {
			if strings.Contains(u, "localhost") || strings.Contains(u, "127.0.0.1") {
				t.Fatalf("expected loopback host to be rewritten, got %q", u)
			}
		}
	}
}

func TestHealthReportsHealthy(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Status != "healthy" {
		t.Fatalf("expected status healthy, got %q", body.Status)
	}
}

func TestMetricsEndpointReturnsJSON(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("expected valid json from /metrics: %v", err)
	}
}

func boolPtr(b bool) *bool {
	return &b
}

func strPtr(s string) *string {
	return &s
}
