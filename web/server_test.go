package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mbocsi/gomesh/mesh"
)

func testServer(t *testing.T) (*Server, *mesh.MemoryTransport) {
	t.Helper()
	node := mesh.NewNode(mesh.NodeOptions{ID: 7, Root: true})
	transport := mesh.NewMemoryTransport()
	node.RegisterTransport(transport)
	if err := transport.Start(); err != nil {
		t.Fatalf("Failed to start transport: %v", err)
	}
	return NewServer(node), transport
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := testServer(t)

	rr := get(t, s.Routes(), "/status")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	var got statusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.NodeID != 7 || !got.Root || got.Neighbours != 0 {
		t.Errorf("Unexpected status: %+v", got)
	}
}

func TestTopologyEndpoint(t *testing.T) {
	s, transport := testServer(t)

	peerNode := mesh.NewNode(mesh.NodeOptions{ID: 8})
	peerTransport := mesh.NewMemoryTransport()
	peerNode.RegisterTransport(peerTransport)
	if err := peerTransport.Start(); err != nil {
		t.Fatalf("Failed to start peer transport: %v", err)
	}
	if _, _, err := mesh.Join(transport, peerTransport); err != nil {
		t.Fatalf("Failed to join transports: %v", err)
	}

	rr := get(t, s.Routes(), "/topology")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	var got topologyResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.NodeID != 7 {
		t.Errorf("Expected node id 7, got %d", got.NodeID)
	}
	if len(got.KnownNodes) != 1 || got.KnownNodes[0] != 8 {
		t.Errorf("Expected known nodes [8], got %v", got.KnownNodes)
	}
}

func TestTopologyEndpoint_EmptyMeshHasEmptyList(t *testing.T) {
	s, _ := testServer(t)

	rr := get(t, s.Routes(), "/topology")

	var got map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	known, ok := got["known_nodes"].([]any)
	if !ok {
		t.Fatalf("Expected known_nodes to be a list, got %T", got["known_nodes"])
	}
	if len(known) != 0 {
		t.Errorf("Expected no known nodes, got %v", known)
	}
}

func TestNeighboursEndpoint(t *testing.T) {
	s, _ := testServer(t)

	rr := get(t, s.Routes(), "/neighbours")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	var got []mesh.NeighbourInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected no neighbours, got %v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := testServer(t)

	rr := get(t, s.Routes(), "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Error("Expected metrics output")
	}
}