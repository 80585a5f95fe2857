package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type statusResponse struct {
	NodeID     uint32 `json:"node_id"`
	Root       bool   `json:"root"`
	Neighbours int    `json:"neighbours"`
	KnownNodes int    `json:"known_nodes"`
}

type topologyResponse struct {
	NodeID       uint32   `json:"node_id"`
	Root         bool     `json:"root"`
	ContainsRoot bool     `json:"contains_root"`
	KnownNodes   []uint32 `json:"known_nodes"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tree := s.node.Topology()
	writeJSON(w, statusResponse{
		NodeID:     s.node.ID(),
		Root:       s.node.IsRoot(),
		Neighbours: len(s.node.Neighbours()),
		KnownNodes: len(tree.KnownNodes),
	})
}

func (s *Server) handleTopology(w http.ResponseWriter, r *http.Request) {
	tree := s.node.Topology()
	known := tree.KnownNodes
	if known == nil {
		known = []uint32{}
	}
	writeJSON(w, topologyResponse{
		NodeID:       tree.NodeID,
		Root:         tree.Root,
		ContainsRoot: tree.ContainsRoot,
		KnownNodes:   known,
	})
}

func (s *Server) handleNeighbours(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.node.Neighbours())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err.Error())
	}
}
