package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mbocsi/gomesh/mesh"
	"github.com/mbocsi/gomesh/proto"
)

// MCPServer exposes a running mesh node to MCP clients over stdio, so
// agent tooling can inspect the mesh without talking the wire protocol.
type MCPServer struct {
	Server *server.MCPServer
}

func NewMCPServer(node *mesh.Node) *MCPServer {
	s := server.NewMCPServer("gomesh", "1.0.0")

	listNodes := mcp.NewTool("list_nodes", mcp.WithDescription("Get the ids of every node reachable through this mesh node"))
	s.AddTool(listNodes, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(node.Topology().AsList())
	})

	topology := mcp.NewTool("topology", mcp.WithDescription("Get this node's view of the mesh topology"))
	s.AddTool(topology, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(buildTopologyView(node.Topology()))
	})

	neighbours := mcp.NewTool("list_neighbours", mcp.WithDescription("Get the directly connected neighbour links of this mesh node"))
	s.AddTool(neighbours, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(node.Neighbours())
	})

	return &MCPServer{Server: s}
}

type topologyView struct {
	NodeID       uint32   `json:"node_id"`
	Root         bool     `json:"root"`
	ContainsRoot bool     `json:"contains_root"`
	KnownNodes   []uint32 `json:"known_nodes"`
}

// buildTopologyView normalizes a nil node list to an empty one so the
// serialized view matches the web status endpoints.
func buildTopologyView(tree proto.NodeTree) topologyView {
	known := tree.KnownNodes
	if known == nil {
		known = []uint32{}
	}
	return topologyView{
		NodeID:       tree.NodeID,
		Root:         tree.Root,
		ContainsRoot: tree.ContainsRoot,
		KnownNodes:   known,
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(jsonBytes),
			},
		}}, nil
}

func (s *MCPServer) Start() error {
	slog.Info("Started stdio MCP server")
	defer func() {
		slog.Info("Shut down stdio MCP server")
	}()
	return server.ServeStdio(s.Server)
}

// Shutdown is a no-op; the stdio server ends when its input closes.
func (s *MCPServer) Shutdown() error {
	return nil
}
