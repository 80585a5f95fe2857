package mcp

import (
	"testing"

	"github.com/mbocsi/gomesh/proto"
)

func TestBuildTopologyView_EmptyMeshHasEmptyList(t *testing.T) {
	view := buildTopologyView(proto.NodeTree{NodeID: 5, Root: true})

	if view.KnownNodes == nil {
		t.Fatal("Expected an empty list, got nil")
	}
	if len(view.KnownNodes) != 0 {
		t.Errorf("Expected no known nodes, got %v", view.KnownNodes)
	}
	if view.NodeID != 5 || !view.Root {
		t.Errorf("Unexpected view: %+v", view)
	}
}

func TestBuildTopologyView_KeepsKnownNodes(t *testing.T) {
	tree := proto.NodeTree{NodeID: 1, ContainsRoot: true, KnownNodes: []uint32{2, 3}}

	view := buildTopologyView(tree)

	if len(view.KnownNodes) != 2 || view.KnownNodes[0] != 2 || view.KnownNodes[1] != 3 {
		t.Errorf("Expected known nodes [2 3], got %v", view.KnownNodes)
	}
	if !view.ContainsRoot {
		t.Error("Expected containsRoot to carry through")
	}
}