package proto

// NodeTree is one node plus the flat list of node ids reachable through
// it. ContainsRoot caches whether the mesh's designated root is reachable
// through this subtree; it is not re-derived from KnownNodes, so callers
// must keep it consistent when they edit the list.
type NodeTree struct {
	NodeID       uint32
	Root         bool
	ContainsRoot bool
	KnownNodes   []uint32
}

func NewNodeTree(nodeID uint32, isRoot bool) NodeTree {
	return NodeTree{NodeID: nodeID, Root: isRoot}
}

// AsList flattens the tree into its own id followed by every known node id.
func (n NodeTree) AsList() []uint32 {
	out := make([]uint32, 0, 1+len(n.KnownNodes))
	out = append(out, n.NodeID)
	out = append(out, n.KnownNodes...)
	return out
}

func (n NodeTree) Equal(b NodeTree) bool {
	if n.NodeID != b.NodeID || n.Root != b.Root || n.ContainsRoot != b.ContainsRoot {
		return false
	}
	if len(n.KnownNodes) != len(b.KnownNodes) {
		return false
	}
	for i := range n.KnownNodes {
		if n.KnownNodes[i] != b.KnownNodes[i] {
			return false
		}
	}
	return true
}

func (n *NodeTree) Clear() {
	n.NodeID = 0
	n.Root = false
	n.ContainsRoot = false
	n.KnownNodes = nil
}

func (n NodeTree) String() string {
	s, err := NewVariant(n).String()
	if err != nil {
		return ""
	}
	return s
}

// addNodeTree writes the fields shared by NodeTree, NodeSyncRequest and
// NodeSyncReply. False booleans and empty lists are omitted entirely;
// absence is the wire convention, not false/[].
func addNodeTree(obj Object, n NodeTree) Object {
	obj["nodeId"] = n.NodeID
	if n.Root {
		obj["root"] = n.Root
	}
	if n.ContainsRoot {
		obj["containsRoot"] = n.ContainsRoot
	}
	if len(n.KnownNodes) > 0 {
		obj["knownNodes"] = n.KnownNodes
	}
	return obj
}

// nodeTreeSize estimates the encoded size given how many slots the
// concrete kind needs beyond the optional ones. NodeTree itself uses one
// base slot (nodeId); the sync kinds need four (nodeId, type, dest, from).
func nodeTreeSize(n NodeTree, baseSlots int) int {
	slots := baseSlots
	if n.Root {
		slots++
	}
	if n.ContainsRoot {
		slots++
	}
	if len(n.KnownNodes) > 0 {
		slots++
	}
	size := wireObjectSize(slots)
	if len(n.KnownNodes) > 0 {
		size += wireArraySize(len(n.KnownNodes))
	}
	return size
}

func (n NodeTree) AddTo(obj Object) Object {
	return addNodeTree(obj, n)
}

func (n NodeTree) WireSize() int {
	return nodeTreeSize(n, 1)
}

// decodeNodeTree reads the shared subtree fields. The node id falls back
// to the from field when nodeId is absent; every other field defaults.
func decodeNodeTree(obj Object) NodeTree {
	var n NodeTree
	if root, ok := obj.boolField("root"); ok {
		n.Root = root
	}
	if cr, ok := obj.boolField("containsRoot"); ok {
		n.ContainsRoot = cr
	}
	if id, ok := obj.uint32Field("nodeId"); ok {
		n.NodeID = id
	} else if from, ok := obj.uint32Field("from"); ok {
		n.NodeID = from
	}
	if nodes, ok := obj.uint32SliceField("knownNodes"); ok {
		n.KnownNodes = nodes
	}
	return n
}

// NodeSyncRequest advertises one node's local topology view to a
// neighbour: the sender's subtree plus addressing.
type NodeSyncRequest struct {
	NodeTree
	From uint32
	Dest uint32
}

// BuildNodeSyncRequest flattens the given subtrees into a sync request
// from selfID to destID. Each subtree is appended as its own id followed
// by its known nodes, in the order given; the order is preserved so that
// successive syncs diff cleanly, but no node is privileged by position.
// Subtrees are assumed to already hold their flattened transitive closure;
// recursion happens by repeated application up the tree, not here.
func BuildNodeSyncRequest(selfID, destID uint32, subs []NodeTree, selfIsRoot bool) NodeSyncRequest {
	req := NodeSyncRequest{From: selfID, Dest: destID}
	req.NodeID = selfID
	req.Root = selfIsRoot
	for _, s := range subs {
		req.KnownNodes = append(req.KnownNodes, s.AsList()...)
		if s.Root || s.ContainsRoot {
			req.ContainsRoot = true
		}
	}
	return req
}

func (r NodeSyncRequest) AddTo(obj Object) Object {
	obj = addNodeTree(obj, r.NodeTree)
	obj["dest"] = r.Dest
	obj["from"] = r.From
	obj["type"] = int(TypeNodeSyncRequest)
	return obj
}

func (r NodeSyncRequest) WireSize() int {
	return nodeTreeSize(r.NodeTree, 4)
}

func (r NodeSyncRequest) Equal(b NodeSyncRequest) bool {
	return r.From == b.From && r.Dest == b.Dest && r.NodeTree.Equal(b.NodeTree)
}

func decodeNodeSyncRequest(obj Object) (NodeSyncRequest, error) {
	req := NodeSyncRequest{NodeTree: decodeNodeTree(obj)}
	if dest, ok := obj.uint32Field("dest"); ok {
		req.Dest = dest
	}
	if from, ok := obj.uint32Field("from"); ok {
		req.From = from
	}
	return req, nil
}

// NodeSyncReply is the response half of the topology exchange. Same
// payload shape as NodeSyncRequest, distinguished only by discriminant.
type NodeSyncReply NodeSyncRequest

// BuildNodeSyncReply is BuildNodeSyncRequest for the answering side.
func BuildNodeSyncReply(selfID, destID uint32, subs []NodeTree, selfIsRoot bool) NodeSyncReply {
	return NodeSyncReply(BuildNodeSyncRequest(selfID, destID, subs, selfIsRoot))
}

func (r NodeSyncReply) AddTo(obj Object) Object {
	obj = NodeSyncRequest(r).AddTo(obj)
	obj["type"] = int(TypeNodeSyncReply)
	return obj
}

func (r NodeSyncReply) WireSize() int {
	return NodeSyncRequest(r).WireSize()
}

func (r NodeSyncReply) Equal(b NodeSyncReply) bool {
	return NodeSyncRequest(r).Equal(NodeSyncRequest(b))
}

func decodeNodeSyncReply(obj Object) (NodeSyncReply, error) {
	req, err := decodeNodeSyncRequest(obj)
	return NodeSyncReply(req), err
}
