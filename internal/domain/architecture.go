package domain

// NodeType is the kind of component a diagram node represents.
type NodeType string

const (
	NodeClient       NodeType = "client"
	NodeLoadBalancer NodeType = "loadbalancer"
	NodeWebServer    NodeType = "webserver"
	NodeAPI          NodeType = "api"
	NodeCache        NodeType = "cache"
	NodeDatabase     NodeType = "database"
	NodeMessageQueue NodeType = "messagequeue"
	NodeCDN          NodeType = "cdn"
	NodeStorage      NodeType = "storage"
)

// NodeTypes lists the component kinds the interviewer is told about.
var NodeTypes = []NodeType{
	NodeClient, NodeLoadBalancer, NodeWebServer, NodeAPI, NodeCache,
	NodeDatabase, NodeMessageQueue, NodeCDN, NodeStorage,
}

// Known reports whether t is one of the enumerated component kinds.
func (t NodeType) Known() bool {
	for _, k := range NodeTypes {
		if k == t {
			return true
		}
	}
	return false
}

// ComponentNode is one box on the architecture diagram.
type ComponentNode struct {
	ID      string   `json:"id"`
	Label   string   `json:"label"`
	Type    NodeType `json:"type"`
	Details string   `json:"details,omitempty"`
}

// Connection is a directed, optionally labeled edge between two nodes.
type Connection struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// ArchitectureGraph is produced wholesale from one model reply and replaces
// the previous graph; there is no incremental merge.
type ArchitectureGraph struct {
	Nodes []ComponentNode `json:"nodes"`
	Links []Connection    `json:"links"`
}

// Empty reports whether the graph has no nodes.
func (g *ArchitectureGraph) Empty() bool {
	return g == nil || len(g.Nodes) == 0
}

// NodeIndex maps node IDs to their position in Nodes.
func (g *ArchitectureGraph) NodeIndex() map[string]int {
	idx := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		idx[n.ID] = i
	}
	return idx
}

// DanglingLinks returns links whose source or target names no existing node.
// Such edges cannot be rendered.
func (g *ArchitectureGraph) DanglingLinks() []Connection {
	if g == nil {
		return nil
	}
	idx := g.NodeIndex()
	var out []Connection
	for _, l := range g.Links {
		_, okS := idx[l.Source]
		_, okT := idx[l.Target]
		if !okS || !okT {
			out = append(out, l)
		}
	}
	return out
}
