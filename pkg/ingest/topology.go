package ingest

import (
	"net/http"
	"sort"
	"time"

	"github.com/nicktill/battmon/pkg/httpx"
)

// Node types
const (
	NodeGateway = "gateway"
	NodeDevice  = "device"
)

// TopologyNode is a gateway or a device in the reception graph
type TopologyNode struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Records  int       `json:"records"`
	LastSeen time.Time `json:"last_seen"`
}

// TopologyEdge connects a gateway to a device it has forwarded records for
type TopologyEdge struct {
	Source   string    `json:"source"` // gateway id
	Target   string    `json:"target"` // device id
	Records  int       `json:"records"`
	LastRSSI *float64  `json:"last_rssi"`
	BestRSSI *float64  `json:"best_rssi"`
	LastSeen time.Time `json:"last_seen"`
}

// TopologyResponse represents the reception graph
type TopologyResponse struct {
	Nodes       []TopologyNode `json:"nodes"`
	Edges       []TopologyEdge `json:"edges"`
	LastUpdated string         `json:"last_updated"`
}

// HandleTopology handles the /v1/topology endpoint
func (h *Handler) HandleTopology(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, buildTopology(h.tracker.Links(), time.Now()))
}

// buildTopology turns tracked links into a gateway/device graph. Devices
// heard by several gateways get one edge per gateway.
func buildTopology(links []Link, now time.Time) TopologyResponse {
	nodes := make(map[string]*TopologyNode)
	node := func(id, typ string) *TopologyNode {
		// gateways and devices share one id space in the graph
		key := typ + "/" + id
		n, ok := nodes[key]
		if !ok {
			n = &TopologyNode{ID: id, Type: typ}
			nodes[key] = n
		}
		return n
	}

	edges := make([]TopologyEdge, 0, len(links))
	for _, l := range links {
		for _, n := range []*TopologyNode{node(l.GatewayID, NodeGateway), node(l.DeviceID, NodeDevice)} {
			n.Records += l.Records
			if l.LastSeen.After(n.LastSeen) {
				n.LastSeen = l.LastSeen
			}
		}
		edges = append(edges, TopologyEdge{
			Source:   l.GatewayID,
			Target:   l.DeviceID,
			Records:  l.Records,
			LastRSSI: l.LastRSSI,
			BestRSSI: l.BestRSSI,
			LastSeen: l.LastSeen,
		})
	}

	nodeSlice := make([]TopologyNode, 0, len(nodes))
	for _, n := range nodes {
		nodeSlice = append(nodeSlice, *n)
	}
	sort.Slice(nodeSlice, func(i, j int) bool {
		if nodeSlice[i].Type != nodeSlice[j].Type {
			return nodeSlice[i].Type > nodeSlice[j].Type // gateways first
		}
		return nodeSlice[i].ID < nodeSlice[j].ID
	})

	return TopologyResponse{
		Nodes:       nodeSlice,
		Edges:       edges,
		LastUpdated: now.Format(time.RFC3339),
	}
}
