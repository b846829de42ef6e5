package grid

import (
	"github.com/paulmach/orb"
)

// NodeSnapshot is the serialized state of one live node.
type NodeSnapshot struct {
	NodeRecord

	Handle    Handle   `json:"handle"`
	Level     int      `json:"level"`
	GlobalID  int      `json:"globalId"`
	LocalID   int      `json:"localId"`
	StorageID int      `json:"storageId"`
	Leaf      bool     `json:"leaf"`
	Edges     []string `json:"edges,omitempty"`

	// Neighbors holds the neighbor handles indexed by direction code.
	Neighbors [4][]Handle `json:"neighbors"`
}

// EdgeSnapshot is one physical boundary of the topology.
type EdgeSnapshot struct {
	EdgeRecord

	Key   string `json:"key"`
	OpKey string `json:"opKey"`
}

// Snapshot is a serializable copy of a grid topology.
type Snapshot struct {
	UUID        string         `json:"uuid"`
	Fingerprint string         `json:"fingerprint"`
	KeyVersion  int            `json:"keyVersion"`
	Width       int            `json:"width"`
	Height      int            `json:"height"`
	Bounds      [4]float64     `json:"bounds"`
	Depth       int            `json:"depth"`
	Nodes       []NodeSnapshot `json:"nodes"`
	Edges       []EdgeSnapshot `json:"edges"`
}

// Snapshot copies the live nodes, depth first, and one record per physical
// boundary registered on leaves.
func (g *Grid) Snapshot() Snapshot {
	s := Snapshot{
		UUID:        g.UUID,
		Fingerprint: g.Fingerprint().Hex(),
		KeyVersion:  KeyVersion,
		Width:       g.Width,
		Height:      g.Height,
		Bounds:      boundsArray(g.Bounds),
		Depth:       g.Depth(),
		Nodes:       make([]NodeSnapshot, 0, g.Len()),
	}

	g.Walk(func(h Handle, n *Node) bool {
		var neighbors [4][]Handle
		for _, d := range Directions {
			neighbors[d] = n.Neighbors(d)
		}

		s.Nodes = append(s.Nodes, NodeSnapshot{
			NodeRecord: n.Serialization(),
			Handle:     h,
			Level:      n.Level,
			GlobalID:   n.GlobalID,
			LocalID:    n.LocalID,
			StorageID:  n.StorageID,
			Leaf:       n.IsLeaf(),
			Edges:      n.EdgeKeys(),
			Neighbors:  neighbors,
		})
		return true
	})

	for _, e := range g.boundaries() {
		s.Edges = append(s.Edges, EdgeSnapshot{
			EdgeRecord: e.Serialization(),
			Key:        e.Key(),
			OpKey:      e.OpKey(),
		})
	}

	return s
}

func boundsArray(b orb.Bound) [4]float64 {
	return [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
}

// Stats summarizes the grid storage.
type Stats struct {
	Nodes    int `json:"nodes"`
	Leaves   int `json:"leaves"`
	Depth    int `json:"depth"`
	Slots    int `json:"slots"`
	Reusable int `json:"reusable"`
}

func (g *Grid) Stats() Stats {
	return Stats{
		Nodes:    g.Len(),
		Leaves:   len(g.Leaves()),
		Depth:    g.Depth(),
		Slots:    g.arena.Cap(),
		Reusable: g.arena.ids.Reusable(),
	}
}
