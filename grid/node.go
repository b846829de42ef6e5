package grid

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/lodgrid/fraction"
	"github.com/aukilabs/lodgrid/projection"
	"github.com/paulmach/orb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ReleasedID is the identity value of a released node.
const ReleasedID = -1

// GlobalRange is the dimension of the full grid at one level.
type GlobalRange struct {
	Width  int
	Height int
}

// Cells returns the number of cells at the level.
func (r GlobalRange) Cells() int {
	return r.Width * r.Height
}

// NodeOptions describes the identity of a node being initialized.
type NodeOptions struct {
	LocalID   int
	GlobalID  int
	StorageID int

	// Parent is the node this one subdivides. Nil for roots.
	Parent *Node

	// GlobalRange, when set, derives the extent directly from GlobalID.
	GlobalRange *GlobalRange
}

// LonLatTransformer converts coordinates of a source reference system into
// geographic longitude and latitude.
type LonLatTransformer interface {
	ToLonLat(x, y float64) (lon, lat float64, err error)
}

// Node is one cell of the quadrant hierarchy. Its extent is expressed as
// exact fractions of the root unit square; rows grow southwards so yMin is
// the northern boundary.
type Node struct {
	LocalID   int
	GlobalID  int
	StorageID int
	Level     int

	// Hit is a traversal marker owned by whoever walks the grid.
	Hit bool

	// EdgeCalculated is true once the edge sets reflect the current
	// topology. ResetEdges clears it.
	EdgeCalculated bool

	xMin fraction.Fraction
	xMax fraction.Fraction
	yMin fraction.Fraction
	yMax fraction.Fraction

	parent   Handle
	children [4]Handle

	edges     [4]orderedSet[string]
	neighbors [4]orderedSet[Handle]
}

// NewNode returns a node initialized with the given options.
func NewNode(opts NodeOptions) *Node {
	n := &Node{}
	n.init(opts)
	return n
}

func (n *Node) init(opts NodeOptions) {
	n.LocalID = opts.LocalID
	n.GlobalID = opts.GlobalID
	n.StorageID = opts.StorageID
	n.Level = 0
	n.Hit = false
	n.EdgeCalculated = false
	n.parent = NilHandle
	n.children = [4]Handle{}

	for i := range n.edges {
		n.edges[i].Clear()
		n.neighbors[i].Clear()
	}

	if opts.Parent != nil {
		n.Level = opts.Parent.Level + 1
	}

	switch {
	case opts.GlobalRange != nil:
		w, h := opts.GlobalRange.Width, opts.GlobalRange.Height
		col := opts.GlobalID % w
		row := opts.GlobalID / w

		n.xMin = fraction.New(col, w)
		n.xMax = fraction.New(col+1, w)
		n.yMin = fraction.New(row, h)
		n.yMax = fraction.New(row+1, h)

	case opts.Parent != nil:
		p := opts.Parent
		xMid := p.xMin.Mid(p.xMax)
		yMid := p.yMin.Mid(p.yMax)

		n.xMin, n.xMax = p.xMin, xMid
		if opts.LocalID%2 == 1 {
			n.xMin, n.xMax = xMid, p.xMax
		}

		n.yMin, n.yMax = p.yMin, yMid
		if opts.LocalID/2 == 1 {
			n.yMin, n.yMax = yMid, p.yMax
		}

	default:
		n.xMin, n.xMax = fraction.Zero, fraction.One
		n.yMin, n.yMax = fraction.Zero, fraction.One
	}
}

// Extent is the rectangle covered by a node.
type Extent struct {
	XMin fraction.Fraction
	XMax fraction.Fraction
	YMin fraction.Fraction
	YMax fraction.Fraction
}

func (n *Node) Extent() Extent {
	return Extent{
		XMin: n.xMin,
		XMax: n.xMax,
		YMin: n.yMin,
		YMax: n.yMax,
	}
}

// Side returns the boundary coordinate of the given side and the interval it
// spans along the perpendicular axis.
func (n *Node) Side(d Direction) (fraction.Fraction, Range) {
	switch d {
	case North:
		return n.yMin, Range{Min: n.xMin, Max: n.xMax}
	case South:
		return n.yMax, Range{Min: n.xMin, Max: n.xMax}
	case West:
		return n.xMin, Range{Min: n.yMin, Max: n.yMax}
	default:
		return n.xMax, Range{Min: n.yMin, Max: n.yMax}
	}
}

func (n *Node) Parent() Handle {
	return n.parent
}

// Children returns the child handles indexed by quadrant. Leaves have only
// nil handles.
func (n *Node) Children() [4]Handle {
	return n.children
}

func (n *Node) IsLeaf() bool {
	for _, c := range n.children {
		if !c.IsNil() {
			return false
		}
	}
	return true
}

// IsReleased reports whether the node carries the released sentinel.
func (n *Node) IsReleased() bool {
	return n.GlobalID == ReleasedID && n.Level == ReleasedID
}

// Equal reports whether both nodes are the same logical cell.
func (n *Node) Equal(other *Node) bool {
	if n == nil || other == nil {
		return n == other
	}
	return n.Level == other.Level && n.GlobalID == other.GlobalID
}

// AddEdge records e in the edge set of direction d unless the boundary is
// already recorded there from either side.
func (n *Node) AddEdge(e *Edge, d Direction) bool {
	if !d.Valid() {
		instrumentInvalidDirection("add_edge")
		logs.WithTag("level", n.Level).
			WithTag("global_id", n.GlobalID).
			WithTag("direction", int(d)).
			WithTag("key", e.Key()).
			Error(errors.New("adding an edge with an invalid direction").
				WithType(ErrTypeInvalidDirection))
		return false
	}

	set := &n.edges[d]
	if set.Has(e.Key()) {
		instrumentEdgeDeduplicated(orientationSame)
		return false
	}
	if set.Has(e.OpKey()) {
		instrumentEdgeDeduplicated(orientationOpposite)
		return false
	}

	set.Add(e.Key())
	instrumentEdgeRegistered()
	return true
}

// Edges returns the edge keys of direction d in insertion order.
func (n *Node) Edges(d Direction) []string {
	if !d.Valid() {
		return nil
	}
	return n.edges[d].Items()
}

// HasEdge reports whether key is recorded in direction d.
func (n *Node) HasEdge(d Direction, key string) bool {
	if !d.Valid() {
		return false
	}
	return n.edges[d].Has(key)
}

// EdgeKeys returns every edge key ordered by direction, then insertion.
func (n *Node) EdgeKeys() []string {
	var keys []string
	for _, d := range Directions {
		keys = append(keys, n.edges[d].items...)
	}
	return keys
}

// ResetEdges clears the edge sets and marks the topology of the node as
// needing recomputation.
func (n *Node) ResetEdges() {
	for i := range n.edges {
		n.edges[i].Clear()
	}
	n.EdgeCalculated = false
}

// AddNeighbor records h as adjacent in direction d.
func (n *Node) AddNeighbor(d Direction, h Handle) bool {
	if !d.Valid() {
		instrumentInvalidDirection("add_neighbor")
		logs.WithTag("level", n.Level).
			WithTag("global_id", n.GlobalID).
			WithTag("direction", int(d)).
			Error(errors.New("adding a neighbor with an invalid direction").
				WithType(ErrTypeInvalidDirection))
		return false
	}
	return n.neighbors[d].Add(h)
}

// Neighbors returns the neighbor handles of direction d in insertion order.
func (n *Node) Neighbors(d Direction) []Handle {
	if !d.Valid() {
		return nil
	}
	return n.neighbors[d].Items()
}

// RemoveNeighbor deletes h from every neighbor set.
func (n *Node) RemoveNeighbor(h Handle) bool {
	removed := false
	for i := range n.neighbors {
		if n.neighbors[i].Remove(h) {
			removed = true
		}
	}
	return removed
}

func (n *Node) ClearNeighbors() {
	for i := range n.neighbors {
		n.neighbors[i].Clear()
	}
}

// Within reports whether the point lies inside the node once its extent is
// mapped onto bbox. Boundaries are inclusive.
func (n *Node) Within(bbox orb.Bound, lon, lat float64) bool {
	if n.IsReleased() {
		return false
	}

	c := n.corners(bbox)
	return lon >= c.left && lon <= c.right && lat >= c.bottom && lat <= c.top
}

// GetVertices returns the TL, TR, BL, BR corners of the node projected to
// the unit web mercator plane, as x,y pairs.
func (n *Node) GetVertices(src LonLatTransformer, bbox orb.Bound) ([8]float64, error) {
	return n.Vertices(src, projection.UnitMercator, bbox)
}

// Vertices returns the TL, TR, BL, BR corners of the node mapped onto bbox,
// converted to longitude and latitude by src, then projected by proj.
// Released nodes have no vertices.
func (n *Node) Vertices(src LonLatTransformer, proj orb.Projection, bbox orb.Bound) ([8]float64, error) {
	var vertices [8]float64
	if n.IsReleased() {
		return vertices, errors.New("node is released").
			WithType(ErrTypeReleasedNode)
	}

	c := n.corners(bbox)
	points := [4]orb.Point{
		{c.left, c.top},
		{c.right, c.top},
		{c.left, c.bottom},
		{c.right, c.bottom},
	}

	for i, p := range points {
		lon, lat, err := src.ToLonLat(p[0], p[1])
		if err != nil {
			return vertices, errors.New("transforming vertex failed").
				WithType(ErrTypeTransform).
				WithTag("level", n.Level).
				WithTag("global_id", n.GlobalID).
				WithTag("x", p[0]).
				WithTag("y", p[1]).
				Wrap(err)
		}

		projected := proj(orb.Point{lon, lat})
		vertices[2*i] = projected[0]
		vertices[2*i+1] = projected[1]
	}

	return vertices, nil
}

type cellCorners struct {
	left   float64
	right  float64
	top    float64
	bottom float64
}

func (n *Node) corners(bbox orb.Bound) cellCorners {
	width := bbox.Max[0] - bbox.Min[0]
	height := bbox.Max[1] - bbox.Min[1]

	return cellCorners{
		left:   bbox.Min[0] + width*n.xMin.Float64(),
		right:  bbox.Min[0] + width*n.xMax.Float64(),
		top:    bbox.Max[1] - height*n.yMin.Float64(),
		bottom: bbox.Max[1] - height*n.yMax.Float64(),
	}
}

// Release voids the node so its storage can be reissued. Neighbor sets of
// adjacent nodes still reference it; see Grid.Release.
func (n *Node) Release() {
	n.LocalID = ReleasedID
	n.GlobalID = ReleasedID
	n.StorageID = ReleasedID
	n.Level = ReleasedID

	n.xMin = fraction.Fraction{}
	n.xMax = fraction.Fraction{}
	n.yMin = fraction.Fraction{}
	n.yMax = fraction.Fraction{}

	for i := range n.edges {
		n.edges[i].Clear()
		n.neighbors[i].Clear()
	}

	n.Hit = false
	n.EdgeCalculated = false
	n.parent = NilHandle
	n.children = [4]Handle{}
}

// NodeRecord is the serialized extent of a node.
type NodeRecord struct {
	XMinPercent [2]int `json:"xMinPercent"`
	YMinPercent [2]int `json:"yMinPercent"`
	XMaxPercent [2]int `json:"xMaxPercent"`
	YMaxPercent [2]int `json:"yMaxPercent"`
}

func (n *Node) Serialization() NodeRecord {
	return NodeRecord{
		XMinPercent: n.xMin.Pair(),
		YMinPercent: n.yMin.Pair(),
		XMaxPercent: n.xMax.Pair(),
		YMaxPercent: n.yMax.Pair(),
	}
}

func (r NodeRecord) ToProtobuf() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"xMinPercent": []any{r.XMinPercent[0], r.XMinPercent[1]},
		"yMinPercent": []any{r.YMinPercent[0], r.YMinPercent[1]},
		"xMaxPercent": []any{r.XMaxPercent[0], r.XMaxPercent[1]},
		"yMaxPercent": []any{r.YMaxPercent[0], r.YMaxPercent[1]},
	})
}

func (n *Node) ToProtobuf() (*structpb.Struct, error) {
	return n.Serialization().ToProtobuf()
}
