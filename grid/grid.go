package grid

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/lodgrid/featureflag"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// MaxLevel bounds subdivision for every grid.
const MaxLevel = 24

// MaxCells is the largest number of cells a level may span along either
// axis. It keeps global ids and the cross products of boundary fractions
// within an int64.
const MaxCells = 1 << 30

// SupportedLevel returns the deepest level a grid with the given root
// dimensions can be subdivided to, or -1 when the root level alone spans
// more than MaxCells.
func SupportedLevel(width, height int) int {
	cells := max(width, height)
	if cells <= 0 || cells > MaxCells {
		return -1
	}

	level := 0
	for level < MaxLevel && cells<<(level+1) <= MaxCells {
		level++
	}
	return level
}

// Config describes the root level of a grid.
type Config struct {
	// Width and Height are the number of root cells.
	Width  int
	Height int

	// Bounds is the extent the unit square is mapped onto, in the source
	// reference system.
	Bounds orb.Bound

	// The deepest level nodes can be subdivided to. Zero selects the deepest
	// level the root dimensions support.
	MaxLevel int

	Flags featureflag.FeatureFlag
}

// Grid owns every node of a quadrant hierarchy: it pools node storage and
// indexes live nodes by level and global id.
type Grid struct {
	UUID   string
	Width  int
	Height int
	Bounds orb.Bound

	flags    featureflag.FeatureFlag
	maxLevel int
	arena    Arena
	roots    []Handle
	levels   map[int]map[int]Handle
}

// New creates a grid with Width x Height root cells.
func New(c Config) (*Grid, error) {
	if c.Width <= 0 || c.Height <= 0 {
		return nil, errors.New("grid dimensions must be positive").
			WithType(ErrTypeInvalidConfig).
			WithTag("width", c.Width).
			WithTag("height", c.Height)
	}

	supported := SupportedLevel(c.Width, c.Height)
	if supported < 0 {
		return nil, errors.Newf("grid dimensions must not exceed %d cells", MaxCells).
			WithType(ErrTypeInvalidConfig).
			WithTag("width", c.Width).
			WithTag("height", c.Height)
	}

	maxLevel := c.MaxLevel
	if maxLevel == 0 {
		maxLevel = supported
	}
	if maxLevel < 0 || maxLevel > supported {
		return nil, errors.Newf("max level must be between 0 and %d for the grid dimensions", supported).
			WithType(ErrTypeInvalidConfig).
			WithTag("width", c.Width).
			WithTag("height", c.Height).
			WithTag("max_level", c.MaxLevel)
	}

	if c.Bounds.Max[0] <= c.Bounds.Min[0] || c.Bounds.Max[1] <= c.Bounds.Min[1] {
		return nil, errors.New("grid bounds are empty").
			WithType(ErrTypeInvalidConfig).
			WithTag("bounds", c.Bounds)
	}

	g := &Grid{
		UUID:     uuid.NewString(),
		Width:    c.Width,
		Height:   c.Height,
		Bounds:   c.Bounds,
		flags:    c.Flags,
		maxLevel: maxLevel,
		levels:   make(map[int]map[int]Handle),
	}

	r := g.LevelRange(0)
	g.roots = make([]Handle, 0, r.Cells())
	for id := 0; id < r.Cells(); id++ {
		h, _ := g.arena.Alloc(NodeOptions{
			LocalID:     id,
			GlobalID:    id,
			GlobalRange: &r,
		})
		g.index(0, id, h)
		g.roots = append(g.roots, h)
	}

	return g, nil
}

// Flags returns the feature flags the grid was created with.
func (g *Grid) Flags() featureflag.FeatureFlag {
	return g.flags
}

// LevelLimit returns the deepest level nodes can be subdivided to.
func (g *Grid) LevelLimit() int {
	return g.maxLevel
}

// LevelRange returns the dimension of the full grid at the given level.
func (g *Grid) LevelRange(level int) GlobalRange {
	return GlobalRange{
		Width:  g.Width << level,
		Height: g.Height << level,
	}
}

// Node returns the live node addressed by h.
func (g *Grid) Node(h Handle) (*Node, error) {
	return g.arena.Get(h)
}

// Valid reports whether h addresses a live node.
func (g *Grid) Valid(h Handle) bool {
	return g.arena.Valid(h)
}

// Lookup returns the handle of the live node at level with the given global
// id.
func (g *Grid) Lookup(level, globalID int) (Handle, bool) {
	h, ok := g.levels[level][globalID]
	return h, ok
}

// Roots returns the level 0 handles ordered by global id.
func (g *Grid) Roots() []Handle {
	roots := make([]Handle, len(g.roots))
	copy(roots, g.roots)
	return roots
}

// Level returns the handles of the live nodes at level ordered by global id.
func (g *Grid) Level(level int) []Handle {
	ids := make([]int, 0, len(g.levels[level]))
	for id := range g.levels[level] {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	handles := make([]Handle, len(ids))
	for i, id := range ids {
		handles[i] = g.levels[level][id]
	}
	return handles
}

// Depth returns the deepest level holding live nodes.
func (g *Grid) Depth() int {
	depth := 0
	for l, nodes := range g.levels {
		if len(nodes) != 0 && l > depth {
			depth = l
		}
	}
	return depth
}

// Len returns the number of live nodes.
func (g *Grid) Len() int {
	return g.arena.Len()
}

// Leaves returns the handles of the nodes without children, depth first
// from the roots in global id order.
func (g *Grid) Leaves() []Handle {
	var leaves []Handle
	g.Walk(func(h Handle, n *Node) bool {
		if n.IsLeaf() {
			leaves = append(leaves, h)
		}
		return true
	})
	return leaves
}

// Walk visits live nodes depth first, parents before children. Returning
// false from fn skips the children of the visited node.
func (g *Grid) Walk(fn func(Handle, *Node) bool) {
	var walk func(h Handle)
	walk = func(h Handle) {
		n, err := g.arena.Get(h)
		if err != nil {
			return
		}

		if !fn(h, n) {
			return
		}

		for _, c := range n.children {
			if !c.IsNil() {
				walk(c)
			}
		}
	}

	for _, r := range g.roots {
		walk(r)
	}
}

// Locate returns the leaf containing the point (x, y), expressed in the
// reference system of Bounds. Points on a shared boundary resolve to the
// first leaf in walk order.
func (g *Grid) Locate(x, y float64) (Handle, bool) {
	var found Handle
	g.Walk(func(h Handle, n *Node) bool {
		if !found.IsNil() || !n.Within(g.Bounds, x, y) {
			return false
		}
		if n.IsLeaf() {
			found = h
		}
		return true
	})
	return found, !found.IsNil()
}

// Subdivide splits the leaf addressed by h into four children. Children are
// numbered row-major: 0 north-west, 1 north-east, 2 south-west, 3 south-east.
// The subdivided node loses its edges and neighbors; the topology has to be
// rebuilt.
func (g *Grid) Subdivide(h Handle) ([4]Handle, error) {
	var children [4]Handle

	n, err := g.arena.Get(h)
	if err != nil {
		return children, err
	}

	if !n.IsLeaf() {
		return children, errors.New("node is already subdivided").
			WithType(ErrTypeAlreadySubdivided).
			WithTag("level", n.Level).
			WithTag("global_id", n.GlobalID)
	}

	if n.Level >= g.maxLevel {
		return children, errors.New("maximum subdivision level reached").
			WithType(ErrTypeInvalidConfig).
			WithTag("level", n.Level).
			WithTag("max_level", g.maxLevel).
			WithTag("global_id", n.GlobalID)
	}

	pr := g.LevelRange(n.Level)
	cr := g.LevelRange(n.Level + 1)
	col := n.GlobalID % pr.Width
	row := n.GlobalID / pr.Width

	for i := range children {
		childCol := 2*col + i%2
		childRow := 2*row + i/2
		globalID := childRow*cr.Width + childCol

		ch, child := g.arena.Alloc(NodeOptions{
			LocalID:     i,
			GlobalID:    globalID,
			Parent:      n,
			GlobalRange: &cr,
		})
		child.parent = h
		g.index(child.Level, globalID, ch)
		children[i] = ch
	}

	n.children = children
	n.ResetEdges()
	n.ClearNeighbors()
	return children, nil
}

// Merge releases every descendant of the node addressed by h, making it a
// leaf again.
func (g *Grid) Merge(h Handle) error {
	n, err := g.arena.Get(h)
	if err != nil {
		return err
	}

	if n.IsLeaf() {
		return errors.New("node is not subdivided").
			WithType(ErrTypeNotSubdivided).
			WithTag("level", n.Level).
			WithTag("global_id", n.GlobalID)
	}

	for _, c := range n.children {
		if c.IsNil() {
			continue
		}
		if err := g.Release(c); err != nil {
			return err
		}
	}

	n.ResetEdges()
	n.ClearNeighbors()
	return nil
}

// Release returns the node addressed by h and all its descendants to the
// arena. Handles held elsewhere stop resolving. Neighbor sets of adjacent
// nodes are only cleaned up with featureflag.FlagCleanupNeighborsOnRelease;
// otherwise they keep the stale handle until the next topology build.
func (g *Grid) Release(h Handle) error {
	n, err := g.arena.Get(h)
	if err != nil {
		return err
	}

	for _, c := range n.children {
		if c.IsNil() {
			continue
		}
		if err := g.Release(c); err != nil {
			return err
		}
	}

	g.flags.IfSet(featureflag.FlagCleanupNeighborsOnRelease, func() {
		for _, d := range Directions {
			for _, nh := range n.Neighbors(d) {
				if neighbor, err := g.arena.Get(nh); err == nil {
					neighbor.RemoveNeighbor(h)
				}
			}
		}
	})

	if parent, err := g.arena.Get(n.parent); err == nil {
		for i, c := range parent.children {
			if c == h {
				parent.children[i] = NilHandle
			}
		}
	}

	g.unindex(n.Level, n.GlobalID)
	for i, r := range g.roots {
		if r == h {
			g.roots = append(g.roots[:i], g.roots[i+1:]...)
			break
		}
	}

	return g.arena.Release(h)
}

func (g *Grid) index(level, globalID int, h Handle) {
	nodes, ok := g.levels[level]
	if !ok {
		nodes = make(map[int]Handle)
		g.levels[level] = nodes
	}
	nodes[globalID] = h
}

func (g *Grid) unindex(level, globalID int) {
	nodes, ok := g.levels[level]
	if !ok {
		return
	}

	delete(nodes, globalID)
	if len(nodes) == 0 {
		delete(g.levels, level)
	}
}

// Fingerprint digests the current topology: two grids with the same root
// dimensions and the same set of physical boundaries share a fingerprint.
func (g *Grid) Fingerprint() common.Hash {
	boundaries := g.boundaries()

	keys := make([]string, 0, len(boundaries))
	for _, b := range boundaries {
		keys = append(keys, canonicalKey(b))
	}
	sort.Strings(keys)

	header := fmt.Sprintf("%dx%d", g.Width, g.Height)
	return crypto.Keccak256Hash([]byte(header), []byte(strings.Join(keys, "\n")))
}

// canonicalKey returns the lesser of the two keys naming the boundary.
func canonicalKey(e *Edge) string {
	if e.OpKey() < e.Key() {
		return e.OpKey()
	}
	return e.Key()
}

// boundaries returns one edge per physical boundary registered on leaves, in
// leaf order.
func (g *Grid) boundaries() []*Edge {
	seen := make(map[string]struct{})

	var edges []*Edge
	for _, h := range g.Leaves() {
		n, err := g.arena.Get(h)
		if err != nil {
			continue
		}

		for _, key := range n.EdgeKeys() {
			if _, ok := seen[key]; ok {
				continue
			}

			e, err := ParseKey(key)
			if err != nil {
				continue
			}

			seen[e.Key()] = struct{}{}
			seen[e.OpKey()] = struct{}{}
			edges = append(edges, e)
		}
	}
	return edges
}
