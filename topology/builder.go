package topology

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/lodgrid/featureflag"
	"github.com/aukilabs/lodgrid/fraction"
	"github.com/aukilabs/lodgrid/grid"
)

// Builder computes the adjacency of the leaves of a grid and registers one
// edge per physical boundary on the nodes on both sides.
type Builder struct {
	// The feature flags. Defaults to the grid flags when nil.
	Flags featureflag.FeatureFlag
}

// Build recomputes the whole topology of g. Every node has its edges and
// neighbors reset first, so Build can run after any sequence of subdivisions
// and merges.
func (b Builder) Build(g *grid.Grid) error {
	start := time.Now()

	flags := b.Flags
	if flags == nil {
		flags = g.Flags()
	}

	g.Walk(func(h grid.Handle, n *grid.Node) bool {
		n.ResetEdges()
		n.ClearNeighbors()
		n.Hit = false
		return true
	})

	leaves := g.Leaves()
	stats := buildStats{}

	for _, h := range leaves {
		n, err := g.Node(h)
		if err != nil {
			instrumentBuildError(err)
			return errors.New("resolving leaf failed").
				WithTag("handle", h.String()).
				Wrap(err)
		}

		for _, d := range grid.Directions {
			adjacent, border, err := adjacentLeaves(g, n, d)
			if err != nil {
				instrumentBuildError(err)
				return err
			}

			// Stretches of the side without an adjacent leaf get a border
			// edge.
			_, side := n.Side(d)
			var gaps []grid.Range

			if border {
				gaps = append(gaps, side)
			} else {
				covered := side.Min

				for _, ah := range adjacent {
					a, err := g.Node(ah)
					if err != nil {
						instrumentBuildError(err)
						return err
					}

					r, ok := overlap(n, a, d)
					if !ok {
						continue
					}

					if covered.Less(r.Min) {
						gaps = append(gaps, grid.Range{Min: covered, Max: r.Min})
					}
					covered = fraction.Max(covered, r.Max)

					// Boundaries of visited leaves were registered from their side.
					if a.Hit {
						continue
					}

					e := grid.NewEdge(n, a, d, r)
					if n.AddEdge(e, d) {
						stats.boundaries++
					}
					a.AddEdge(e.Opposite(), d.Toggle())

					n.AddNeighbor(d, ah)
					a.AddNeighbor(d.Toggle(), h)
				}

				if covered.Less(side.Max) {
					gaps = append(gaps, grid.Range{Min: covered, Max: side.Max})
				}
			}

			flags.IfNotSet(featureflag.FlagDisableBorderEdges, func() {
				for _, r := range gaps {
					if n.AddEdge(grid.NewEdge(n, nil, d, r), d) {
						stats.borders++
					}
				}
			})
		}

		n.Hit = true
		n.EdgeCalculated = true
	}

	instrumentBuild(start)
	logs.WithTag("grid", g.UUID).
		WithTag("leaves", len(leaves)).
		WithTag("boundaries", stats.boundaries).
		WithTag("borders", stats.borders).
		WithTag("depth", g.Depth()).
		WithTag("duration", time.Since(start)).
		Info("topology built")
	return nil
}

type buildStats struct {
	boundaries int
	borders    int
}

// adjacentLeaves returns the leaves touching side d of n, in reading order
// along the side. border is true when side d lies on the outline of the grid
// or faces cells that were released.
func adjacentLeaves(g *grid.Grid, n *grid.Node, d grid.Direction) (leaves []grid.Handle, border bool, err error) {
	r := g.LevelRange(n.Level)
	ownCol := n.GlobalID % r.Width
	ownRow := n.GlobalID / r.Width
	col := ownCol + dCol(d)
	row := ownRow + dRow(d)

	if col < 0 || row < 0 || col >= r.Width || row >= r.Height {
		return nil, true, nil
	}

	// Climb until a live node covers the adjacent cell.
	for level := n.Level; level >= 0; level-- {
		shift := n.Level - level

		// Past this level the covering node is an ancestor of n: the nodes
		// that covered the adjacent cell were released.
		if row>>shift == ownRow>>shift && col>>shift == ownCol>>shift {
			return nil, true, nil
		}

		lr := g.LevelRange(level)
		h, ok := g.Lookup(level, (row>>shift)*lr.Width+(col>>shift))
		if !ok {
			continue
		}

		found, err := g.Node(h)
		if err != nil {
			return nil, false, err
		}

		if found.IsLeaf() {
			return []grid.Handle{h}, false, nil
		}

		facing := descend(g, h, d.Toggle())
		return facing, len(facing) == 0, nil
	}

	// The root covering the adjacent cell was released.
	return nil, true, nil
}

// descend collects the leaves under h that touch side s of h.
func descend(g *grid.Grid, h grid.Handle, s grid.Direction) []grid.Handle {
	n, err := g.Node(h)
	if err != nil {
		return nil
	}

	if n.IsLeaf() {
		return []grid.Handle{h}
	}

	var leaves []grid.Handle
	children := n.Children()
	for _, q := range sideQuadrants(s) {
		if children[q].IsNil() {
			continue
		}
		leaves = append(leaves, descend(g, children[q], s)...)
	}
	return leaves
}

// sideQuadrants returns the child quadrants touching side s, in reading
// order.
func sideQuadrants(s grid.Direction) [2]int {
	switch s {
	case grid.North:
		return [2]int{0, 1}
	case grid.South:
		return [2]int{2, 3}
	case grid.West:
		return [2]int{0, 2}
	default:
		return [2]int{1, 3}
	}
}

// overlap returns the shared segment of side d of n and the facing side of
// a. Segments touching at a single point do not overlap.
func overlap(n, a *grid.Node, d grid.Direction) (grid.Range, bool) {
	_, nr := n.Side(d)
	_, ar := a.Side(d.Toggle())

	r := grid.Range{
		Min: fraction.Max(nr.Min, ar.Min),
		Max: fraction.Min(nr.Max, ar.Max),
	}
	return r, r.Min.Less(r.Max)
}

func dCol(d grid.Direction) int {
	switch d {
	case grid.West:
		return -1
	case grid.East:
		return 1
	default:
		return 0
	}
}

func dRow(d grid.Direction) int {
	switch d {
	case grid.North:
		return -1
	case grid.South:
		return 1
	default:
		return 0
	}
}

// Refine subdivides, breadth first, every leaf for which split returns true
// until no leaf qualifies or maxLevel, capped at the grid level limit, is
// reached. It returns the number of subdivided nodes. The topology has to be
// rebuilt afterwards.
func Refine(g *grid.Grid, split func(grid.Handle, *grid.Node) bool, maxLevel int) (int, error) {
	if maxLevel > g.LevelLimit() {
		maxLevel = g.LevelLimit()
	}

	count := 0
	pending := g.Leaves()

	for len(pending) != 0 {
		var next []grid.Handle

		for _, h := range pending {
			n, err := g.Node(h)
			if err != nil {
				return count, err
			}

			if n.Level >= maxLevel || !split(h, n) {
				continue
			}

			children, err := g.Subdivide(h)
			if err != nil {
				return count, err
			}
			count++
			next = append(next, children[:]...)
		}

		pending = next
	}

	return count, nil
}

// Uniform is a Refine predicate splitting every leaf.
func Uniform(grid.Handle, *grid.Node) bool {
	return true
}
