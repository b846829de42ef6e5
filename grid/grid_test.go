package grid

import (
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/lodgrid/featureflag"
	"github.com/aukilabs/lodgrid/fraction"
	"github.com/paulmach/orb"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

var testBounds = orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{100, 100}}

func newTestGrid(t *testing.T, width, height int, flags ...string) *Grid {
	g, err := New(Config{
		Width:  width,
		Height: height,
		Bounds: testBounds,
		Flags:  featureflag.New(flags),
	})
	require.NoError(t, err)
	return g
}

func mustNode(t *testing.T, g *Grid, h Handle) *Node {
	n, err := g.Node(h)
	require.NoError(t, err)
	return n
}

func TestGridCreation(t *testing.T) {
	t.Run("allocates the root level", func(t *testing.T) {
		g := newTestGrid(t, 2, 2)
		require.NotEmpty(t, g.UUID)
		require.Equal(t, 4, g.Len())
		require.Len(t, g.Roots(), 4)
		require.Equal(t, 0, g.Depth())

		h, ok := g.Lookup(0, 3)
		require.True(t, ok)

		n := mustNode(t, g, h)
		require.Equal(t, 3, n.GlobalID)
		require.Equal(t, fraction.New(1, 2), n.Extent().XMin)
		require.Equal(t, fraction.One, n.Extent().YMax)
	})

	t.Run("rejects invalid configurations", func(t *testing.T) {
		_, err := New(Config{Width: 0, Height: 2, Bounds: testBounds})
		require.True(t, errors.IsType(err, ErrTypeInvalidConfig))

		_, err = New(Config{Width: 2, Height: 2})
		require.True(t, errors.IsType(err, ErrTypeInvalidConfig))
	})
}

func TestGridLevelLimit(t *testing.T) {
	t.Run("supported levels", func(t *testing.T) {
		require.Equal(t, MaxLevel, SupportedLevel(2, 1))
		require.Equal(t, 20, SupportedLevel(1000, 1))
		require.Equal(t, 20, SupportedLevel(1, 1000))
		require.Equal(t, 0, SupportedLevel(MaxCells, 1))
		require.Equal(t, -1, SupportedLevel(MaxCells+1, 1))
		require.Equal(t, -1, SupportedLevel(0, 1))
	})

	t.Run("rejects levels the dimensions cannot hold", func(t *testing.T) {
		_, err := New(Config{Width: MaxCells + 1, Height: 1, Bounds: testBounds})
		require.True(t, errors.IsType(err, ErrTypeInvalidConfig))

		_, err = New(Config{Width: 1000, Height: 1, Bounds: testBounds, MaxLevel: 21})
		require.True(t, errors.IsType(err, ErrTypeInvalidConfig))

		_, err = New(Config{Width: 2, Height: 1, Bounds: testBounds, MaxLevel: -1})
		require.True(t, errors.IsType(err, ErrTypeInvalidConfig))

		g, err := New(Config{Width: 2, Height: 1, Bounds: testBounds, MaxLevel: 3})
		require.NoError(t, err)
		require.Equal(t, 3, g.LevelLimit())
	})

	t.Run("deepest cell keeps a valid extent", func(t *testing.T) {
		g := newTestGrid(t, 1000, 1)
		require.Equal(t, 20, g.LevelLimit())

		h, ok := g.Lookup(0, 999)
		require.True(t, ok)

		for level := 0; level < g.LevelLimit(); level++ {
			parent := mustNode(t, g, h).Extent()

			children, err := g.Subdivide(h)
			require.NoError(t, err)
			h = children[3]

			n := mustNode(t, g, h)
			require.GreaterOrEqual(t, n.GlobalID, 0)

			e := n.Extent()
			require.False(t, e.XMin.Less(parent.XMin))
			require.False(t, parent.XMax.Less(e.XMax))
			require.False(t, e.YMin.Less(parent.YMin))
			require.False(t, parent.YMax.Less(e.YMax))
			require.True(t, e.XMin.Less(e.XMax))
			require.True(t, e.YMin.Less(e.YMax))
		}

		n := mustNode(t, g, h)
		width, height := 1000<<20, 1<<20
		require.Equal(t, width*height-1, n.GlobalID)
		require.Equal(t, fraction.New(width-1, width), n.Extent().XMin)
		require.Equal(t, fraction.New(height-1, height), n.Extent().YMin)
		require.Equal(t, fraction.One, n.Extent().XMax)
		require.Equal(t, fraction.One, n.Extent().YMax)

		_, err := g.Subdivide(h)
		require.True(t, errors.IsType(err, ErrTypeInvalidConfig))
	})
}

func TestGridSubdivide(t *testing.T) {
	g := newTestGrid(t, 2, 1)
	root, _ := g.Lookup(0, 1)

	children, err := g.Subdivide(root)
	require.NoError(t, err)
	require.Equal(t, 1, g.Depth())
	require.Equal(t, GlobalRange{Width: 4, Height: 2}, g.LevelRange(1))

	wantIDs := [4]int{2, 3, 6, 7}
	for i, ch := range children {
		n := mustNode(t, g, ch)
		require.Equal(t, i, n.LocalID)
		require.Equal(t, wantIDs[i], n.GlobalID)
		require.Equal(t, 1, n.Level)
		require.Equal(t, root, n.Parent())

		h, ok := g.Lookup(1, wantIDs[i])
		require.True(t, ok)
		require.Equal(t, ch, h)
	}

	se := mustNode(t, g, children[3])
	require.Equal(t, fraction.New(3, 4), se.Extent().XMin)
	require.Equal(t, fraction.One, se.Extent().XMax)
	require.Equal(t, fraction.New(1, 2), se.Extent().YMin)
	require.Equal(t, fraction.One, se.Extent().YMax)

	parent := mustNode(t, g, root)
	require.False(t, parent.IsLeaf())
	require.Equal(t, children, parent.Children())
	require.Len(t, g.Leaves(), 5)
	require.Equal(t, children[:], g.Level(1))

	_, err = g.Subdivide(root)
	require.True(t, errors.IsType(err, ErrTypeAlreadySubdivided))
}

func TestGridMerge(t *testing.T) {
	g := newTestGrid(t, 1, 1)
	root := g.Roots()[0]

	children, err := g.Subdivide(root)
	require.NoError(t, err)
	grandchildren, err := g.Subdivide(children[0])
	require.NoError(t, err)
	require.Equal(t, 9, g.Len())

	require.NoError(t, g.Merge(root))
	require.Equal(t, 1, g.Len())
	require.True(t, mustNode(t, g, root).IsLeaf())
	require.Equal(t, 0, g.Depth())

	for _, h := range append(children[:], grandchildren[:]...) {
		require.False(t, g.Valid(h))
	}

	_, ok := g.Lookup(1, 0)
	require.False(t, ok)

	require.True(t, errors.IsType(g.Merge(root), ErrTypeNotSubdivided))

	t.Run("subdividing again reuses released slots", func(t *testing.T) {
		slots := g.Stats().Slots

		again, err := g.Subdivide(root)
		require.NoError(t, err)
		require.Equal(t, slots, g.Stats().Slots)

		for i, h := range again {
			require.NotEqual(t, children[i], h)
			require.False(t, g.Valid(children[i]))
		}
	})
}

func TestGridRelease(t *testing.T) {
	link := func(g *Grid) (Handle, Handle) {
		west, _ := g.Lookup(0, 0)
		east, _ := g.Lookup(0, 1)
		mustNode(t, g, west).AddNeighbor(East, east)
		mustNode(t, g, east).AddNeighbor(West, west)
		return west, east
	}

	t.Run("keeps stale neighbor handles by default", func(t *testing.T) {
		g := newTestGrid(t, 2, 1)
		west, east := link(g)

		require.NoError(t, g.Release(east))
		require.Len(t, g.Roots(), 1)

		stale := mustNode(t, g, west).Neighbors(East)
		require.Equal(t, []Handle{east}, stale)
		require.False(t, g.Valid(stale[0]))
	})

	t.Run("cleans up neighbor handles when enabled", func(t *testing.T) {
		g := newTestGrid(t, 2, 1, string(featureflag.FlagCleanupNeighborsOnRelease))
		west, east := link(g)

		require.NoError(t, g.Release(east))
		require.Empty(t, mustNode(t, g, west).Neighbors(East))
	})

	t.Run("detaches the node from its parent", func(t *testing.T) {
		g := newTestGrid(t, 1, 1)
		root := g.Roots()[0]
		children, err := g.Subdivide(root)
		require.NoError(t, err)

		require.NoError(t, g.Release(children[2]))
		require.True(t, mustNode(t, g, root).Children()[2].IsNil())
		require.False(t, mustNode(t, g, root).IsLeaf())
		require.Len(t, g.Leaves(), 3)
	})
}

func registerBorder(t *testing.T, g *Grid) {
	for _, h := range g.Leaves() {
		n := mustNode(t, g, h)
		_, r := n.Side(North)
		n.AddEdge(NewEdge(n, nil, North, r), North)
	}
}

func TestGridFingerprint(t *testing.T) {
	a := newTestGrid(t, 2, 2)
	b := newTestGrid(t, 2, 2)
	registerBorder(t, a)
	registerBorder(t, b)

	require.NotEqual(t, a.UUID, b.UUID)
	require.Equal(t, a.Fingerprint(), b.Fingerprint())

	h, _ := b.Lookup(0, 0)
	n := mustNode(t, b, h)
	_, r := n.Side(West)
	n.AddEdge(NewEdge(n, nil, West, r), West)
	require.NotEqual(t, a.Fingerprint(), b.Fingerprint())

	require.NotEqual(t, newTestGrid(t, 4, 1).Fingerprint(), newTestGrid(t, 2, 2).Fingerprint())
}

func TestGridSnapshot(t *testing.T) {
	g := newTestGrid(t, 2, 1)
	west, _ := g.Lookup(0, 0)
	east, _ := g.Lookup(0, 1)
	w := mustNode(t, g, west)
	e := mustNode(t, g, east)

	_, r := w.Side(East)
	edge := NewEdge(w, e, East, r)
	w.AddEdge(edge, East)
	e.AddEdge(edge, West)
	e.AddEdge(edge.Opposite(), West)

	s := g.Snapshot()
	require.Equal(t, g.UUID, s.UUID)
	require.Equal(t, g.Fingerprint().Hex(), s.Fingerprint)
	require.Equal(t, KeyVersion, s.KeyVersion)
	require.Equal(t, [4]float64{0, 0, 100, 100}, s.Bounds)
	require.Len(t, s.Nodes, 2)
	require.Len(t, s.Edges, 1)
	require.Equal(t, "0-0-0-1-0-1-1-1-3", s.Edges[0].Key)
	require.Equal(t, "0-1-0-0-0-1-1-1-1", s.Edges[0].OpKey)

	b, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	edges := decoded["edges"].([]any)
	first := edges[0].(map[string]any)
	require.Equal(t, float64(3), first["edgeCode"])
	require.Equal(t, []any{"0-0", "0-1"}, first["adjGrids"])

	nodes := decoded["nodes"].([]any)
	require.Equal(t, []any{float64(1), float64(2)}, nodes[1].(map[string]any)["xMinPercent"])
}

func TestGridLocate(t *testing.T) {
	g := newTestGrid(t, 2, 2)
	nw, _ := g.Lookup(0, 0)
	children, err := g.Subdivide(nw)
	require.NoError(t, err)

	h, ok := g.Locate(10, 90)
	require.True(t, ok)
	require.Equal(t, children[0], h)

	h, ok = g.Locate(40, 60)
	require.True(t, ok)
	require.Equal(t, children[3], h)

	se, _ := g.Lookup(0, 3)
	h, ok = g.Locate(75, 25)
	require.True(t, ok)
	require.Equal(t, se, h)

	_, ok = g.Locate(150, 25)
	require.False(t, ok)
}
