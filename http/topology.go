package http

import (
	"context"
	"net/http"
	"strconv"
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/lodgrid/grid"
	"github.com/aukilabs/lodgrid/projection"
	"github.com/aukilabs/lodgrid/topology"
	"github.com/aukilabs/lodgrid/websocket"
	"github.com/paulmach/orb"
)

// TopologyHandler serves a grid and its topology. Reads run concurrently;
// rebuilds are exclusive so readers never observe a partially built
// topology.
type TopologyHandler struct {
	// The served grid.
	Grid *grid.Grid

	// The topology builder run after each mutation.
	Builder topology.Builder

	// Converts grid coordinates to longitude and latitude. Defaults to
	// projection.LonLat.
	Source grid.LonLatTransformer

	// The projection applied to node vertices. Defaults to
	// projection.UnitMercator.
	Projection orb.Projection

	// Optional. Receives a snapshot after each rebuild.
	Stream *websocket.Stream

	// The deepest level reachable through the subdivide route. Defaults to
	// the grid level limit.
	MaxLevel int

	mutex sync.RWMutex
	built bool
}

// Rebuild runs mutate with exclusive access to the grid, rebuilds the
// topology and publishes the resulting snapshot. A nil mutate only rebuilds.
func (h *TopologyHandler) Rebuild(mutate func(*grid.Grid) error) error {
	h.mutex.Lock()

	if mutate != nil {
		if err := mutate(h.Grid); err != nil {
			h.mutex.Unlock()
			return errors.New("mutating grid failed").Wrap(err)
		}
	}

	if err := h.Builder.Build(h.Grid); err != nil {
		h.built = false
		h.mutex.Unlock()
		return errors.New("building topology failed").Wrap(err)
	}
	h.built = true

	snapshot := h.Grid.Snapshot()
	h.mutex.Unlock()

	if h.Stream != nil {
		if err := h.Stream.Publish(snapshot); err != nil {
			logs.WithTag("grid", snapshot.UUID).Warn(err)
		}
	}
	return nil
}

// Read runs fn with shared access to the grid.
func (h *TopologyHandler) Read(fn func(*grid.Grid)) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	fn(h.Grid)
}

func (h *TopologyHandler) Snapshot() grid.Snapshot {
	var s grid.Snapshot
	h.Read(func(g *grid.Grid) {
		s = g.Snapshot()
	})
	return s
}

// Ready reports whether the topology has been built.
func (h *TopologyHandler) Ready() bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.built
}

// Register adds the topology routes to mux.
func (h *TopologyHandler) Register(ctx context.Context, mux *http.ServeMux) {
	mux.Handle("GET /topology", HandleWithCORS(http.HandlerFunc(h.HandleTopology)))
	mux.Handle("GET /stats", HandleWithCORS(http.HandlerFunc(h.HandleStats)))
	mux.Handle("GET /nodes/{level}/{globalID}", HandleWithCORS(http.HandlerFunc(h.HandleNode)))
	mux.Handle("GET /edges/{key}", HandleWithCORS(http.HandlerFunc(h.HandleEdge)))
	mux.Handle("GET /locate", HandleWithCORS(http.HandlerFunc(h.HandleLocate)))
	mux.Handle("POST /nodes/{level}/{globalID}/subdivide", HandleWithCORS(http.HandlerFunc(h.HandleSubdivide)))
	mux.Handle("POST /nodes/{level}/{globalID}/merge", HandleWithCORS(http.HandlerFunc(h.HandleMerge)))

	if h.Stream != nil {
		mux.Handle("/topology/stream", h.Stream.Server(ctx))
	}
}

func (h *TopologyHandler) HandleTopology(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Snapshot())
}

func (h *TopologyHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	var stats grid.Stats
	h.Read(func(g *grid.Grid) {
		stats = g.Stats()
	})
	writeJSON(w, http.StatusOK, stats)
}

type nodeResponse struct {
	grid.NodeRecord

	Level     int         `json:"level"`
	GlobalID  int         `json:"globalId"`
	LocalID   int         `json:"localId"`
	Leaf      bool        `json:"leaf"`
	Edges     []string    `json:"edges"`
	Neighbors [4][]string `json:"neighbors"`
	Vertices  [8]float64  `json:"vertices"`
}

func (h *TopologyHandler) HandleNode(w http.ResponseWriter, r *http.Request) {
	level, globalID, err := nodePath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var res nodeResponse
	status := http.StatusOK

	h.Read(func(g *grid.Grid) {
		var n *grid.Node
		if n, err = lookupNode(g, level, globalID); err != nil {
			status = http.StatusNotFound
			return
		}

		res, err = h.nodeResponse(g, n)
		if err != nil {
			status = http.StatusInternalServerError
		}
	})

	if err != nil {
		writeError(w, status, err)
		return
	}
	writeJSON(w, status, res)
}

// HandleSubdivide splits a leaf and rebuilds the topology.
func (h *TopologyHandler) HandleSubdivide(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(g *grid.Grid, hn grid.Handle, n *grid.Node) error {
		maxLevel := h.MaxLevel
		if maxLevel <= 0 || maxLevel > g.LevelLimit() {
			maxLevel = g.LevelLimit()
		}

		if n.Level >= maxLevel {
			return errors.New("maximum subdivision level reached").
				WithType(grid.ErrTypeInvalidConfig).
				WithTag("level", n.Level).
				WithTag("max_level", maxLevel)
		}

		_, err := g.Subdivide(hn)
		return err
	})
}

// HandleMerge releases the descendants of a node and rebuilds the topology.
func (h *TopologyHandler) HandleMerge(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(g *grid.Grid, hn grid.Handle, n *grid.Node) error {
		return g.Merge(hn)
	})
}

func (h *TopologyHandler) mutate(w http.ResponseWriter, r *http.Request, fn func(*grid.Grid, grid.Handle, *grid.Node) error) {
	level, globalID, err := nodePath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	status := http.StatusConflict
	err = h.Rebuild(func(g *grid.Grid) error {
		hn, ok := g.Lookup(level, globalID)
		if !ok {
			status = http.StatusNotFound
			return nodeNotFound(level, globalID)
		}

		n, err := g.Node(hn)
		if err != nil {
			status = http.StatusNotFound
			return err
		}
		return fn(g, hn, n)
	})
	if err != nil {
		writeError(w, status, err)
		return
	}

	var stats grid.Stats
	h.Read(func(g *grid.Grid) {
		stats = g.Stats()
	})
	writeJSON(w, http.StatusOK, stats)
}

func nodePath(r *http.Request) (level, globalID int, err error) {
	if level, err = strconv.Atoi(r.PathValue("level")); err != nil {
		return 0, 0, errors.New("invalid level").Wrap(err)
	}

	if globalID, err = strconv.Atoi(r.PathValue("globalID")); err != nil {
		return 0, 0, errors.New("invalid global id").Wrap(err)
	}
	return level, globalID, nil
}

func lookupNode(g *grid.Grid, level, globalID int) (*grid.Node, error) {
	hn, ok := g.Lookup(level, globalID)
	if !ok {
		return nil, nodeNotFound(level, globalID)
	}
	return g.Node(hn)
}

func nodeNotFound(level, globalID int) error {
	return errors.New("node not found").
		WithType(grid.ErrTypeNodeNotFound).
		WithTag("level", level).
		WithTag("global_id", globalID)
}

func (h *TopologyHandler) nodeResponse(g *grid.Grid, n *grid.Node) (nodeResponse, error) {
	src := h.Source
	if src == nil {
		src = projection.LonLat{}
	}

	proj := h.Projection
	if proj == nil {
		proj = projection.UnitMercator
	}

	vertices, err := n.Vertices(src, proj, g.Bounds)
	if err != nil {
		return nodeResponse{}, err
	}

	res := nodeResponse{
		NodeRecord: n.Serialization(),
		Level:      n.Level,
		GlobalID:   n.GlobalID,
		LocalID:    n.LocalID,
		Leaf:       n.IsLeaf(),
		Edges:      n.EdgeKeys(),
		Vertices:   vertices,
	}

	for _, d := range grid.Directions {
		res.Neighbors[d] = []string{}
		for _, nh := range n.Neighbors(d) {
			if neighbor, err := g.Node(nh); err == nil {
				res.Neighbors[d] = append(res.Neighbors[d], grid.SideOf(neighbor).String())
			}
		}
	}
	return res, nil
}

type edgeResponse struct {
	grid.EdgeRecord

	Key        string         `json:"key"`
	OpKey      string         `json:"opKey"`
	Registered bool           `json:"registered"`
	Properties map[string]any `json:"properties,omitempty"`
}

// HandleEdge decodes an edge key and reports whether the boundary is
// registered on the node of its first side.
func (h *TopologyHandler) HandleEdge(w http.ResponseWriter, r *http.Request) {
	e, err := grid.ParseKey(r.PathValue("key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res := edgeResponse{
		EdgeRecord: e.Serialization(),
		Key:        e.Key(),
		OpKey:      e.OpKey(),
		Properties: e.Properties(),
	}

	h.Read(func(g *grid.Grid) {
		from := e.From()
		hn, ok := g.Lookup(from.Level, from.GlobalID)
		if !ok {
			return
		}

		if n, err := g.Node(hn); err == nil {
			res.Registered = n.HasEdge(e.Direction(), e.Key())
		}
	})

	writeJSON(w, http.StatusOK, res)
}

// HandleLocate returns the leaf containing the x and y query parameters,
// expressed in the reference system of the grid bounds.
func (h *TopologyHandler) HandleLocate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	x, err := strconv.ParseFloat(q.Get("x"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid x").Wrap(err))
		return
	}

	y, err := strconv.ParseFloat(q.Get("y"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid y").Wrap(err))
		return
	}

	var res nodeResponse
	status := http.StatusOK

	h.Read(func(g *grid.Grid) {
		hn, ok := g.Locate(x, y)
		if !ok {
			status = http.StatusNotFound
			err = errors.New("point is outside the grid").
				WithType(grid.ErrTypeNodeNotFound).
				WithTag("x", x).
				WithTag("y", y)
			return
		}

		var n *grid.Node
		if n, err = g.Node(hn); err != nil {
			status = http.StatusNotFound
			return
		}

		res, err = h.nodeResponse(g, n)
		if err != nil {
			status = http.StatusInternalServerError
		}
	})

	if err != nil {
		writeError(w, status, err)
		return
	}
	writeJSON(w, status, res)
}
