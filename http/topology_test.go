package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aukilabs/lodgrid/grid"
	"github.com/aukilabs/lodgrid/projection"
	"github.com/aukilabs/lodgrid/websocket"
	"github.com/paulmach/orb"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
	xwebsocket "golang.org/x/net/websocket"
)

func newTestHandler(t *testing.T) (*TopologyHandler, *httptest.Server, func()) {
	g, err := grid.New(grid.Config{
		Width:  2,
		Height: 1,
		Bounds: orb.Bound{Min: orb.Point{-180, -85}, Max: orb.Point{180, 85}},
	})
	require.NoError(t, err)

	h := &TopologyHandler{
		Grid:   g,
		Stream: &websocket.Stream{},
	}

	ctx, cancel := context.WithCancel(context.Background())
	var mux http.ServeMux
	h.Register(ctx, &mux)
	server := httptest.NewServer(&mux)

	return h, server, func() {
		cancel()
		server.Close()
	}
}

func getJSON(t *testing.T, url string, v any) int {
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))

	if v != nil {
		require.NoError(t, json.Unmarshal(b, v))
	}
	return res.StatusCode
}

func TestTopologyHandler(t *testing.T) {
	h, server, close := newTestHandler(t)
	defer close()

	require.False(t, h.Ready())
	require.NoError(t, h.Rebuild(func(g *grid.Grid) error {
		east, _ := g.Lookup(0, 1)
		_, err := g.Subdivide(east)
		return err
	}))
	require.True(t, h.Ready())

	t.Run("topology", func(t *testing.T) {
		var s grid.Snapshot
		require.Equal(t, http.StatusOK, getJSON(t, server.URL+"/topology", &s))
		require.Equal(t, h.Grid.UUID, s.UUID)
		require.Equal(t, 1, s.Depth)
		require.Len(t, s.Nodes, 6)
		require.NotEmpty(t, s.Edges)
	})

	t.Run("stats", func(t *testing.T) {
		var stats grid.Stats
		require.Equal(t, http.StatusOK, getJSON(t, server.URL+"/stats", &stats))
		require.Equal(t, 6, stats.Nodes)
		require.Equal(t, 5, stats.Leaves)
	})

	t.Run("node", func(t *testing.T) {
		var res nodeResponse
		require.Equal(t, http.StatusOK, getJSON(t, server.URL+"/nodes/0/0", &res))
		require.True(t, res.Leaf)
		require.Equal(t, [2]int{1, 2}, res.XMaxPercent)
		require.Equal(t, []string{"1-2", "1-6"}, res.Neighbors[grid.East])
		require.Empty(t, res.Neighbors[grid.West])
		require.Contains(t, res.Edges, "0-0-1-2-0-1-1-2-3")

		// Top left corner maps to the left edge of the unit mercator plane.
		require.InDelta(t, 0, res.Vertices[0], 1e-9)
		require.InDelta(t, 0.5, res.Vertices[2], 1e-9)
		require.Less(t, res.Vertices[1], res.Vertices[5])
	})

	t.Run("node not found", func(t *testing.T) {
		var res errorResponse
		require.Equal(t, http.StatusNotFound, getJSON(t, server.URL+"/nodes/3/0", &res))
		require.Equal(t, grid.ErrTypeNodeNotFound, res.Type)

		require.Equal(t, http.StatusBadRequest, getJSON(t, server.URL+"/nodes/x/0", nil))
	})

	t.Run("edge", func(t *testing.T) {
		var res edgeResponse
		require.Equal(t, http.StatusOK, getJSON(t, server.URL+"/edges/0-0-1-2-0-1-1-2-3", &res))
		require.True(t, res.Registered)
		require.Equal(t, "1-2-0-0-0-1-1-2-1", res.OpKey)
		require.Equal(t, 3, res.EdgeCode)

		require.Equal(t, http.StatusOK, getJSON(t, server.URL+"/edges/0-0-1-3-0-1-1-2-3", &res))
		require.False(t, res.Registered)
	})

	t.Run("malformed edge", func(t *testing.T) {
		var res errorResponse
		require.Equal(t, http.StatusBadRequest, getJSON(t, server.URL+"/edges/0-0-1-2-0-2-1-2-3", &res))
		require.Equal(t, grid.ErrTypeMalformedKey, res.Type)
	})

	t.Run("locate", func(t *testing.T) {
		var res nodeResponse
		require.Equal(t, http.StatusOK, getJSON(t, server.URL+"/locate?x=170&y=80", &res))
		require.Equal(t, 1, res.Level)
		require.Equal(t, 3, res.GlobalID)

		require.Equal(t, http.StatusNotFound, getJSON(t, server.URL+"/locate?x=200&y=0", nil))
		require.Equal(t, http.StatusBadRequest, getJSON(t, server.URL+"/locate?x=a&y=0", nil))
	})
}

func postJSON(t *testing.T, url string, v any) int {
	res, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	defer res.Body.Close()

	if v != nil {
		require.NoError(t, json.NewDecoder(res.Body).Decode(v))
	}
	return res.StatusCode
}

func TestTopologyHandlerMutations(t *testing.T) {
	h, server, close := newTestHandler(t)
	defer close()
	h.MaxLevel = 1
	require.NoError(t, h.Rebuild(nil))

	var stats grid.Stats
	require.Equal(t, http.StatusOK, postJSON(t, server.URL+"/nodes/0/0/subdivide", &stats))
	require.Equal(t, 6, stats.Nodes)
	require.Equal(t, 1, stats.Depth)

	var node nodeResponse
	require.Equal(t, http.StatusOK, getJSON(t, server.URL+"/nodes/0/1", &node))
	require.Equal(t, []string{"1-1", "1-5"}, node.Neighbors[grid.West])

	var res errorResponse
	require.Equal(t, http.StatusConflict, postJSON(t, server.URL+"/nodes/1/0/subdivide", &res))
	require.Equal(t, http.StatusConflict, postJSON(t, server.URL+"/nodes/0/1/merge", &res))
	require.Equal(t, http.StatusNotFound, postJSON(t, server.URL+"/nodes/4/0/merge", &res))

	require.Equal(t, http.StatusOK, postJSON(t, server.URL+"/nodes/0/0/merge", &stats))
	require.Equal(t, 2, stats.Nodes)
	require.Equal(t, 0, stats.Depth)
	require.True(t, h.Ready())
}

func TestTopologyHandlerSourceCRS(t *testing.T) {
	h, server, close := newTestHandler(t)
	defer close()

	crs, err := projection.Parse(projection.WebMercator)
	require.NoError(t, err)
	h.Source = crs
	h.Projection = projection.MercatorMeters
	require.NoError(t, h.Rebuild(nil))

	// Grid bounds are geographic; a mercator source maps them next to the
	// origin without failing.
	var res nodeResponse
	require.Equal(t, http.StatusOK, getJSON(t, server.URL+"/nodes/0/1", &res))
	require.Greater(t, res.Vertices[2], res.Vertices[0])
}

func TestTopologyStream(t *testing.T) {
	h, server, close := newTestHandler(t)
	defer close()

	require.NoError(t, h.Rebuild(nil))

	config, err := xwebsocket.NewConfig(
		strings.ReplaceAll(server.URL, "http://", "ws://")+"/topology/stream",
		"http://localhost",
	)
	require.NoError(t, err)

	conn, err := xwebsocket.DialConfig(config)
	require.NoError(t, err)
	defer conn.Close()

	receive := func() grid.Snapshot {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second*5)))

		var msg string
		require.NoError(t, xwebsocket.Message.Receive(conn, &msg))

		var s grid.Snapshot
		require.NoError(t, json.Unmarshal([]byte(msg), &s))
		return s
	}

	first := receive()
	require.Len(t, first.Nodes, 2)

	require.NoError(t, h.Rebuild(func(g *grid.Grid) error {
		_, err := g.Subdivide(g.Roots()[0])
		return err
	}))

	second := receive()
	require.Len(t, second.Nodes, 6)
	require.NotEqual(t, first.Fingerprint, second.Fingerprint)
}

func TestMetricsPathFormatter(t *testing.T) {
	require.Equal(t, "/topology", MetricsPathFormatter(http.StatusOK, "/topology"))
	require.Equal(t, "/nodes", MetricsPathFormatter(http.StatusOK, "/nodes/2/14"))
	require.Equal(t, "/edges", MetricsPathFormatter(http.StatusOK, "/edges/0-0-null-null-0-1-1-1-0"))
	require.Equal(t, "", MetricsPathFormatter(http.StatusNotFound, "/nodes/2/14"))
}

func TestHandleWithCORS(t *testing.T) {
	h := HandleWithCORS(http.HandlerFunc(HandleHealthCheck))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/health", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleReadyCheck(t *testing.T) {
	ready := false
	h := HandleReadyCheck(func() bool { return ready })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ready = true
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
