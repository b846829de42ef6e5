// Package smoketest verifies the edge and neighbor invariants of a grid
// topology snapshot.
package smoketest

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/lodgrid/fraction"
	"github.com/aukilabs/lodgrid/grid"
	"github.com/segmentio/encoding/json"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"

	// Failures reported per check are capped.
	maxFailures = 32
)

const (
	CheckOpKeyInvolution     = "op_key_involution"
	CheckBorderEdges         = "border_edges"
	CheckReducedFractions    = "reduced_fractions"
	CheckReciprocalEdges     = "reciprocal_edges"
	CheckReciprocalNeighbors = "reciprocal_neighbors"
)

type Options struct {
	// Returns the snapshot to verify. Called once per request.
	Snapshot func() grid.Snapshot

	// Optional. Receives the results once the response is written.
	SendResult func(context.Context, Results) error
}

type testCtxKey string

var testCtxKeyValue testCtxKey = "test-context"

type testContext struct {
	context.Context
	Cancel func()
}

// Results is the outcome of a smoke test run.
type Results struct {
	UUID            string        `json:"uuid"`
	Fingerprint     string        `json:"fingerprint"`
	Status          string        `json:"status"`
	LatencyMilliSec float64       `json:"latency_ms"`
	Checks          []CheckResult `json:"checks"`
}

type CheckResult struct {
	Name     string   `json:"name"`
	Passed   bool     `json:"passed"`
	Failures []string `json:"failures,omitempty"`
}

func (r *CheckResult) fail(format string, v ...any) {
	r.Passed = false
	if len(r.Failures) < maxFailures {
		r.Failures = append(r.Failures, fmt.Sprintf(format, v...))
	}
}

// Passed reports whether every check passed.
func (r Results) Passed() bool {
	return r.Status == StatusSuccess
}

// HandleSmokeTest verifies the current snapshot and writes the results.
// Responds with 500 when a check fails.
func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		res := Check(opts.Snapshot())
		res.LatencyMilliSec = float64(time.Since(start).Microseconds()) / 1000

		b, err := json.Marshal(res)
		if err != nil {
			logs.Warn(errors.New("encoding smoke test results failed").Wrap(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if res.Passed() {
			w.WriteHeader(http.StatusOK)
		} else {
			logs.WithTag("uuid", res.UUID).
				WithTag("fingerprint", res.Fingerprint).
				Warn(errors.New("smoke test failed"))
			w.WriteHeader(http.StatusInternalServerError)
		}
		w.Write(b)

		if opts.SendResult == nil {
			return
		}

		go func() {
			defer func() {
				// cancel the test context on exit to signal the function
				// exited
				if tctx := ctx.Value(testCtxKeyValue); tctx != nil {
					testCtx := tctx.(testContext)
					if testCtx.Cancel != nil {
						testCtx.Cancel()
					}
				}
			}()

			if err := opts.SendResult(ctx, res); err != nil {
				logs.WithTag("uuid", res.UUID).
					Warn(errors.New("sending smoke test result failed").Wrap(err))
			}
		}()
	}
}

// Check runs every invariant check on s.
func Check(s grid.Snapshot) Results {
	nodes := make(map[grid.Handle]grid.NodeSnapshot, len(s.Nodes))
	cells := make(map[string]grid.NodeSnapshot, len(s.Nodes))
	for _, n := range s.Nodes {
		nodes[n.Handle] = n
		cells[cellKey(n.Level, n.GlobalID)] = n
	}

	res := Results{
		UUID:        s.UUID,
		Fingerprint: s.Fingerprint,
		Status:      StatusSuccess,
		Checks: []CheckResult{
			checkOpKeyInvolution(s),
			checkBorderEdges(s),
			checkReducedFractions(s),
			checkReciprocalEdges(s, cells),
			checkReciprocalNeighbors(s, nodes),
		},
	}

	for _, c := range res.Checks {
		if !c.Passed {
			res.Status = StatusFailed
		}
	}
	return res
}

func cellKey(level, globalID int) string {
	return fmt.Sprintf("%d-%d", level, globalID)
}

func checkOpKeyInvolution(s grid.Snapshot) CheckResult {
	res := CheckResult{Name: CheckOpKeyInvolution, Passed: true}

	for _, n := range s.Nodes {
		for _, key := range n.Edges {
			op, err := grid.OppositeKey(key)
			if err != nil {
				res.fail("%s: %s", key, err)
				continue
			}

			back, err := grid.OppositeKey(op)
			if err != nil {
				res.fail("%s: %s", op, err)
				continue
			}

			if back != key {
				res.fail("%s: opposite of opposite is %s", key, back)
			}
		}
	}
	return res
}

func checkBorderEdges(s grid.Snapshot) CheckResult {
	res := CheckResult{Name: CheckBorderEdges, Passed: true}

	for _, n := range s.Nodes {
		self := cellKey(n.Level, n.GlobalID)

		for _, key := range n.Edges {
			e, err := grid.ParseKey(key)
			if err != nil {
				continue
			}

			if e.From().Absent {
				res.fail("%s: null side in first position on %s", key, self)
				continue
			}

			if e.From().String() != self {
				res.fail("%s: registered on %s", key, self)
				continue
			}

			if e.To().Absent && !withinSide(n.NodeRecord, e) {
				res.fail("%s: border edge outside side %s of %s", key, e.Direction(), self)
			}
		}
	}
	return res
}

// withinSide reports whether the range of e lies on the side of the node
// extent it is registered on.
func withinSide(r grid.NodeRecord, e *grid.Edge) bool {
	lo, hi := r.YMinPercent, r.YMaxPercent
	if d := e.Direction(); d == grid.North || d == grid.South {
		lo, hi = r.XMinPercent, r.XMaxPercent
	}

	side := e.Range()
	return !side.Min.Less(fraction.New(lo[0], lo[1])) &&
		!fraction.New(hi[0], hi[1]).Less(side.Max)
}

func checkReducedFractions(s grid.Snapshot) CheckResult {
	res := CheckResult{Name: CheckReducedFractions, Passed: true}

	reduced := func(p [2]int) bool {
		return p[1] > 0 && fraction.IsReduced(p[0], p[1])
	}

	for _, n := range s.Nodes {
		for _, p := range [][2]int{n.XMinPercent, n.YMinPercent, n.XMaxPercent, n.YMaxPercent} {
			if !reduced(p) {
				res.fail("node %d-%d: %d/%d", n.Level, n.GlobalID, p[0], p[1])
			}
		}
	}

	for _, e := range s.Edges {
		if !reduced(e.MinPercent) || !reduced(e.MaxPercent) {
			res.fail("%s: range is not in lowest terms", e.Key)
		}
	}
	return res
}

func checkReciprocalEdges(s grid.Snapshot, cells map[string]grid.NodeSnapshot) CheckResult {
	res := CheckResult{Name: CheckReciprocalEdges, Passed: true}

	for _, n := range s.Nodes {
		for _, key := range n.Edges {
			e, err := grid.ParseKey(key)
			if err != nil || e.To().Absent {
				continue
			}

			other, ok := cells[e.To().String()]
			if !ok {
				res.fail("%s: no node %s", key, e.To())
				continue
			}

			if !slices.Contains(other.Edges, e.OpKey()) {
				res.fail("%s: %s misses %s", key, e.To(), e.OpKey())
			}
		}
	}
	return res
}

func checkReciprocalNeighbors(s grid.Snapshot, nodes map[grid.Handle]grid.NodeSnapshot) CheckResult {
	res := CheckResult{Name: CheckReciprocalNeighbors, Passed: true}

	for _, n := range s.Nodes {
		for _, d := range grid.Directions {
			for _, h := range n.Neighbors[d] {
				other, ok := nodes[h]
				if !ok {
					res.fail("node %d-%d: stale %s neighbor %s", n.Level, n.GlobalID, d, h)
					continue
				}

				if !slices.Contains(other.Neighbors[d.Toggle()], n.Handle) {
					res.fail("node %d-%d: %s neighbor %d-%d does not link back",
						n.Level, n.GlobalID, d, other.Level, other.GlobalID)
				}
			}
		}
	}
	return res
}
