package grid

import (
	"fmt"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

// Handle addresses a node stored in an Arena. A handle stays valid until the
// node is released; the slot generation then changes and the handle no
// longer resolves, even once the slot is reissued.
type Handle struct {
	Index      int    `json:"index"`
	Generation uint32 `json:"generation"`
}

// NilHandle never resolves to a node.
var NilHandle = Handle{}

func (h Handle) IsNil() bool {
	return h.Generation == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("%d:%d", h.Index, h.Generation)
}

type slot struct {
	node       *Node
	generation uint32
	live       bool
}

// Arena stores nodes in reusable slots. The slot index is the storage id of
// the node it holds.
type Arena struct {
	slots []slot
	ids   StorageIDs
	live  int
}

// Alloc initializes a node in a free slot and returns its handle.
// opts.StorageID is ignored and replaced by the slot index.
func (a *Arena) Alloc(opts NodeOptions) (Handle, *Node) {
	id, reused := a.ids.New()
	if !reused {
		a.slots = append(a.slots, slot{
			node:       &Node{},
			generation: 1,
		})
	}

	s := &a.slots[id]
	opts.StorageID = id
	s.node.init(opts)
	s.live = true
	a.live++

	instrumentNodeAlloc(s.node.Level)
	return Handle{Index: id, Generation: s.generation}, s.node
}

// Get returns the node addressed by h.
func (a *Arena) Get(h Handle) (*Node, error) {
	if h.Index < 0 || h.Index >= len(a.slots) {
		return nil, errors.New("handle out of range").
			WithType(ErrTypeStaleHandle).
			WithTag("handle", h.String())
	}

	s := a.slots[h.Index]
	if !s.live || s.generation != h.Generation {
		return nil, errors.New("stale handle").
			WithType(ErrTypeStaleHandle).
			WithTag("handle", h.String()).
			WithTag("generation", s.generation)
	}
	return s.node, nil
}

// Valid reports whether h resolves to a live node.
func (a *Arena) Valid(h Handle) bool {
	_, err := a.Get(h)
	return err == nil
}

// Release voids the node addressed by h and makes its slot reusable.
func (a *Arena) Release(h Handle) error {
	n, err := a.Get(h)
	if err != nil {
		return err
	}

	level := n.Level
	n.Release()

	s := &a.slots[h.Index]
	s.live = false
	s.generation++
	if s.generation == 0 {
		s.generation = 1
	}
	a.ids.Reuse(h.Index)
	a.live--

	instrumentNodeRelease(level)
	return nil
}

// Len returns the number of live nodes.
func (a *Arena) Len() int {
	return a.live
}

// Cap returns the number of slots, live or reusable.
func (a *Arena) Cap() int {
	return len(a.slots)
}

// Each calls fn for every live node in slot order.
func (a *Arena) Each(fn func(Handle, *Node)) {
	for i, s := range a.slots {
		if s.live {
			fn(Handle{Index: i, Generation: s.generation}, s.node)
		}
	}
}
