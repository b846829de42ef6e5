package grid

import (
	"strconv"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/lodgrid/fraction"
	"google.golang.org/protobuf/types/known/structpb"
)

// KeyVersion is the version of the edge key layout produced by Edge.Key.
//
// Version 1 is nine dash separated tokens:
//
//	level1-globalId1-level2-globalId2-minNum-minDen-maxNum-maxDen-edgeCode
//
// A side without a neighbor encodes its level and global id as "null".
const KeyVersion = 1

const (
	keySeparator = "-"
	nullToken    = "null"
	keyTokens    = 9
)

// EdgeSide identifies one of the two cells a boundary separates. An absent
// side is the open map extent.
type EdgeSide struct {
	Level    int
	GlobalID int
	Absent   bool
}

// AbsentSide is the side of a boundary that has no neighboring cell.
var AbsentSide = EdgeSide{Absent: true}

// SideOf returns the edge side for n. A nil node is the absent side.
func SideOf(n *Node) EdgeSide {
	if n == nil {
		return AbsentSide
	}
	return EdgeSide{Level: n.Level, GlobalID: n.GlobalID}
}

// String returns "level-globalId", or "null-null" for the absent side.
func (s EdgeSide) String() string {
	if s.Absent {
		return nullToken + keySeparator + nullToken
	}
	return strconv.Itoa(s.Level) + keySeparator + strconv.Itoa(s.GlobalID)
}

// Range is the extent of a boundary segment along its axis, as fractions of
// the root unit square.
type Range struct {
	Min fraction.Fraction
	Max fraction.Fraction
}

// NewRange builds a range from [minNum, minDen, maxNum, maxDen].
func NewRange(r [4]int) Range {
	return Range{
		Min: fraction.New(r[0], r[1]),
		Max: fraction.New(r[2], r[3]),
	}
}

// Values returns the range as [minNum, minDen, maxNum, maxDen].
func (r Range) Values() [4]int {
	return [4]int{r.Min.Num(), r.Min.Den(), r.Max.Num(), r.Max.Den()}
}

// Edge is one boundary segment between two cells, seen from its first side.
// Its identity never changes after construction; properties can be attached
// without affecting the key.
type Edge struct {
	from      EdgeSide
	to        EdgeSide
	rng       Range
	direction Direction

	key        string
	opKey      string
	properties map[string]any
}

// NewEdge creates the edge separating from and to, where to lies in
// direction d of from. Nil nodes are encoded as absent sides. The given
// property names are attached with unset values.
func NewEdge(from, to *Node, d Direction, r Range, properties ...string) *Edge {
	return newEdge(SideOf(from), SideOf(to), d, r, properties...)
}

func newEdge(from, to EdgeSide, d Direction, r Range, properties ...string) *Edge {
	e := &Edge{
		from:       from,
		to:         to,
		rng:        r,
		direction:  d,
		properties: make(map[string]any, len(properties)),
	}

	for _, p := range properties {
		e.properties[p] = nil
	}

	e.key = encodeKey(from, to, r, d)
	e.opKey = encodeKey(to, from, r, d.Toggle())
	return e
}

// CreateKey returns the key of the boundary between from and to without
// keeping the edge. r is [minNum, minDen, maxNum, maxDen] and is reduced
// before encoding.
func CreateKey(from, to *Node, d Direction, r [4]int) string {
	return encodeKey(SideOf(from), SideOf(to), NewRange(r), d)
}

func encodeKey(from, to EdgeSide, r Range, d Direction) string {
	var b strings.Builder
	b.Grow(48)

	b.WriteString(from.String())
	b.WriteString(keySeparator)
	b.WriteString(to.String())

	for _, v := range r.Values() {
		b.WriteString(keySeparator)
		b.WriteString(strconv.Itoa(v))
	}

	b.WriteString(keySeparator)
	b.WriteString(strconv.Itoa(int(d)))
	return b.String()
}

func (e *Edge) From() EdgeSide {
	return e.from
}

func (e *Edge) To() EdgeSide {
	return e.to
}

func (e *Edge) Range() Range {
	return e.rng
}

func (e *Edge) Direction() Direction {
	return e.direction
}

// Key returns the canonical key of the edge from its first side.
func (e *Edge) Key() string {
	return e.key
}

// OpKey returns the key the cell on the other side would build for the same
// boundary.
func (e *Edge) OpKey() string {
	return e.opKey
}

// Opposite returns the same boundary seen from the other side. Properties
// are copied.
func (e *Edge) Opposite() *Edge {
	o := newEdge(e.to, e.from, e.direction.Toggle(), e.rng)
	for k, v := range e.properties {
		o.properties[k] = v
	}
	return o
}

// Property returns the value of the named property and whether it is
// attached to the edge.
func (e *Edge) Property(name string) (any, bool) {
	v, ok := e.properties[name]
	return v, ok
}

func (e *Edge) SetProperty(name string, v any) {
	e.properties[name] = v
}

// Properties returns a copy of the attached properties.
func (e *Edge) Properties() map[string]any {
	props := make(map[string]any, len(e.properties))
	for k, v := range e.properties {
		props[k] = v
	}
	return props
}

// EdgeRecord is the serialized form of an edge.
type EdgeRecord struct {
	EdgeCode   int       `json:"edgeCode"`
	AdjGrids   [2]string `json:"adjGrids"`
	MinPercent [2]int    `json:"minPercent"`
	MaxPercent [2]int    `json:"maxPercent"`
}

// Serialization returns the serialized form of the edge.
func (e *Edge) Serialization() EdgeRecord {
	return EdgeRecord{
		EdgeCode:   int(e.direction),
		AdjGrids:   [2]string{e.from.String(), e.to.String()},
		MinPercent: e.rng.Min.Pair(),
		MaxPercent: e.rng.Max.Pair(),
	}
}

func (r EdgeRecord) ToProtobuf() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"edgeCode":   r.EdgeCode,
		"adjGrids":   []any{r.AdjGrids[0], r.AdjGrids[1]},
		"minPercent": []any{r.MinPercent[0], r.MinPercent[1]},
		"maxPercent": []any{r.MaxPercent[0], r.MaxPercent[1]},
	})
}

func (e *Edge) ToProtobuf() (*structpb.Struct, error) {
	return e.Serialization().ToProtobuf()
}

// ParseKey decodes a version 1 edge key. Fractions must be in lowest terms
// and the direction must be valid, which makes OppositeKey an involution on
// every key ParseKey accepts.
func ParseKey(key string) (*Edge, error) {
	tokens := strings.Split(key, keySeparator)
	if len(tokens) != keyTokens {
		return nil, errors.New("unexpected edge key token count").
			WithType(ErrTypeMalformedKey).
			WithTag("key", key).
			WithTag("tokens", len(tokens))
	}

	from, err := parseSide(tokens[0], tokens[1])
	if err != nil {
		return nil, errors.New("invalid first side").
			WithType(ErrTypeMalformedKey).
			WithTag("key", key).
			Wrap(err)
	}

	to, err := parseSide(tokens[2], tokens[3])
	if err != nil {
		return nil, errors.New("invalid second side").
			WithType(ErrTypeMalformedKey).
			WithTag("key", key).
			Wrap(err)
	}

	var values [5]int
	for i, t := range tokens[4:] {
		v, err := parseUint(t)
		if err != nil {
			return nil, errors.New("invalid integer token").
				WithType(ErrTypeMalformedKey).
				WithTag("key", key).
				WithTag("token", t).
				Wrap(err)
		}
		values[i] = v
	}

	if !fraction.IsReduced(values[0], values[1]) || !fraction.IsReduced(values[2], values[3]) {
		return nil, errors.New("edge range is not in lowest terms").
			WithType(ErrTypeMalformedKey).
			WithTag("key", key)
	}

	r := NewRange([4]int{values[0], values[1], values[2], values[3]})
	if r.Max.Less(r.Min) {
		return nil, errors.New("edge range minimum is greater than its maximum").
			WithType(ErrTypeMalformedKey).
			WithTag("key", key)
	}

	d := Direction(values[4])
	if !d.Valid() {
		return nil, errors.New("invalid edge direction").
			WithType(ErrTypeMalformedKey).
			WithTag("key", key).
			WithTag("direction", values[4])
	}

	return newEdge(from, to, d, r), nil
}

// OppositeKey returns the key of the same boundary seen from the other side.
func OppositeKey(key string) (string, error) {
	e, err := ParseKey(key)
	if err != nil {
		return "", err
	}
	return e.OpKey(), nil
}

func parseSide(level, globalID string) (EdgeSide, error) {
	if level == nullToken || globalID == nullToken {
		if level != globalID {
			return EdgeSide{}, errors.New("partially absent side").
				WithTag("level", level).
				WithTag("global_id", globalID)
		}
		return AbsentSide, nil
	}

	l, err := parseUint(level)
	if err != nil {
		return EdgeSide{}, err
	}

	id, err := parseUint(globalID)
	if err != nil {
		return EdgeSide{}, err
	}

	return EdgeSide{Level: l, GlobalID: id}, nil
}

// parseUint accepts plain base-10 digits only, without leading zeros, so
// every accepted token re-encodes to itself.
func parseUint(s string) (int, error) {
	if s == "" {
		return 0, errors.New("empty integer token")
	}

	if len(s) > 1 && s[0] == '0' {
		return 0, errors.New("integer token has a leading zero").WithTag("token", s)
	}

	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errors.New("not an unsigned integer").WithTag("token", s)
		}
	}

	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("integer token out of range").
			WithTag("token", s).
			Wrap(err)
	}
	return v, nil
}
