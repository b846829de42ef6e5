package grid

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

// Direction identifies the side of a cell a boundary or neighbor lies on.
type Direction int

const (
	North Direction = iota
	West
	South
	East

	// InvalidDirection signals a failed decode or toggle. It must never be
	// used to index a node's edge or neighbor sets.
	InvalidDirection Direction = -1
)

// Directions lists the valid directions in storage order.
var Directions = [4]Direction{North, West, South, East}

func (d Direction) Valid() bool {
	return d >= North && d <= East
}

// Toggle returns the direction as seen from the neighbor on the other side
// of the boundary. Invalid directions are logged and yield InvalidDirection.
func (d Direction) Toggle() Direction {
	switch d {
	case North:
		return South
	case South:
		return North
	case West:
		return East
	case East:
		return West
	default:
		instrumentInvalidDirection("toggle")
		logs.WithTag("direction", int(d)).
			Error(errors.New("toggling an invalid direction").
				WithType(ErrTypeInvalidDirection))
		return InvalidDirection
	}
}

func (d Direction) String() string {
	switch d {
	case North:
		return "north"
	case West:
		return "west"
	case South:
		return "south"
	case East:
		return "east"
	default:
		return "invalid"
	}
}
