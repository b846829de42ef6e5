// Package projection provides the coordinate collaborators of the grid: a
// reference system transform into geographic longitude/latitude and web
// mercator projectors for the rendering plane.
package projection

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/ctessum/geom/proj"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"
)

const (
	ErrTypeInvalidCRS = "invalid_crs"
	ErrTypeTransform  = "transform"
)

const (
	// WGS84 is the geographic longitude/latitude reference system.
	WGS84 = "+proj=longlat +datum=WGS84 +no_defs"

	// WebMercator is the spherical pseudo mercator used by web maps.
	WebMercator = "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs"
)

var (
	// UnitMercator projects longitude/latitude onto the [0, 1] x [0, 1]
	// web mercator plane, y growing southwards.
	UnitMercator orb.Projection = func(ll orb.Point) orb.Point {
		return maptile.Fraction(ll, 0)
	}

	// MercatorMeters projects longitude/latitude onto spherical mercator
	// meters.
	MercatorMeters orb.Projection = project.WGS84.ToMercator
)

// Projector returns the named rendering plane projection: "unit" or
// "meters".
func Projector(name string) (orb.Projection, error) {
	switch name {
	case "", "unit":
		return UnitMercator, nil
	case "meters":
		return MercatorMeters, nil
	default:
		return nil, errors.New("unknown projector").
			WithType(ErrTypeInvalidCRS).
			WithTag("projector", name)
	}
}

// CRS is a source reference system able to convert its coordinates into
// WGS84 longitude and latitude.
type CRS struct {
	Definition string

	sr      *proj.SR
	toWGS84 proj.Transformer
}

// Parse returns the reference system described by a proj4 definition.
func Parse(definition string) (*CRS, error) {
	sr, err := proj.Parse(definition)
	if err != nil {
		return nil, errors.New("parsing reference system failed").
			WithType(ErrTypeInvalidCRS).
			WithTag("definition", definition).
			Wrap(err)
	}

	wgs84, err := proj.Parse(WGS84)
	if err != nil {
		return nil, errors.New("parsing wgs84 failed").
			WithType(ErrTypeInvalidCRS).
			Wrap(err)
	}

	toWGS84, err := sr.NewTransform(wgs84)
	if err != nil {
		return nil, errors.New("creating wgs84 transform failed").
			WithType(ErrTypeInvalidCRS).
			WithTag("definition", definition).
			Wrap(err)
	}

	return &CRS{
		Definition: definition,
		sr:         sr,
		toWGS84:    toWGS84,
	}, nil
}

// IsGeographic reports whether coordinates are already longitude/latitude.
func (c *CRS) IsGeographic() bool {
	return c.sr.Name == "longlat"
}

// ToLonLat converts x, y into longitude and latitude.
func (c *CRS) ToLonLat(x, y float64) (lon, lat float64, err error) {
	lon, lat, err = c.toWGS84(x, y)
	if err != nil {
		return 0, 0, errors.New("transforming to wgs84 failed").
			WithType(ErrTypeTransform).
			WithTag("definition", c.Definition).
			WithTag("x", x).
			WithTag("y", y).
			Wrap(err)
	}
	return lon, lat, nil
}

// LonLat is the identity transform for coordinates that already are
// longitude and latitude.
type LonLat struct{}

func (LonLat) ToLonLat(x, y float64) (lon, lat float64, err error) {
	return x, y, nil
}
