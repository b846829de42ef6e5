package projection

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

func TestUnitMercator(t *testing.T) {
	t.Run("origin maps to the plane center", func(t *testing.T) {
		p := UnitMercator(orb.Point{0, 0})
		require.InDelta(t, 0.5, p[0], 1e-9)
		require.InDelta(t, 0.5, p[1], 1e-9)
	})

	t.Run("antimeridian maps to the plane edges", func(t *testing.T) {
		require.InDelta(t, 0, UnitMercator(orb.Point{-180, 0})[0], 1e-9)
		require.InDelta(t, 1, UnitMercator(orb.Point{180, 0})[0], 1e-9)
	})

	t.Run("north is up", func(t *testing.T) {
		north := UnitMercator(orb.Point{0, 45})
		south := UnitMercator(orb.Point{0, -45})
		require.Less(t, north[1], south[1])
	})
}

func TestProjector(t *testing.T) {
	p, err := Projector("meters")
	require.NoError(t, err)
	require.InDelta(t, 0, p(orb.Point{0, 0})[0], 1e-6)

	p, err = Projector("")
	require.NoError(t, err)
	require.InDelta(t, 0.5, p(orb.Point{0, 0})[0], 1e-9)

	_, err = Projector("lambert")
	require.Error(t, err)
}

func TestLonLat(t *testing.T) {
	lon, lat, err := LonLat{}.ToLonLat(12.5, -3)
	require.NoError(t, err)
	require.Equal(t, 12.5, lon)
	require.Equal(t, -3.0, lat)
}

func TestCRS(t *testing.T) {
	t.Run("web mercator origin is the geographic origin", func(t *testing.T) {
		crs, err := Parse(WebMercator)
		require.NoError(t, err)
		require.False(t, crs.IsGeographic())

		lon, lat, err := crs.ToLonLat(0, 0)
		require.NoError(t, err)
		require.InDelta(t, 0, lon, 1e-6)
		require.InDelta(t, 0, lat, 1e-6)
	})

	t.Run("web mercator meters map back to longitude", func(t *testing.T) {
		crs, err := Parse(WebMercator)
		require.NoError(t, err)

		m := MercatorMeters(orb.Point{10, 0})
		lon, lat, err := crs.ToLonLat(m[0], m[1])
		require.NoError(t, err)
		require.InDelta(t, 10, lon, 1e-4)
		require.InDelta(t, 0, lat, 1e-4)
	})

	t.Run("geographic input", func(t *testing.T) {
		crs, err := Parse(WGS84)
		require.NoError(t, err)
		require.True(t, crs.IsGeographic())
	})

	t.Run("invalid definition", func(t *testing.T) {
		_, err := Parse("+proj=nope")
		require.Error(t, err)
	})
}
