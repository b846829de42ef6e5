package featureflag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFeatureFlag(t *testing.T) {
	f := New([]string{string(FlagCleanupNeighborsOnRelease)})

	t.Run("run if enabled", func(t *testing.T) {
		var cleanup bool
		f.IfSet(FlagCleanupNeighborsOnRelease, func() {
			cleanup = true
		})
		require.True(t, cleanup)

		var noBorders bool
		f.IfSet(FlagDisableBorderEdges, func() {
			noBorders = true
		})
		require.False(t, noBorders)
	})

	t.Run("run if disabled", func(t *testing.T) {
		var cleanup bool
		f.IfNotSet(FlagCleanupNeighborsOnRelease, func() {
			cleanup = true
		})
		require.False(t, cleanup)

		var borders bool
		f.IfNotSet(FlagDisableBorderEdges, func() {
			borders = true
		})
		require.True(t, borders)
	})

	t.Run("nil flags are all unset", func(t *testing.T) {
		var empty FeatureFlag
		require.False(t, empty.IsSet(FlagDisableBorderEdges))
	})
}
