package featureflag

type Flag string

const (
	// FlagCleanupNeighborsOnRelease removes a released node from the
	// neighbor sets of the nodes adjacent to it.
	FlagCleanupNeighborsOnRelease Flag = "CLEANUP_NEIGHBORS_ON_RELEASE"

	// FlagDisableBorderEdges stops the topology builder from registering
	// edges between cells and the open map extent.
	FlagDisableBorderEdges Flag = "DISABLE_BORDER_EDGES"
)
