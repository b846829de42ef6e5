package grid

const (
	ErrTypeMalformedKey      = "malformed_key"
	ErrTypeInvalidDirection  = "invalid_direction"
	ErrTypeStaleHandle       = "stale_handle"
	ErrTypeNodeNotFound      = "node_not_found"
	ErrTypeAlreadySubdivided = "already_subdivided"
	ErrTypeNotSubdivided     = "not_subdivided"
	ErrTypeTransform         = "transform"
	ErrTypeInvalidConfig     = "invalid_config"
	ErrTypeReleasedNode      = "released_node"
)
