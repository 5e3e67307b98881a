package feature

import "errors"

// Schema errors.
var (
	ErrDuplicateDefinition = errors.New("feature: duplicate definition")
	ErrUnknownDefinition   = errors.New("feature: unknown definition")
	ErrSchemaConflict      = errors.New("feature: conflicting request declarations")
	ErrSchemaCycle         = errors.New("feature: definition extends itself")
	ErrNotBuilt            = errors.New("feature: registry not built")
	ErrAlreadyBuilt        = errors.New("feature: registry already built")
)

// Request and lifecycle errors.
var (
	ErrUnknownRequest         = errors.New("unknown request type")
	ErrMissingArgument        = errors.New("missing argument")
	ErrBadArgument            = errors.New("bad argument")
	ErrDisallowedNotification = errors.New("disallowed notification")
	ErrUnknownFeature         = errors.New("unknown feature")
	ErrNotStarted             = errors.New("feature not started")
	ErrNoConnection           = errors.New("not connected")
	ErrInvalidOptions         = errors.New("invalid feature options")
	ErrUnavailable            = errors.New("feature dependency not configured")
)
