package mcpgateway

import "errors"

var (
	// ErrMalformedQualifiedName is returned when a tool name carries no
	// namespace separator.
	ErrMalformedQualifiedName = errors.New("mcpgateway: malformed qualified tool name")
	// ErrUnknownBackend is returned when the owner encoded in a tool name is not
	// a Connected backend.
	ErrUnknownBackend = errors.New("mcpgateway: unknown backend")
)
