package mcpgateway

import (
	"fmt"
	"strings"
)

// NamespaceStrategy maps backend tool names to the names exposed downstream
// and back. Implementations must be deterministic and Unqualify must invert
// Qualify for every valid backend id.
type NamespaceStrategy interface {
	Qualify(backendID, toolName string) string
	Unqualify(qualified string) (backendID, toolName string, err error)
}

// ServerPrefixNamespace prefixes every tool name with the originating backend
// id. The separator defaults to "_"; backend ids must not contain it, while
// tool names may.
type ServerPrefixNamespace struct {
	Separator string
}

func (s ServerPrefixNamespace) separator() string {
	if s.Separator == "" {
		return "_"
	}
	return s.Separator
}

func (s ServerPrefixNamespace) Qualify(backendID, toolName string) string {
	return backendID + s.separator() + toolName
}

// Unqualify splits at the first separator.
func (s ServerPrefixNamespace) Unqualify(qualified string) (string, string, error) {
	owner, name, ok := strings.Cut(qualified, s.separator())
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedQualifiedName, qualified)
	}
	return owner, name, nil
}
