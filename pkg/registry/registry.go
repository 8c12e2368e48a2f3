package registry

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
)

const (
	// DefaultGroup is assigned to definitions that omit a group and is the
	// only group selected when nothing else is configured.
	DefaultGroup = "default"
	// IDSeparator joins a backend id and a tool name in qualified names, so it
	// may never appear inside an id.
	IDSeparator = "_"

	EnvGroups = "MCP_GATEWAY_GROUPS"
	EnvGroup  = "MCP_GATEWAY_GROUP"
	EnvConfig = "MCP_GATEWAY_CONFIG"
)

var (
	ErrEmptyID      = errors.New("registry: id is required")
	ErrInvalidID    = errors.New("registry: id contains a reserved character")
	ErrEmptyCommand = errors.New("registry: command is required")
	ErrDuplicateID  = errors.New("registry: duplicate id")
	ErrNotFound     = errors.New("registry: server not found")
)

// BackendDefinition describes one backend MCP server launched over stdio.
type BackendDefinition struct {
	ID      string            `json:"id" yaml:"id"`
	Name    string            `json:"name,omitempty" yaml:"name,omitempty"`
	Command string            `json:"command" yaml:"command"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Group   string            `json:"group,omitempty" yaml:"group,omitempty"`
	Enabled bool              `json:"enabled" yaml:"enabled"`
}

// GroupName returns the definition's group, falling back to DefaultGroup.
func (d BackendDefinition) GroupName() string {
	if strings.TrimSpace(d.Group) == "" {
		return DefaultGroup
	}
	return d.Group
}

// DisplayName returns Name when set and the id otherwise.
func (d BackendDefinition) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// Validate checks the invariants the gateway relies on. The id becomes the
// namespace prefix of every qualified tool name, so it must be non-empty,
// free of whitespace, and must not contain IDSeparator.
func (d BackendDefinition) Validate() error {
	if err := ValidateID(d.ID); err != nil {
		return err
	}
	if strings.TrimSpace(d.Command) == "" {
		return fmt.Errorf("%w: %q", ErrEmptyCommand, d.ID)
	}
	return nil
}

// ValidateID reports whether id is usable as a backend namespace.
func ValidateID(id string) error {
	if id == "" {
		return ErrEmptyID
	}
	if strings.Contains(id, IDSeparator) {
		return fmt.Errorf("%w: %q must not contain %q", ErrInvalidID, id, IDSeparator)
	}
	if strings.ContainsFunc(id, func(r rune) bool { return r == ' ' || r == '\t' || r == '\n' || r == '\r' }) {
		return fmt.Errorf("%w: %q must not contain whitespace", ErrInvalidID, id)
	}
	return nil
}

// Environ merges the definition's overrides over base (usually os.Environ()).
// Later entries win, which matches exec.Cmd's handling of duplicates.
func (d BackendDefinition) Environ(base []string) []string {
	if len(d.Env) == 0 {
		return base
	}
	env := slices.Clone(base)
	keys := make([]string, 0, len(d.Env))
	for k := range d.Env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		env = append(env, k+"="+d.Env[k])
	}
	return env
}

// Config is the on-disk document.
type Config struct {
	Servers []BackendDefinition `json:"servers" yaml:"servers"`
}

// Find returns the index of the definition with the given id, or -1.
func (c *Config) Find(id string) int {
	return slices.IndexFunc(c.Servers, func(d BackendDefinition) bool { return d.ID == id })
}

// Select returns the enabled definitions whose group is in groups, keeping
// file order. An empty groups slice selects DefaultGroup only.
func Select(defs []BackendDefinition, groups []string) []BackendDefinition {
	if len(groups) == 0 {
		groups = []string{DefaultGroup}
	}
	out := make([]BackendDefinition, 0, len(defs))
	for _, d := range defs {
		if !d.Enabled {
			continue
		}
		if !slices.Contains(groups, d.GroupName()) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// SelectedGroups resolves the group set from the environment. An explicit
// MCP_GATEWAY_GROUPS list wins over a single MCP_GATEWAY_GROUP, which wins
// over DefaultGroup.
func SelectedGroups(getenv func(string) string) []string {
	if getenv == nil {
		getenv = os.Getenv
	}
	if groups := ParseGroups(getenv(EnvGroups)); len(groups) > 0 {
		return groups
	}
	if group := strings.TrimSpace(getenv(EnvGroup)); group != "" {
		return []string{group}
	}
	return []string{DefaultGroup}
}

// ParseGroups splits a comma separated list, trimming blanks and dropping
// empty and repeated entries.
func ParseGroups(raw string) []string {
	var groups []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" || slices.Contains(groups, part) {
			continue
		}
		groups = append(groups, part)
	}
	return groups
}
