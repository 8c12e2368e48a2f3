// Package registry holds the persisted list of backend MCP server definitions
// the gateway may launch. It is read-only from the gateway's point of view;
// the CLI uses Store to add, remove, enable, and disable entries.
//
// Definitions live in a single JSON or YAML file (chosen by extension),
// defaulting to ~/.mcp-gateway/config.json and overridable through the
// MCP_GATEWAY_CONFIG environment variable.
package registry
