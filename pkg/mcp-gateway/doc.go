// Package mcpgateway presents every backend managed by mcpmgr as a single
// tool-bearing MCP server. Tool names are qualified with the owning backend's
// id, listings fan out to every live backend, and calls are routed back by
// decoding the qualified name. The server runs over stdio or Streamable HTTP.
package mcpgateway
