// Package mcpmgr owns the lifecycle of every backend MCP server the gateway
// fronts. It spawns backends over private stdio channels, tracks each one
// through a small state machine, and reports population changes to an
// injected ChangeSink.
//
// # Core entry points
//
//   - Manager connects a selection of registry definitions concurrently with
//     ConnectAll and tears everything down with Shutdown. Failed backends are
//     recorded, never fatal.
//   - Backend is the per-server handle. Only Connected handles accept
//     ListTools and CallTool; everything else answers ErrBackendUnavailable.
//   - Transport abstracts how a Channel is opened. ClientTransport speaks MCP
//     through the go-sdk client; NewCommandTransport launches subprocesses.
//   - Notifier delivers ChangeEvent values fire-and-forget. Delivery failures
//     are logged and counted.
package mcpmgr
