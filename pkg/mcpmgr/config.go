package mcpmgr

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/vikashloomba/mcp-gateway-go/pkg/telemetry"
)

// RPCDirection identifies the direction of a JSON-RPC message.
type RPCDirection string

const (
	RPCDirectionSend    RPCDirection = "send"
	RPCDirectionReceive RPCDirection = "receive"
)

// RPCLogEvent encapsulates JSON-RPC traffic for custom logging.
type RPCLogEvent struct {
	Direction RPCDirection
	Message   []byte
	ServerID  string
}

// RPCLogger is invoked for each JSON-RPC message when logging is enabled.
type RPCLogger func(RPCLogEvent)

// SlogRPCLogger returns an RPCLogger that writes each message at debug level.
func SlogRPCLogger(logger *slog.Logger) RPCLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return func(event RPCLogEvent) {
		logger.Debug("jsonrpc", "server", event.ServerID, "direction", string(event.Direction), "message", string(event.Message))
	}
}

// ManagerOptions configure a Manager. The zero value is usable: backends are
// launched as subprocesses and events are dropped until a sink is set.
type ManagerOptions struct {
	// Transport opens backend channels. Defaults to NewCommandTransport(nil).
	Transport Transport
	// Sink receives change events. It may also be set later with SetChangeSink.
	Sink ChangeSink
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// Metrics records connect outcomes and the live population. Optional.
	Metrics *telemetry.Metrics
}

func (o *ManagerOptions) withDefaults() ManagerOptions {
	if o == nil {
		o = &ManagerOptions{}
	}
	opts := *o
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Transport == nil {
		opts.Transport = NewCommandTransport(nil)
	}
	return opts
}

// ProgressHandler receives progress notifications a backend emits while
// serving a call.
type ProgressHandler func(ctx context.Context, backendID string, params *mcp.ProgressNotificationParams)
