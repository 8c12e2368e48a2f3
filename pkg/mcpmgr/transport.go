package mcpmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/vikashloomba/mcp-gateway-go/pkg/registry"
)

// Channel is an open, exclusively owned connection to one backend.
type Channel interface {
	// ListTools returns the backend's complete tool list, following pagination.
	ListTools(ctx context.Context) ([]*mcp.Tool, error)
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
	Close() error
	// Wait blocks until the channel ends, for whatever reason.
	Wait() error
}

// ChannelHooks receive notifications a backend sends on its own initiative.
// Either field may be nil.
type ChannelHooks struct {
	OnToolListChanged func(ctx context.Context)
	OnProgress        func(ctx context.Context, params *mcp.ProgressNotificationParams)
}

// Transport opens a Channel for a definition.
type Transport interface {
	Connect(ctx context.Context, def registry.BackendDefinition, hooks ChannelHooks) (Channel, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, def registry.BackendDefinition, hooks ChannelHooks) (Channel, error)

func (f TransportFunc) Connect(ctx context.Context, def registry.BackendDefinition, hooks ChannelHooks) (Channel, error) {
	return f(ctx, def, hooks)
}

// ClientTransport connects backends through the go-sdk MCP client. Dial builds
// the underlying mcp.Transport for each definition.
type ClientTransport struct {
	Dial func(def registry.BackendDefinition) (mcp.Transport, error)
	// Implementation is advertised to backends during initialization.
	Implementation *mcp.Implementation
	// RPCLogger, when set, observes every JSON-RPC message on every channel.
	RPCLogger RPCLogger
}

// NewCommandTransport returns a ClientTransport that launches each backend as
// a subprocess speaking MCP over stdio. The child's stderr goes to stderr, or
// os.Stderr when nil.
func NewCommandTransport(stderr io.Writer) *ClientTransport {
	if stderr == nil {
		stderr = os.Stderr
	}
	return &ClientTransport{
		Dial: func(def registry.BackendDefinition) (mcp.Transport, error) {
			cmd, err := BuildCommand(def)
			if err != nil {
				return nil, err
			}
			cmd.Stderr = stderr
			return &mcp.CommandTransport{Command: cmd}, nil
		},
	}
}

// BuildCommand prepares the subprocess for def with its environment overrides
// merged over the current process environment.
func BuildCommand(def registry.BackendDefinition) (*exec.Cmd, error) {
	if def.Command == "" {
		return nil, fmt.Errorf("mcpmgr: command missing for %q", def.ID)
	}
	cmd := exec.Command(def.Command, def.Args...)
	if len(def.Env) > 0 {
		cmd.Env = def.Environ(os.Environ())
	}
	return cmd, nil
}

func (t *ClientTransport) Connect(ctx context.Context, def registry.BackendDefinition, hooks ChannelHooks) (Channel, error) {
	if t.Dial == nil {
		return nil, fmt.Errorf("mcpmgr: transport has no dialer")
	}
	transport, err := t.Dial(def)
	if err != nil {
		return nil, err
	}
	if t.RPCLogger != nil {
		transport = &loggingTransport{serverID: def.ID, delegate: transport, logger: t.RPCLogger}
	}

	impl := t.Implementation
	if impl == nil {
		impl = &mcp.Implementation{Name: "mcp-gateway", Version: "1.0.0"}
	}
	opts := &mcp.ClientOptions{}
	if hooks.OnToolListChanged != nil {
		opts.ToolListChangedHandler = func(ctx context.Context, _ *mcp.ToolListChangedRequest) {
			hooks.OnToolListChanged(ctx)
		}
	}
	if hooks.OnProgress != nil {
		opts.ProgressNotificationHandler = func(ctx context.Context, req *mcp.ProgressNotificationClientRequest) {
			if req == nil || req.Params == nil {
				return
			}
			hooks.OnProgress(ctx, req.Params)
		}
	}

	session, err := mcp.NewClient(impl, opts).Connect(ctx, transport, nil)
	if err != nil {
		return nil, err
	}
	return &sessionChannel{session: session}, nil
}

type sessionChannel struct {
	session *mcp.ClientSession
}

func (c *sessionChannel) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	var tools []*mcp.Tool
	params := &mcp.ListToolsParams{}
	for {
		res, err := c.session.ListTools(ctx, params)
		if err != nil {
			return nil, err
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" || res.NextCursor == params.Cursor {
			return tools, nil
		}
		params = &mcp.ListToolsParams{Cursor: res.NextCursor}
	}
}

func (c *sessionChannel) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	return c.session.CallTool(ctx, params)
}

func (c *sessionChannel) Close() error { return c.session.Close() }

func (c *sessionChannel) Wait() error { return c.session.Wait() }

type loggingTransport struct {
	serverID string
	delegate mcp.Transport
	logger   RPCLogger
}

func (t *loggingTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.delegate.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &loggingConnection{serverID: t.serverID, delegate: conn, logger: t.logger}, nil
}

type loggingConnection struct {
	serverID string
	delegate mcp.Connection
	logger   RPCLogger
	mu       sync.Mutex
}

func (c *loggingConnection) SessionID() string { return c.delegate.SessionID() }

func (c *loggingConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	msg, err := c.delegate.Read(ctx)
	if err == nil {
		c.emit(RPCDirectionReceive, msg)
	}
	return msg, err
}

func (c *loggingConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := c.delegate.Write(ctx, msg); err != nil {
		return err
	}
	c.emit(RPCDirectionSend, msg)
	return nil
}

func (c *loggingConnection) Close() error { return c.delegate.Close() }

func (c *loggingConnection) emit(direction RPCDirection, msg jsonrpc.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	encoded, err := json.Marshal(msg)
	if err != nil {
		encoded = []byte(err.Error())
	}
	c.logger(RPCLogEvent{Direction: direction, Message: encoded, ServerID: c.serverID})
}
