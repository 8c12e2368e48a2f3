package mcpmgr

import (
	"context"
	"errors"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/vikashloomba/mcp-gateway-go/pkg/registry"
)

// State is the lifecycle position of a Backend.
type State string

const (
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateFailed     State = "failed"
	StateClosed     State = "closed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == StateFailed || s == StateClosed }

// Backend is the handle for one backend server. It exclusively owns its
// Channel. Transitions:
//
//	Connecting -> Connected -> Closed
//	Connecting -> Failed
//	Connected  -> Failed (channel ended without Close)
//	Connecting -> Closed (Close during connect; the late channel is closed)
type Backend struct {
	def registry.BackendDefinition

	mu      sync.Mutex
	state   State
	channel Channel
	lastErr error

	// onLost runs once, outside the lock, when a Connected handle fails.
	onLost func(*Backend, error)
}

func newBackend(def registry.BackendDefinition, onLost func(*Backend, error)) *Backend {
	return &Backend{def: def, state: StateConnecting, onLost: onLost}
}

func (b *Backend) ID() string { return b.def.ID }

// Definition returns the registry entry the handle was created from.
func (b *Backend) Definition() registry.BackendDefinition { return b.def }

func (b *Backend) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// LastError returns the most recent connect, listing, or channel error.
func (b *Backend) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// attach completes a connect attempt. A nil err with a nil channel is treated
// as a failure.
func (b *Backend) attach(ch Channel, err error) {
	if err == nil && ch == nil {
		err = errors.New("transport returned no channel")
	}
	b.mu.Lock()
	if b.state != StateConnecting {
		b.mu.Unlock()
		if ch != nil {
			_ = ch.Close()
		}
		return
	}
	if err != nil {
		b.state = StateFailed
		b.lastErr = &BackendConnectError{ID: b.def.ID, Err: err}
		b.mu.Unlock()
		return
	}
	b.state = StateConnected
	b.channel = ch
	b.mu.Unlock()
	go b.monitor(ch)
}

// fail marks a Connecting handle Failed without opening a channel.
func (b *Backend) fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateConnecting {
		return
	}
	b.state = StateFailed
	b.lastErr = err
}

func (b *Backend) monitor(ch Channel) {
	err := ch.Wait()
	b.mu.Lock()
	if b.state != StateConnected || b.channel != ch {
		b.mu.Unlock()
		return
	}
	if err == nil {
		err = ErrChannelClosed
	}
	b.state = StateFailed
	b.lastErr = err
	b.channel = nil
	b.mu.Unlock()
	_ = ch.Close()
	if b.onLost != nil {
		b.onLost(b, err)
	}
}

// Close releases the channel. It is a no-op on Failed and Closed handles and
// safe to call more than once.
func (b *Backend) Close() error {
	b.mu.Lock()
	switch b.state {
	case StateClosed, StateFailed:
		b.mu.Unlock()
		return nil
	case StateConnecting:
		b.state = StateClosed
		b.mu.Unlock()
		return nil
	}
	ch := b.channel
	b.state = StateClosed
	b.channel = nil
	b.mu.Unlock()
	if ch == nil {
		return nil
	}
	return ch.Close()
}

// ListTools returns the backend's tools. When the channel errors the error is
// recorded and returned alongside an empty, non-nil list, so callers that only
// aggregate may ignore it.
func (b *Backend) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	ch, err := b.live()
	if err != nil {
		return nil, err
	}
	tools, err := ch.ListTools(ctx)
	if err != nil {
		b.record(err)
		return []*mcp.Tool{}, err
	}
	if tools == nil {
		tools = []*mcp.Tool{}
	}
	return tools, nil
}

// CallTool forwards a call unchanged. Results flagged IsError are returned as
// results; JSON-RPC failures become *BackendProtocolError.
func (b *Backend) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	ch, err := b.live()
	if err != nil {
		return nil, err
	}
	res, err := ch.CallTool(ctx, params)
	if err != nil {
		var wire *jsonrpc.Error
		if errors.As(err, &wire) {
			return nil, &BackendProtocolError{ID: b.def.ID, Code: wire.Code, Message: wire.Message, Err: err}
		}
		b.record(err)
		return nil, err
	}
	return res, nil
}

func (b *Backend) live() (Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateConnected || b.channel == nil {
		return nil, ErrBackendUnavailable
	}
	return b.channel, nil
}

func (b *Backend) record(err error) {
	b.mu.Lock()
	b.lastErr = err
	b.mu.Unlock()
}

// BackendSummary is a point-in-time view of a handle for diagnostics.
type BackendSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Group     string `json:"group"`
	State     State  `json:"state"`
	LastError string `json:"lastError,omitempty"`
}

func (b *Backend) summary() BackendSummary {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := BackendSummary{
		ID:    b.def.ID,
		Name:  b.def.Name,
		Group: b.def.GroupName(),
		State: b.state,
	}
	if b.lastErr != nil {
		s.LastError = b.lastErr.Error()
	}
	return s
}
