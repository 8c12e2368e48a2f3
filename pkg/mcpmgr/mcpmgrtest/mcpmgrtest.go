// Package mcpmgrtest provides in-process fakes of mcpmgr's Channel, Transport,
// and ChangeSink for tests.
package mcpmgrtest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/vikashloomba/mcp-gateway-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-gateway-go/pkg/registry"
)

// Tool returns a minimal tool with an object input schema.
func Tool(name string) *mcp.Tool {
	return &mcp.Tool{Name: name, InputSchema: map[string]any{"type": "object"}}
}

// Def returns an enabled definition in the default group.
func Def(id string) registry.BackendDefinition {
	return registry.BackendDefinition{ID: id, Command: "fake-" + id, Enabled: true}
}

// Channel is a scripted mcpmgr.Channel.
type Channel struct {
	Tools     []*mcp.Tool
	ListErr   error
	ListDelay time.Duration
	// ListFunc, when set, answers ListTools instead of Tools and ListErr.
	ListFunc func(ctx context.Context) ([]*mcp.Tool, error)
	// CloseErr is returned by every Close.
	CloseErr error
	// CallFunc answers CallTool. When nil, the call echoes its tool name.
	CallFunc func(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)

	mu     sync.Mutex
	calls  []*mcp.CallToolParams
	once   sync.Once
	done   chan struct{}
	closes atomic.Int32
}

func NewChannel(tools ...*mcp.Tool) *Channel {
	return &Channel{Tools: tools, done: make(chan struct{})}
}

func (c *Channel) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	if c.ListFunc != nil {
		return c.ListFunc(ctx)
	}
	if c.ListDelay > 0 {
		select {
		case <-time.After(c.ListDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.ListErr != nil {
		return nil, c.ListErr
	}
	return append([]*mcp.Tool(nil), c.Tools...), nil
}

func (c *Channel) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	c.mu.Lock()
	c.calls = append(c.calls, params)
	c.mu.Unlock()
	if c.CallFunc != nil {
		return c.CallFunc(ctx, params)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: params.Name}},
	}, nil
}

// Calls returns the params of every CallTool seen so far.
func (c *Channel) Calls() []*mcp.CallToolParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*mcp.CallToolParams(nil), c.calls...)
}

func (c *Channel) Close() error {
	c.closes.Add(1)
	c.once.Do(func() { close(c.done) })
	return c.CloseErr
}

// Closes reports how many times Close was called.
func (c *Channel) Closes() int { return int(c.closes.Load()) }

// Drop ends the channel as if the backend process exited.
func (c *Channel) Drop() {
	c.once.Do(func() { close(c.done) })
}

func (c *Channel) Wait() error {
	<-c.done
	return nil
}

// Transport hands out scripted channels by backend id.
type Transport struct {
	mu       sync.Mutex
	channels map[string]*Channel
	errs     map[string]error
	delays   map[string]time.Duration
	hooks    map[string]mcpmgr.ChannelHooks
	connects []string
}

func NewTransport() *Transport {
	return &Transport{
		channels: make(map[string]*Channel),
		errs:     make(map[string]error),
		delays:   make(map[string]time.Duration),
		hooks:    make(map[string]mcpmgr.ChannelHooks),
	}
}

// Add registers the channel returned for id.
func (t *Transport) Add(id string, ch *Channel) *Transport {
	t.mu.Lock()
	t.channels[id] = ch
	t.mu.Unlock()
	return t
}

// Fail makes connecting id return err.
func (t *Transport) Fail(id string, err error) *Transport {
	t.mu.Lock()
	t.errs[id] = err
	t.mu.Unlock()
	return t
}

// Delay makes connecting id take d. Delayed connects do not block each other.
func (t *Transport) Delay(id string, d time.Duration) *Transport {
	t.mu.Lock()
	t.delays[id] = d
	t.mu.Unlock()
	return t
}

func (t *Transport) Connect(ctx context.Context, def registry.BackendDefinition, hooks mcpmgr.ChannelHooks) (mcpmgr.Channel, error) {
	t.mu.Lock()
	t.connects = append(t.connects, def.ID)
	t.hooks[def.ID] = hooks
	delay := t.delays[def.ID]
	err := t.errs[def.ID]
	ch, ok := t.channels[def.ID]
	t.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("mcpmgrtest: no channel for %q", def.ID)
	}
	return ch, nil
}

// Hooks returns the hooks passed when id was connected.
func (t *Transport) Hooks(id string) (mcpmgr.ChannelHooks, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.hooks[id]
	return h, ok
}

// Connects lists the ids passed to Connect, in call order.
func (t *Transport) Connects() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.connects...)
}

// Sink records delivered events.
type Sink struct {
	Err error

	mu     sync.Mutex
	events []mcpmgr.ChangeEvent
	notify chan struct{}
}

func NewSink() *Sink {
	return &Sink{notify: make(chan struct{}, 64)}
}

func (s *Sink) Notify(_ context.Context, event mcpmgr.ChangeEvent) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return s.Err
}

func (s *Sink) Events() []mcpmgr.ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mcpmgr.ChangeEvent(nil), s.events...)
}

// WaitFor blocks until at least n events arrived or timeout elapses.
func (s *Sink) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if len(s.Events()) >= n {
			return true
		}
		select {
		case <-s.notify:
		case <-deadline:
			return len(s.Events()) >= n
		}
	}
}
