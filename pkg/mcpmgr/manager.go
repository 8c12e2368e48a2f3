package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/vikashloomba/mcp-gateway-go/pkg/registry"
	"github.com/vikashloomba/mcp-gateway-go/pkg/telemetry"
	"golang.org/x/sync/errgroup"
)

// Manager keeps every Backend handle that ever started connecting, in
// registration order. Only Connected handles take part in routing and
// aggregation.
type Manager struct {
	transport Transport
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	notifier  *Notifier

	mu       sync.RWMutex
	handles  map[string]*Backend
	order    []*Backend
	progress ProgressHandler

	shutdownMu sync.Mutex
	shutdown   bool
}

// NewManager constructs a Manager. No backend is contacted until ConnectAll.
func NewManager(opts *ManagerOptions) *Manager {
	options := opts.withDefaults()
	return &Manager{
		transport: options.Transport,
		logger:    options.Logger,
		metrics:   options.Metrics,
		notifier:  NewNotifier(options.Sink, options.Logger, options.Metrics),
		handles:   make(map[string]*Backend),
	}
}

// SetChangeSink routes subsequent change events to sink.
func (m *Manager) SetChangeSink(sink ChangeSink) {
	m.notifier.SetSink(sink)
}

// SetProgressHandler installs the receiver for backend progress notifications.
func (m *Manager) SetProgressHandler(h ProgressHandler) {
	m.mu.Lock()
	m.progress = h
	m.mu.Unlock()
}

// ConnectAll connects every enabled definition whose group is in groups (the
// default group when empty). Attempts run concurrently and never cancel one
// another; failures are logged and recorded on their handles. Once all
// attempts settle a single ChangePopulated event is emitted. The Connected
// handles are returned in registration order.
func (m *Manager) ConnectAll(ctx context.Context, defs []registry.BackendDefinition, groups []string) []*Backend {
	selected := registry.Select(defs, groups)

	type attempt struct {
		handle *Backend
		err    error
	}
	attempts := make([]attempt, 0, len(selected))

	m.mu.Lock()
	for _, def := range selected {
		b := newBackend(def, m.backendLost)
		var reject error
		if err := def.Validate(); err != nil {
			reject = err
		} else if _, exists := m.handles[def.ID]; exists {
			reject = fmt.Errorf("%w: %q", registry.ErrDuplicateID, def.ID)
		} else {
			m.handles[def.ID] = b
		}
		m.order = append(m.order, b)
		attempts = append(attempts, attempt{handle: b, err: reject})
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, a := range attempts {
		g.Go(func() error {
			m.connect(ctx, a.handle, a.err)
			return nil
		})
	}
	_ = g.Wait()

	connected := make([]*Backend, 0, len(attempts))
	for _, a := range attempts {
		if a.handle.State() == StateConnected {
			connected = append(connected, a.handle)
		}
	}
	m.logger.Info("backends connected", "selected", len(selected), "connected", len(connected), "groups", groups)
	live := m.LiveIDs()
	m.metrics.SetLive(len(live))
	m.notifier.Emit(ChangePopulated, "", live)
	return connected
}

func (m *Manager) connect(ctx context.Context, b *Backend, reject error) {
	id := b.ID()
	if reject != nil {
		b.fail(&BackendConnectError{ID: id, Err: reject})
		m.metrics.ObserveConnect(id, reject)
		m.logError("backend rejected", reject, "server", id)
		return
	}
	ch, err := m.transport.Connect(ctx, b.Definition(), m.hooksFor(id))
	b.attach(ch, err)
	m.metrics.ObserveConnect(id, err)
	if err != nil {
		m.logError("backend connect failed", err, "server", id, "command", b.def.Command)
		return
	}
	m.logger.Info("backend connected", "server", id, "command", b.def.Command)
}

func (m *Manager) hooksFor(id string) ChannelHooks {
	return ChannelHooks{
		OnToolListChanged: func(context.Context) {
			m.logger.Debug("backend tools changed", "server", id)
			m.notifier.Emit(ChangeToolsChanged, id, m.LiveIDs())
		},
		OnProgress: func(ctx context.Context, params *mcp.ProgressNotificationParams) {
			m.mu.RLock()
			h := m.progress
			m.mu.RUnlock()
			if h != nil {
				h(ctx, id, params)
			}
		},
	}
}

func (m *Manager) backendLost(b *Backend, err error) {
	m.logError("backend lost", err, "server", b.ID())
	live := m.LiveIDs()
	m.metrics.SetLive(len(live))
	m.notifier.Emit(ChangeBackendLost, b.ID(), live)
}

// Backend returns the handle registered under id, in any state.
func (m *Manager) Backend(id string) (*Backend, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.handles[id]
	return b, ok
}

// Backends returns every recorded handle in registration order, including
// rejected duplicates.
func (m *Manager) Backends() []*Backend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Backend(nil), m.order...)
}

// Connected returns a snapshot of the Connected handles in registration order.
func (m *Manager) Connected() []*Backend {
	all := m.Backends()
	out := make([]*Backend, 0, len(all))
	for _, b := range all {
		if b.State() == StateConnected {
			out = append(out, b)
		}
	}
	return out
}

// LiveIDs returns the ids of Connected handles in registration order.
func (m *Manager) LiveIDs() []string {
	connected := m.Connected()
	ids := make([]string, len(connected))
	for i, b := range connected {
		ids[i] = b.ID()
	}
	return ids
}

// Summaries reports every handle's state for diagnostics.
func (m *Manager) Summaries() []BackendSummary {
	all := m.Backends()
	out := make([]BackendSummary, len(all))
	for i, b := range all {
		out[i] = b.summary()
	}
	return out
}

// Shutdown closes every handle concurrently, logging each outcome, then waits
// for pending change notifications. No change event is emitted. Calling it
// again is a no-op. Close failures are joined into the returned error.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownMu.Lock()
	if m.shutdown {
		m.shutdownMu.Unlock()
		return nil
	}
	m.shutdown = true
	m.shutdownMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	handles := m.Backends()
	errs := make([]error, len(handles))
	var g errgroup.Group
	for i, b := range handles {
		g.Go(func() error {
			prev := b.State()
			err := closeWithContext(ctx, b)
			if err != nil {
				errs[i] = fmt.Errorf("mcpmgr: closing %q: %w", b.ID(), err)
				m.logError("backend close failed", err, "server", b.ID())
			} else {
				m.logger.Info("backend closed", "server", b.ID(), "previous", string(prev))
			}
			return nil
		})
	}
	_ = g.Wait()
	m.notifier.Close()
	m.metrics.SetLive(0)
	return errors.Join(errs...)
}

func closeWithContext(ctx context.Context, b *Backend) error {
	done := make(chan error, 1)
	go func() {
		done <- b.Close()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (m *Manager) logError(msg string, err error, args ...any) {
	if err == nil {
		return
	}
	attrs := append([]any{"error", err}, args...)
	m.logger.Error(msg, attrs...)
}
