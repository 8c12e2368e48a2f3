package mcpmgr

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vikashloomba/mcp-gateway-go/pkg/telemetry"
)

// ChangeKind names why the live population changed.
type ChangeKind string

const (
	// ChangePopulated follows a ConnectAll once every attempt has settled.
	ChangePopulated ChangeKind = "populated"
	// ChangeBackendLost follows a Connected backend becoming unreachable.
	ChangeBackendLost ChangeKind = "backend_lost"
	// ChangeToolsChanged relays a backend's own tools/list_changed.
	ChangeToolsChanged ChangeKind = "tools_changed"
)

// ChangeEvent describes one population change.
type ChangeEvent struct {
	ID        uuid.UUID
	Kind      ChangeKind
	BackendID string
	// Live holds the ids of Connected backends in registration order.
	Live []string
	At   time.Time
}

// ChangeSink receives change events. Returned errors are logged only.
type ChangeSink interface {
	Notify(ctx context.Context, event ChangeEvent) error
}

// ChangeSinkFunc adapts a function to ChangeSink.
type ChangeSinkFunc func(ctx context.Context, event ChangeEvent) error

func (f ChangeSinkFunc) Notify(ctx context.Context, event ChangeEvent) error { return f(ctx, event) }

// Notifier delivers events to a sink on background goroutines.
type Notifier struct {
	logger  *slog.Logger
	metrics *telemetry.Metrics

	mu     sync.Mutex
	sink   ChangeSink
	closed bool
	wg     sync.WaitGroup
}

func NewNotifier(sink ChangeSink, logger *slog.Logger, metrics *telemetry.Metrics) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{sink: sink, logger: logger, metrics: metrics}
}

// SetSink replaces the sink used for subsequent events.
func (n *Notifier) SetSink(sink ChangeSink) {
	n.mu.Lock()
	n.sink = sink
	n.mu.Unlock()
}

// Emit schedules delivery and returns immediately. Events emitted after Close
// or without a sink are dropped.
func (n *Notifier) Emit(kind ChangeKind, backendID string, live []string) {
	event := ChangeEvent{
		ID:        uuid.New(),
		Kind:      kind,
		BackendID: backendID,
		Live:      slices.Clone(live),
		At:        time.Now(),
	}
	n.mu.Lock()
	sink := n.sink
	if n.closed || sink == nil {
		n.mu.Unlock()
		n.logger.Debug("change event dropped", "event", event.ID, "kind", string(kind), "server", backendID)
		return
	}
	n.wg.Add(1)
	n.mu.Unlock()

	go func() {
		defer n.wg.Done()
		err := sink.Notify(context.Background(), event)
		n.metrics.ObserveNotification(err)
		if err != nil {
			n.logger.Warn("change notification failed", "error", err, "event", event.ID, "kind", string(kind), "server", backendID)
			return
		}
		n.logger.Debug("change notification delivered", "event", event.ID, "kind", string(kind), "live", len(event.Live))
	}()
}

// Flush waits for in-flight deliveries.
func (n *Notifier) Flush() { n.wg.Wait() }

// Close stops accepting events and waits for in-flight deliveries.
func (n *Notifier) Close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.wg.Wait()
}
