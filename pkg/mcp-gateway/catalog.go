package mcpgateway

import (
	"context"
	"log/slog"
	"maps"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/vikashloomba/mcp-gateway-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-gateway-go/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	metaKeyServerID   = "mcpgateway.server_id"
	metaKeyNativeName = "mcpgateway.native_name"
)

// BackendSet is the view of the connection manager used for aggregation and
// routing. *mcpmgr.Manager implements it.
type BackendSet interface {
	Connected() []*mcpmgr.Backend
	Backend(id string) (*mcpmgr.Backend, bool)
}

// QualifiedTool is one catalog entry. Tool is the backend's definition with
// only its Name replaced and the origin keys added to its _meta.
type QualifiedTool struct {
	QualifiedName string
	OwnerID       string
	OriginalName  string
	Tool          *mcp.Tool
}

// Catalog is an immutable snapshot of the aggregated tools, ordered by backend
// registration order and then by each backend's own order.
type Catalog struct {
	tools   []QualifiedTool
	byName  map[string]int
	gen     uint64
	BuiltAt time.Time
}

func newCatalog(gen uint64, slots [][]QualifiedTool) *Catalog {
	c := &Catalog{byName: make(map[string]int), gen: gen, BuiltAt: time.Now()}
	for _, slot := range slots {
		for _, entry := range slot {
			if _, dup := c.byName[entry.QualifiedName]; !dup {
				c.byName[entry.QualifiedName] = len(c.tools)
			}
			c.tools = append(c.tools, entry)
		}
	}
	return c
}

// Generation orders catalogs by the start of the rebuild that produced them.
func (c *Catalog) Generation() uint64 {
	if c == nil {
		return 0
	}
	return c.gen
}

// Len reports the number of entries.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.tools)
}

// Tools returns a copy of the entries.
func (c *Catalog) Tools() []QualifiedTool {
	if c == nil {
		return nil
	}
	return append([]QualifiedTool(nil), c.tools...)
}

// Lookup finds an entry by qualified name.
func (c *Catalog) Lookup(name string) (QualifiedTool, bool) {
	if c == nil {
		return QualifiedTool{}, false
	}
	i, ok := c.byName[name]
	if !ok {
		return QualifiedTool{}, false
	}
	return c.tools[i], true
}

// MCPTools returns the renamed tool definitions in catalog order.
func (c *Catalog) MCPTools() []*mcp.Tool {
	out := make([]*mcp.Tool, 0, c.Len())
	if c == nil {
		return out
	}
	for _, entry := range c.tools {
		out = append(out, entry.Tool)
	}
	return out
}

// Aggregator builds catalogs by listing every Connected backend in parallel.
type Aggregator struct {
	backends BackendSet
	ns       NamespaceStrategy
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
	timeout  time.Duration

	current atomic.Pointer[Catalog]
	gen     atomic.Uint64
}

func NewAggregator(backends BackendSet, opts *Options) *Aggregator {
	options := opts.withDefaults()
	a := &Aggregator{
		backends: backends,
		ns:       options.Namespace,
		logger:   options.Logger,
		metrics:  options.Metrics,
		tracer:   options.Tracer,
		timeout:  options.SyncTimeout,
	}
	a.current.Store(newCatalog(0, nil))
	return a
}

// Current returns the last published catalog. It is never nil.
func (a *Aggregator) Current() *Catalog {
	return a.current.Load()
}

// Rebuild lists every Connected backend, publishes the merged catalog, and
// returns it. A backend that fails to list contributes nothing; it never
// affects the others. A rebuild that finishes after a newer one started and
// published returns its catalog without publishing it.
func (a *Aggregator) Rebuild(ctx context.Context) *Catalog {
	ctx, span := a.tracer.Start(ctx, "mcpgateway.catalog.rebuild")
	defer span.End()

	gen := a.gen.Add(1)
	backends := a.backends.Connected()
	slots := make([][]QualifiedTool, len(backends))
	var g errgroup.Group
	for i, b := range backends {
		g.Go(func() error {
			listCtx, cancel := a.listContext(ctx)
			defer cancel()
			tools, err := b.ListTools(listCtx)
			a.metrics.ObserveListing(b.ID(), err)
			if err != nil {
				a.logger.Warn("list tools failed", "error", err, "server", b.ID())
				return nil
			}
			entries := make([]QualifiedTool, 0, len(tools))
			for _, tool := range tools {
				if tool == nil {
					continue
				}
				entries = append(entries, a.qualify(b.ID(), tool))
			}
			slots[i] = entries
			return nil
		})
	}
	_ = g.Wait()

	catalog := newCatalog(gen, slots)
	if !a.publish(catalog) {
		a.logger.Debug("catalog superseded", "generation", gen)
		return catalog
	}
	a.metrics.ObserveCatalog(catalog.Len())
	span.SetAttributes(
		attribute.Int("mcpgateway.backends", len(backends)),
		attribute.Int("mcpgateway.tools", catalog.Len()),
	)
	a.logger.Debug("catalog rebuilt", "backends", len(backends), "tools", catalog.Len())
	return catalog
}

func (a *Aggregator) publish(catalog *Catalog) bool {
	for {
		cur := a.current.Load()
		if cur.gen >= catalog.gen {
			return false
		}
		if a.current.CompareAndSwap(cur, catalog) {
			return true
		}
	}
}

func (a *Aggregator) listContext(parent context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, a.timeout)
}

func (a *Aggregator) qualify(ownerID string, tool *mcp.Tool) QualifiedTool {
	name := a.ns.Qualify(ownerID, tool.Name)
	return QualifiedTool{
		QualifiedName: name,
		OwnerID:       ownerID,
		OriginalName:  tool.Name,
		Tool:          cloneTool(tool, name, ownerID),
	}
}

func cloneTool(tool *mcp.Tool, gatewayName, serverID string) *mcp.Tool {
	clone := *tool
	clone.Name = gatewayName
	clone.Meta = withMeta(tool.Meta, map[string]any{
		metaKeyServerID:   serverID,
		metaKeyNativeName: tool.Name,
	})
	return &clone
}

func withMeta(base map[string]any, extras map[string]any) map[string]any {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]any)
	}
	for k, v := range extras {
		out[k] = v
	}
	return out
}
