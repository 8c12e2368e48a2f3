package mcpgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/vikashloomba/mcp-gateway-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-gateway-go/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Router forwards calls addressed by qualified name to the owning backend.
type Router struct {
	backends BackendSet
	ns       NamespaceStrategy
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
}

func NewRouter(backends BackendSet, opts *Options) *Router {
	options := opts.withDefaults()
	return &Router{
		backends: backends,
		ns:       options.Namespace,
		logger:   options.Logger,
		metrics:  options.Metrics,
		tracer:   options.Tracer,
	}
}

// Route decodes name, forwards the call with args and meta untouched, and
// returns the backend's result or error as is. It fails with
// ErrMalformedQualifiedName or ErrUnknownBackend before anything is sent.
func (r *Router) Route(ctx context.Context, name string, args json.RawMessage, meta mcp.Meta) (*mcp.CallToolResult, error) {
	ctx, span := r.tracer.Start(ctx, "mcpgateway.route", trace.WithAttributes(attribute.String("mcp.tool.name", name)))
	defer span.End()

	owner, original, err := r.ns.Unqualify(name)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("mcpgateway.server_id", owner))

	backend, ok := r.backends.Backend(owner)
	if !ok || backend.State() != mcpmgr.StateConnected {
		err := fmt.Errorf("%w: %q", ErrUnknownBackend, owner)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	params := &mcp.CallToolParams{Name: original, Meta: meta}
	if len(args) > 0 {
		params.Arguments = args
	}
	start := time.Now()
	res, err := backend.CallTool(ctx, params)
	r.metrics.ObserveCall(owner, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Debug("routed call failed", "server", owner, "tool", original, "error", err)
		return nil, err
	}
	if res != nil && res.IsError {
		span.SetAttributes(attribute.Bool("mcp.tool.is_error", true))
	}
	return res, nil
}
