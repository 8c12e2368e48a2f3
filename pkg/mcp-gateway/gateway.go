package mcpgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"
	"github.com/vikashloomba/mcp-gateway-go/pkg/mcpmgr"
)

// Gateway exposes one MCP server whose tools are the union of every Connected
// backend's tools, qualified by backend id.
type Gateway struct {
	manager *mcpmgr.Manager
	opts    Options

	aggregator *Aggregator
	router     *Router
	progress   *progressTracker

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler
	mux           *http.ServeMux
	httpHandler   http.Handler

	// serverMu serializes catalog mirroring into the server's tool registry.
	serverMu sync.Mutex
	mirrored map[string]struct{}

	httpServerMu sync.Mutex
	httpServer   *http.Server
}

// NewGateway builds a Gateway, installs itself as the manager's change sink
// and progress handler, and mirrors whatever is already connected.
func NewGateway(mgr *mcpmgr.Manager, opts *Options) (*Gateway, error) {
	if mgr == nil {
		return nil, fmt.Errorf("mcpgateway: manager is required")
	}
	options := opts.withDefaults()
	if options.TokenOptions != nil && options.TokenVerifier == nil {
		return nil, fmt.Errorf("mcpgateway: TokenOptions require a TokenVerifier")
	}
	g := &Gateway{
		manager:    mgr,
		opts:       options,
		aggregator: NewAggregator(mgr, &options),
		router:     NewRouter(mgr, &options),
		progress:   newProgressTracker(options.Logger),
		mirrored:   make(map[string]struct{}),
	}

	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{HasTools: true})
	g.server.AddReceivingMiddleware(g.toolsMiddleware)
	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)
	g.httpHandler = g.mountHandler()

	mgr.SetChangeSink(g)
	mgr.SetProgressHandler(g.forwardProgress)
	g.Sync(context.Background())
	return g, nil
}

// Server returns the underlying MCP server.
func (g *Gateway) Server() *mcp.Server { return g.server }

// Catalog returns the most recently published catalog.
func (g *Gateway) Catalog() *Catalog { return g.aggregator.Current() }

// Router returns the gateway's request router.
func (g *Gateway) Router() *Router { return g.router }

// Handler exposes the HTTP handler that serves the Streamable endpoint.
func (g *Gateway) Handler() http.Handler {
	return g.httpHandler
}

// ServeMux exposes the mux behind Handler so callers can add routes.
func (g *Gateway) ServeMux() *http.ServeMux {
	return g.mux
}

// Options returns a copy of the resolved options.
func (g *Gateway) Options() Options {
	return g.opts
}

// ServeStdio serves a single front-end over the process's stdin and stdout
// until ctx is cancelled or the peer disconnects.
func (g *Gateway) ServeStdio(ctx context.Context) error {
	return g.Serve(ctx, &mcp.StdioTransport{})
}

// Serve runs the server over t until the session ends.
func (g *Gateway) Serve(ctx context.Context, t mcp.Transport) error {
	return g.server.Run(ctx, t)
}

// ListenAndServe runs an HTTP server until the provided context is cancelled or
// the server stops.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.httpServerMu.Lock()
	if g.httpServer != nil {
		serv := g.httpServer
		g.httpServerMu.Unlock()
		return fmt.Errorf("mcpgateway: server already running on %s", serv.Addr)
	}
	srv := &http.Server{Addr: g.opts.Addr, Handler: g.Handler()}
	g.httpServer = srv
	g.httpServerMu.Unlock()
	defer func() {
		g.httpServerMu.Lock()
		if g.httpServer == srv {
			g.httpServer = nil
		}
		g.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.opts.SyncTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Shutdown(ctx)
}

// Notify implements mcpmgr.ChangeSink. Every population change rebuilds the
// catalog and mirrors it into the server, which announces
// notifications/tools/list_changed to connected front-ends.
func (g *Gateway) Notify(ctx context.Context, event mcpmgr.ChangeEvent) error {
	g.opts.Logger.Info("backend population changed",
		"event", event.ID, "kind", string(event.Kind), "server", event.BackendID, "live", event.Live)
	g.Sync(ctx)
	return ctx.Err()
}

// Sync rebuilds the catalog and mirrors it into the server's tool registry.
func (g *Gateway) Sync(ctx context.Context) *Catalog {
	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	g.aggregator.Rebuild(ctx)
	// A concurrent tools/list rebuild may have published something newer.
	catalog := g.aggregator.Current()
	g.mirrorLocked(catalog)
	return catalog
}

func (g *Gateway) mirrorLocked(catalog *Catalog) {
	next := make(map[string]struct{}, catalog.Len())
	for _, entry := range catalog.Tools() {
		tool, ok := mirrorable(entry.Tool)
		if !ok {
			g.opts.Logger.Warn("tool schema is not an object, not announced", "server", entry.OwnerID, "tool", entry.OriginalName)
			continue
		}
		next[entry.QualifiedName] = struct{}{}
		g.server.AddTool(tool, g.callTool)
	}
	var stale []string
	for name := range g.mirrored {
		if _, ok := next[name]; !ok {
			stale = append(stale, name)
		}
	}
	if len(stale) > 0 {
		g.server.RemoveTools(stale...)
	}
	g.mirrored = next
}

func (g *Gateway) toolsMiddleware(next mcp.MethodHandler) mcp.MethodHandler {
	return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
		switch method {
		case "tools/list":
			return &mcp.ListToolsResult{Tools: g.aggregator.Rebuild(ctx).MCPTools()}, nil
		case "tools/call":
			if call, ok := req.(*mcp.CallToolRequest); ok {
				res, err := g.callTool(ctx, call)
				if err != nil {
					return nil, err
				}
				return res, nil
			}
		}
		return next(ctx, method, req)
	}
}

func (g *Gateway) callTool(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if req == nil || req.Params == nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: "missing tool call params"}
	}
	params := req.Params
	meta := params.Meta
	if token := meta[progressTokenKey]; token != nil && req.Session != nil {
		if owner, _, err := g.opts.Namespace.Unqualify(params.Name); err == nil {
			wire, release := g.progress.bind(owner, token, req.Session)
			defer release()
			meta = withProgressToken(meta, wire)
		}
	}
	res, err := g.router.Route(ctx, params.Name, params.Arguments, meta)
	if err != nil {
		return nil, wireError(err)
	}
	return res, nil
}

func (g *Gateway) forwardProgress(ctx context.Context, backendID string, params *mcp.ProgressNotificationParams) {
	if params == nil {
		return
	}
	sink, token, ok := g.progress.lookup(backendID, params.ProgressToken)
	if !ok {
		g.opts.Logger.Debug("progress without a waiting caller", "server", backendID, "token", params.ProgressToken)
		return
	}
	out := *params
	out.ProgressToken = token
	if err := sink.NotifyProgress(ctx, &out); err != nil {
		g.logError("forward progress", err, "server", backendID)
	}
}

// wireError turns routing failures into JSON-RPC errors. Backend errors keep
// their code and message.
func wireError(err error) error {
	var protoErr *mcpmgr.BackendProtocolError
	switch {
	case errors.As(err, &protoErr):
		return &jsonrpc.Error{Code: protoErr.Code, Message: protoErr.Message}
	case errors.Is(err, ErrMalformedQualifiedName), errors.Is(err, ErrUnknownBackend):
		return &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
	}
	return err
}

// mirrorable returns a copy of tool whose schemas the server registry accepts.
func mirrorable(tool *mcp.Tool) (*mcp.Tool, bool) {
	clone := *tool
	if tool.InputSchema == nil {
		clone.InputSchema = map[string]any{"type": "object"}
	} else {
		schema, ok := objectSchema(tool.InputSchema)
		if !ok {
			return nil, false
		}
		clone.InputSchema = schema
	}
	if tool.OutputSchema != nil {
		if schema, ok := objectSchema(tool.OutputSchema); ok {
			clone.OutputSchema = schema
		} else {
			clone.OutputSchema = nil
		}
	}
	return &clone, true
}

func objectSchema(schema any) (map[string]any, bool) {
	m, ok := schema.(map[string]any)
	if !ok {
		data, err := json.Marshal(schema)
		if err != nil {
			return nil, false
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, false
		}
	}
	if m["type"] != "object" {
		return nil, false
	}
	return m, true
}

func (g *Gateway) mountHandler() http.Handler {
	path := g.opts.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	var stream http.Handler = g.streamHandler
	if g.opts.TokenVerifier != nil {
		stream = auth.RequireBearerToken(g.opts.TokenVerifier, g.opts.TokenOptions)(stream)
	}

	mux := http.NewServeMux()
	mux.Handle(path, stream)
	if !strings.HasSuffix(path, "/") {
		mux.Handle(path+"/", stream)
	}
	mux.HandleFunc("/healthz", g.handleHealth)
	if g.opts.Metrics != nil {
		mux.Handle("/metrics", g.opts.Metrics.Handler())
	}
	if g.opts.TokenOptions != nil && g.opts.TokenOptions.ResourceMetadataURL != "" && g.opts.AuthorizationServer != "" {
		mux.HandleFunc("/.well-known/oauth-protected-resource", g.handleResourceMetadata)
	}
	g.mux = mux

	if len(g.opts.CORSOrigins) == 0 {
		return mux
	}
	return cors.New(cors.Options{
		AllowedOrigins:   g.opts.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept", "Mcp-Session-Id", "Mcp-Protocol-Version", "Last-Event-ID"},
		ExposedHeaders:   []string{"Mcp-Session-Id", "WWW-Authenticate"},
		AllowCredentials: true,
	}).Handler(mux)
}

type healthReport struct {
	Status   string                  `json:"status"`
	Live     int                     `json:"live"`
	Tools    int                     `json:"tools"`
	Backends []mcpmgr.BackendSummary `json:"backends"`
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	summaries := g.manager.Summaries()
	report := healthReport{Status: "ok", Tools: g.Catalog().Len(), Backends: summaries}
	for _, s := range summaries {
		if s.State == mcpmgr.StateConnected {
			report.Live++
		}
	}
	if len(summaries) > 0 && report.Live == 0 {
		report.Status = "degraded"
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		g.logError("write health report", err)
	}
}

type resourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
}

func (g *Gateway) handleResourceMetadata(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	meta := resourceMetadata{
		Resource:               scheme + "://" + r.Host + g.opts.Path,
		AuthorizationServers:   []string{g.opts.AuthorizationServer},
		BearerMethodsSupported: []string{"header"},
		ScopesSupported:        g.opts.TokenOptions.Scopes,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(meta); err != nil {
		g.logError("write resource metadata", err)
	}
}

func (g *Gateway) logError(msg string, err error, args ...any) {
	if err == nil {
		return
	}
	attrs := append([]any{"error", err}, args...)
	g.opts.Logger.Error(msg, attrs...)
}
