package mcpgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/vikashloomba/mcp-gateway-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-gateway-go/pkg/mcpmgr/mcpmgrtest"
	"github.com/vikashloomba/mcp-gateway-go/pkg/telemetry"
)

func newTestGatewayFor(t *testing.T, m *mcpmgr.Manager, opts *Options) *Gateway {
	t.Helper()
	if opts == nil {
		opts = &Options{}
	}
	opts.Logger = quietLogger()
	g, err := NewGateway(m, opts)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	return g
}

func connectFrontEnd(t *testing.T, g *Gateway, opts *mcp.ClientOptions) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := g.Server().Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "front-end", Version: "1.0.0"}, opts)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func listedNames(t *testing.T, session *mcp.ClientSession) []string {
	t.Helper()
	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools via gateway: %v", err)
	}
	names := make([]string, len(res.Tools))
	for i, tool := range res.Tools {
		names[i] = tool.Name
	}
	return names
}

func TestGatewayListsQualifiedTools(t *testing.T) {
	slow := mcpmgrtest.NewChannel(mcpmgrtest.Tool("x"), mcpmgrtest.Tool("y"))
	slow.ListDelay = 30 * time.Millisecond
	m, _ := newTestManager(t,
		backendSpec{id: "A", channel: slow},
		backendSpec{id: "B", channel: mcpmgrtest.NewChannel(mcpmgrtest.Tool("x"))},
	)
	g := newTestGatewayFor(t, m, nil)
	session := connectFrontEnd(t, g, nil)

	if got, want := listedNames(t, session), []string{"A_x", "A_y", "B_x"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("tools = %v, want %v", got, want)
	}

	res, _ := session.ListTools(context.Background(), nil)
	if res.Tools[2].Meta[metaKeyServerID] != "B" || res.Tools[2].Meta[metaKeyNativeName] != "x" {
		t.Fatalf("origin metadata missing: %v", res.Tools[2].Meta)
	}
}

func TestGatewayRoutesCalls(t *testing.T) {
	alpha := mcpmgrtest.NewChannel(mcpmgrtest.Tool("echo"))
	m, _ := newTestManager(t, backendSpec{id: "alpha", channel: alpha})
	g := newTestGatewayFor(t, m, nil)
	session := connectFrontEnd(t, g, nil)
	ctx := context.Background()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "alpha_echo", Arguments: map[string]any{"message": "hi"}})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if text := res.Content[0].(*mcp.TextContent).Text; text != "echo" {
		t.Fatalf("unexpected content %q", text)
	}
	calls := alpha.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected one backend call, got %d", len(calls))
	}
	var args map[string]any
	if err := json.Unmarshal(calls[0].Arguments.(json.RawMessage), &args); err != nil || args["message"] != "hi" {
		t.Fatalf("arguments not forwarded: %s (%v)", calls[0].Arguments, err)
	}

	for name, want := range map[string]string{
		"ghost_tool":  "unknown backend",
		"noseparator": "malformed qualified tool name",
	} {
		_, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name})
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("CallTool(%q) err = %v, want %q", name, err, want)
		}
	}
	if len(alpha.Calls()) != 1 {
		t.Fatalf("failed routes must not reach a backend")
	}
}

func TestGatewayForwardsBackendErrorsVerbatim(t *testing.T) {
	ch := mcpmgrtest.NewChannel(mcpmgrtest.Tool("spend"))
	ch.CallFunc = func(context.Context, *mcp.CallToolParams) (*mcp.CallToolResult, error) {
		return nil, fmt.Errorf("calling %q: %w", "tools/call", &jsonrpc.Error{Code: -32001, Message: "quota exceeded for key 42"})
	}
	m, _ := newTestManager(t, backendSpec{id: "billing", channel: ch})
	session := connectFrontEnd(t, newTestGatewayFor(t, m, nil), nil)

	_, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: "billing_spend"})
	if err == nil || !strings.Contains(err.Error(), "quota exceeded for key 42") {
		t.Fatalf("err = %v, want backend message", err)
	}
	var wire *jsonrpc.Error
	if errors.As(err, &wire) && wire.Code != -32001 {
		t.Fatalf("code = %d, want -32001", wire.Code)
	}
}

func TestGatewayAnnouncesBackendLoss(t *testing.T) {
	alpha := mcpmgrtest.NewChannel(mcpmgrtest.Tool("x"))
	m, _ := newTestManager(t,
		backendSpec{id: "alpha", channel: alpha},
		backendSpec{id: "bravo", channel: mcpmgrtest.NewChannel(mcpmgrtest.Tool("y"))},
	)
	g := newTestGatewayFor(t, m, nil)

	changed := make(chan struct{}, 8)
	session := connectFrontEnd(t, g, &mcp.ClientOptions{
		ToolListChangedHandler: func(context.Context, *mcp.ToolListChangedRequest) {
			changed <- struct{}{}
		},
	})
	if got := listedNames(t, session); !reflect.DeepEqual(got, []string{"alpha_x", "bravo_y"}) {
		t.Fatalf("tools = %v", got)
	}

	alpha.Drop()
	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatalf("front-end was not told about the lost backend")
	}
	if got := listedNames(t, session); !reflect.DeepEqual(got, []string{"bravo_y"}) {
		t.Fatalf("tools after loss = %v, want [bravo_y]", got)
	}
	if got := toolNames(g.Catalog().Tools()); !reflect.DeepEqual(got, []string{"bravo_y"}) {
		t.Fatalf("published catalog = %v", got)
	}
}

func TestGatewayForwardsProgress(t *testing.T) {
	ch := mcpmgrtest.NewChannel(mcpmgrtest.Tool("build"))
	m, transport := newTestManager(t, backendSpec{id: "ci", channel: ch})
	ch.CallFunc = func(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
		hooks, _ := transport.Hooks("ci")
		hooks.OnProgress(ctx, &mcp.ProgressNotificationParams{
			ProgressToken: params.Meta["progressToken"],
			Progress:      1,
			Total:         2,
			Message:       "compiling",
		})
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "done"}}}, nil
	}
	g := newTestGatewayFor(t, m, nil)

	progress := make(chan *mcp.ProgressNotificationParams, 1)
	session := connectFrontEnd(t, g, &mcp.ClientOptions{
		ProgressNotificationHandler: func(_ context.Context, req *mcp.ProgressNotificationClientRequest) {
			progress <- req.Params
		},
	})

	params := &mcp.CallToolParams{Name: "ci_build", Meta: mcp.Meta{"progressToken": "build-1"}}
	if _, err := session.CallTool(context.Background(), params); err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	select {
	case p := <-progress:
		if p.ProgressToken != "build-1" || p.Message != "compiling" {
			t.Fatalf("unexpected progress %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("progress notification not forwarded")
	}
}

func TestGatewayStreamableHTTP(t *testing.T) {
	metrics := telemetry.NewMetrics()
	m, _ := newTestManager(t, backendSpec{id: "alpha", channel: mcpmgrtest.NewChannel(mcpmgrtest.Tool("x"))})
	g := newTestGatewayFor(t, m, &Options{Path: "/mcp", Metrics: metrics})

	server := httptest.NewServer(g.Handler())
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client := mcp.NewClient(&mcp.Implementation{Name: "http-front-end", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: server.URL + "/mcp", HTTPClient: server.Client()}, nil)
	if err != nil {
		t.Fatalf("connect to gateway: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })

	if got := listedNames(t, session); !reflect.DeepEqual(got, []string{"alpha_x"}) {
		t.Fatalf("tools = %v", got)
	}
	if _, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "alpha_x"}); err != nil {
		t.Fatalf("CallTool over HTTP: %v", err)
	}

	resp, err := server.Client().Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics status = %d", resp.StatusCode)
	}
}

func TestGatewayHealthReport(t *testing.T) {
	m, _ := newTestManager(t,
		backendSpec{id: "alpha", channel: mcpmgrtest.NewChannel(mcpmgrtest.Tool("x"))},
		backendSpec{id: "bravo", err: errors.New("spawn failed")},
	)
	g := newTestGatewayFor(t, m, nil)

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var report healthReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Status != "ok" || report.Live != 1 || report.Tools != 1 || len(report.Backends) != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Backends[1].State != mcpmgr.StateFailed {
		t.Fatalf("bravo state = %s", report.Backends[1].State)
	}
}

func TestGatewayCORS(t *testing.T) {
	g := newTestGatewayFor(t, emptyManager(t), &Options{CORSOrigins: []string{"https://app.example"}})

	req := httptest.NewRequest(http.MethodOptions, "/mcp", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestNewGatewayRequiresManager(t *testing.T) {
	if _, err := NewGateway(nil, nil); err == nil {
		t.Fatalf("expected error without manager")
	}
}

func TestMirrorableNormalizesSchemas(t *testing.T) {
	tool, ok := mirrorable(&mcp.Tool{Name: "a"})
	if !ok || !reflect.DeepEqual(tool.InputSchema, map[string]any{"type": "object"}) {
		t.Fatalf("nil schema should become an empty object schema, got %#v", tool)
	}
	if _, ok := mirrorable(&mcp.Tool{Name: "b", InputSchema: map[string]any{"type": "string"}}); ok {
		t.Fatalf("non-object schema must not be mirrored")
	}
	tool, ok = mirrorable(&mcp.Tool{
		Name:         "c",
		InputSchema:  json.RawMessage(`{"type":"object"}`),
		OutputSchema: map[string]any{"type": "array"},
	})
	if !ok || tool.OutputSchema != nil {
		t.Fatalf("raw schema should decode and invalid output schema be dropped, got %#v", tool)
	}
}
