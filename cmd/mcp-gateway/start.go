package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	mcpgateway "github.com/vikashloomba/mcp-gateway-go/pkg/mcp-gateway"
	"github.com/vikashloomba/mcp-gateway-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-gateway-go/pkg/registry"
	"github.com/vikashloomba/mcp-gateway-go/pkg/telemetry"
)

type startOptions struct {
	groups       string
	httpAddr     string
	httpPath     string
	logLevel     string
	logFormat    string
	logRPC       bool
	token        string
	corsOrigins  []string
	syncTimeout  time.Duration
	otelEndpoint string
	otelProtocol string
	otelInsecure bool
}

func newStartCmd(root *rootOptions) *cobra.Command {
	opts := &startOptions{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the MCP gateway server",
		Long: `Start launches every enabled server of the selected groups and serves the
merged tool catalog. Without --http the gateway speaks MCP over stdin/stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStart(cmd.Context(), root, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.groups, "groups", "g", "", "comma separated server groups (default $MCP_GATEWAY_GROUPS, $MCP_GATEWAY_GROUP or \"default\")")
	f.StringVar(&opts.httpAddr, "http", "", "serve Streamable HTTP on this address (e.g. :8700) instead of stdio")
	f.StringVar(&opts.httpPath, "path", "/mcp", "HTTP path of the MCP endpoint")
	f.StringVar(&opts.logLevel, "log-level", os.Getenv(envLogLevel), "log level: debug, info, warn, error")
	f.StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")
	f.BoolVar(&opts.logRPC, "log-rpc", false, "log every JSON-RPC message exchanged with backends at debug level")
	f.StringVar(&opts.token, "token", os.Getenv("MCP_GATEWAY_TOKEN"), "require this bearer token on the HTTP endpoint")
	f.StringSliceVar(&opts.corsOrigins, "cors-origins", nil, "allowed CORS origins for the HTTP endpoint")
	f.DurationVar(&opts.syncTimeout, "sync-timeout", 30*time.Second, "per-server bound on tools/list during catalog rebuilds")
	f.StringVar(&opts.otelEndpoint, "otel-endpoint", "", "OTLP endpoint for traces; tracing is off when empty")
	f.StringVar(&opts.otelProtocol, "otel-protocol", "grpc", "OTLP protocol: grpc or http")
	f.BoolVar(&opts.otelInsecure, "otel-insecure", false, "disable TLS for the OTLP exporter")
	return cmd
}

func runStart(parent context.Context, root *rootOptions, opts *startOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	logger, err := newLogger(os.Stderr, opts.logLevel, opts.logFormat)
	if err != nil {
		return err
	}

	store, err := registry.NewStore(registry.ResolvePath(root.configPath, os.Getenv))
	if err != nil {
		return err
	}
	defs, err := store.List()
	if err != nil {
		return err
	}
	groups := resolveGroups(opts.groups, os.Getenv)
	logger.Info("starting mcp gateway",
		"config", store.Path(), "groups", groups, "configured", len(defs), "version", version)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracing, err := telemetry.NewTracerSetup(ctx, telemetry.TracingConfig{
		Enabled:  opts.otelEndpoint != "",
		Endpoint: opts.otelEndpoint,
		Protocol: opts.otelProtocol,
		Insecure: opts.otelInsecure,
	})
	if err != nil {
		return err
	}
	metrics := telemetry.NewMetrics()

	transport := mcpmgr.NewCommandTransport(os.Stderr)
	transport.Implementation = &mcp.Implementation{Name: "mcp-gateway", Version: version}
	if opts.logRPC {
		transport.RPCLogger = mcpmgr.SlogRPCLogger(logger)
	}
	manager := mcpmgr.NewManager(&mcpmgr.ManagerOptions{
		Transport: transport,
		Logger:    logger,
		Metrics:   metrics,
	})

	gwOpts := &mcpgateway.Options{
		Implementation: &mcp.Implementation{Name: "mcp-gateway", Title: "MCP Gateway", Version: version},
		Addr:           opts.httpAddr,
		Path:           opts.httpPath,
		Logger:         logger,
		SyncTimeout:    opts.syncTimeout,
		Metrics:        metrics,
		Tracer:         tracing.Tracer(),
		CORSOrigins:    opts.corsOrigins,
	}
	if opts.token != "" {
		gwOpts.TokenVerifier = staticTokenVerifier(opts.token)
	}
	gateway, err := mcpgateway.NewGateway(manager, gwOpts)
	if err != nil {
		return err
	}

	live := manager.ConnectAll(ctx, defs, groups)
	logger.Info("backends ready", "live", len(live), "servers", manager.LiveIDs())
	for _, summary := range manager.Summaries() {
		if summary.LastError != "" {
			logger.Warn("backend unavailable", "server", summary.ID, "state", string(summary.State), "error", summary.LastError)
		}
	}

	var serveErr error
	if opts.httpAddr != "" {
		logger.Info("serving streamable HTTP", "addr", opts.httpAddr, "path", gateway.Options().Path)
		serveErr = gateway.ListenAndServe(ctx)
	} else {
		logger.Info("serving stdio")
		serveErr = gateway.ServeStdio(ctx)
	}
	if errors.Is(serveErr, context.Canceled) {
		serveErr = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.syncTimeout)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("backend shutdown incomplete", "error", err)
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Warn("trace exporter shutdown failed", "error", err)
	}
	if serveErr != nil {
		return fmt.Errorf("serving front-end: %w", serveErr)
	}
	logger.Info("mcp gateway stopped")
	return nil
}

// resolveGroups applies the group precedence: the flag, then the
// environment, then the default group.
func resolveGroups(flag string, getenv func(string) string) []string {
	if groups := registry.ParseGroups(flag); len(groups) > 0 {
		return groups
	}
	return registry.SelectedGroups(getenv)
}

func staticTokenVerifier(token string) auth.TokenVerifier {
	want := []byte(token)
	return func(_ context.Context, got string, _ *http.Request) (*auth.TokenInfo, error) {
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			return nil, auth.ErrInvalidToken
		}
		return &auth.TokenInfo{Expiration: time.Now().Add(time.Hour)}, nil
	}
}
