package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	mcpgateway "github.com/vikashloomba/mcp-gateway-go/pkg/mcp-gateway"
	"github.com/vikashloomba/mcp-gateway-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-gateway-go/pkg/registry"
)

func main() {
	authorizationUrl := os.Getenv("AUTHORIZATION_SERVER_URL")
	oauthResourceMetadataUrl := os.Getenv("OAUTH_RESOURCE_METADATA_URL")
	if authorizationUrl == "" || oauthResourceMetadataUrl == "" {
		authorizationUrl = "https://example-server.modelcontextprotocol.io/"
		oauthResourceMetadataUrl = "https://example-server.modelcontextprotocol.io/.well-known/oauth-protected-resource"
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defs := []registry.BackendDefinition{
		{ID: "everything", Name: "Everything", Command: "npx", Args: []string{"-y", "@modelcontextprotocol/server-everything"}, Enabled: true},
		{ID: "time", Name: "Time", Command: "uvx", Args: []string{"mcp-server-time"}, Enabled: true},
	}

	manager := mcpmgr.NewManager(nil)

	verifier := func(ctx context.Context, token string, req *http.Request) (*auth.TokenInfo, error) {
		// Validate token with your upstream authorization server
		// Return TokenInfo with scopes, expiration, etc.
		return &auth.TokenInfo{
			Expiration: time.Now().Add(time.Hour),
		}, nil
	}

	gatewayOpts := &mcpgateway.Options{
		Addr: ":8787",
		Path: "/mcp",
		Streamable: mcp.StreamableHTTPOptions{
			Stateless:    false,
			JSONResponse: true,
		},
		TokenVerifier: verifier,
		TokenOptions: &auth.RequireBearerTokenOptions{
			ResourceMetadataURL: oauthResourceMetadataUrl,
		},
		AuthorizationServer: authorizationUrl,
	}

	gateway, err := mcpgateway.NewGateway(manager, gatewayOpts)
	if err != nil {
		log.Fatalf("failed to build gateway: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			log.Printf("backend shutdown: %v", err)
		}
	}()

	live := manager.ConnectAll(ctx, defs, nil)
	log.Printf("%d of %d backends connected, %d tools", len(live), len(defs), gateway.Catalog().Len())

	gwOptions := gateway.Options()
	log.Printf("gateway serving Streamable MCP on %s%s", gwOptions.Addr, gwOptions.Path)
	if err := gateway.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("gateway server stopped: %v", err)
	}
}
