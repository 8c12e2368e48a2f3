package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/vikashloomba/mcp-gateway-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-gateway-go/pkg/registry"
)

func main() {
	store, err := registry.NewStore(registry.ResolvePath("", os.Getenv))
	if err != nil {
		fmt.Printf("registry error: %v\n", err)
		os.Exit(1)
	}
	defs, err := store.List()
	if err != nil {
		fmt.Printf("registry error: %v\n", err)
		os.Exit(1)
	}

	manager := mcpmgr.NewManager(&mcpmgr.ManagerOptions{
		Sink: mcpmgr.ChangeSinkFunc(func(_ context.Context, event mcpmgr.ChangeEvent) error {
			fmt.Printf("Change: %s live=%v\n", event.Kind, event.Live)
			return nil
		}),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	manager.ConnectAll(ctx, defs, registry.SelectedGroups(os.Getenv))

	for _, summary := range manager.Summaries() {
		fmt.Printf("Configured server: %s\n", summary.ID)
		fmt.Printf("Status: %s\n", summary.State)
		if summary.LastError != "" {
			fmt.Printf("Error: %s\n", summary.LastError)
		}
	}
	for _, backend := range manager.Connected() {
		tools, err := backend.ListTools(ctx)
		if err != nil {
			fmt.Printf("%s: list error: %v\n", backend.ID(), err)
			continue
		}
		for _, tool := range tools {
			fmt.Printf("  %s_%s\n", backend.ID(), tool.Name)
		}
	}

	if err := manager.Shutdown(ctx); err != nil {
		fmt.Printf("disconnect error: %v\n", err)
	}
}
