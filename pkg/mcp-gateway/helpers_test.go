package mcpgateway

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/vikashloomba/mcp-gateway-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-gateway-go/pkg/mcpmgr/mcpmgrtest"
	"github.com/vikashloomba/mcp-gateway-go/pkg/registry"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type backendSpec struct {
	id      string
	channel *mcpmgrtest.Channel
	err     error
}

// newTestManager connects the given backends in order through a fake transport.
func newTestManager(t *testing.T, specs ...backendSpec) (*mcpmgr.Manager, *mcpmgrtest.Transport) {
	t.Helper()
	transport := mcpmgrtest.NewTransport()
	defs := make([]registry.BackendDefinition, 0, len(specs))
	for _, s := range specs {
		if s.err != nil {
			transport.Fail(s.id, s.err)
		} else {
			transport.Add(s.id, s.channel)
		}
		defs = append(defs, mcpmgrtest.Def(s.id))
	}
	m := mcpmgr.NewManager(&mcpmgr.ManagerOptions{Transport: transport, Logger: quietLogger()})
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	m.ConnectAll(context.Background(), defs, nil)
	return m, transport
}

func emptyManager(t *testing.T) *mcpmgr.Manager {
	t.Helper()
	m, _ := newTestManager(t)
	return m
}

func toolNames(entries []QualifiedTool) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.QualifiedName
	}
	return out
}
