package mcpgateway

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/vikashloomba/mcp-gateway-go/pkg/mcpmgr/mcpmgrtest"
)

func TestProgressBindIssuesUniqueTokens(t *testing.T) {
	pt := newProgressTracker(quietLogger())
	first, second := &fakeProgressSink{}, &fakeProgressSink{}

	wire1, _ := pt.bind("srv", float64(1), first)
	wire2, _ := pt.bind("srv", float64(1), second)
	if wire1 == wire2 {
		t.Fatalf("same client token produced the same backend token %q", wire1)
	}
	if !strings.HasPrefix(wire1, "gw/srv/") {
		t.Fatalf("backend token = %q, want gw/srv/ prefix", wire1)
	}

	sink, token, ok := pt.lookup("srv", wire1)
	if !ok || sink != first || token != float64(1) {
		t.Fatalf("lookup(%q) = (%v, %v, %v)", wire1, sink, token, ok)
	}
	sink, _, ok = pt.lookup("srv", wire2)
	if !ok || sink != second {
		t.Fatalf("lookup(%q) returned the wrong session", wire2)
	}
	if _, _, ok := pt.lookup("other", wire1); ok {
		t.Fatalf("tokens are scoped per backend")
	}
	if _, _, ok := pt.lookup("srv", float64(1)); ok {
		t.Fatalf("client tokens must not resolve directly")
	}
}

func TestProgressReleaseAfterGrace(t *testing.T) {
	pt := newProgressTracker(quietLogger())
	wire, release := pt.bind("srv", "tok", &fakeProgressSink{})

	release()
	if _, _, ok := pt.lookup("srv", wire); !ok {
		t.Fatalf("binding dropped before the grace period")
	}
	deadline := time.Now().Add(4 * progressCleanupGrace)
	for pt.pending() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("progress binding was not released in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWithProgressTokenCopiesMeta(t *testing.T) {
	meta := mcp.Meta{"progressToken": 1, "trace": "abc"}
	out := withProgressToken(meta, "gw/a/1")
	if out["progressToken"] != "gw/a/1" || out["trace"] != "abc" {
		t.Fatalf("rewritten meta = %v", out)
	}
	if meta["progressToken"] != 1 {
		t.Fatalf("caller meta was modified: %v", meta)
	}
}

func TestForwardProgressRestoresCallerToken(t *testing.T) {
	g := &Gateway{opts: (&Options{Logger: quietLogger()}).withDefaults(), progress: newProgressTracker(quietLogger())}
	sink := &fakeProgressSink{}
	wire, _ := g.progress.bind("srv", float64(3), sink)

	g.forwardProgress(context.Background(), "srv", &mcp.ProgressNotificationParams{ProgressToken: wire, Progress: 0.5, Total: 1})
	g.forwardProgress(context.Background(), "srv", &mcp.ProgressNotificationParams{ProgressToken: "unknown"})

	if sink.count() != 1 {
		t.Fatalf("expected NotifyProgress to be called once, got %d", sink.count())
	}
	if sink.lastParams.ProgressToken != float64(3) || sink.lastParams.Progress != 0.5 {
		t.Fatalf("forwarded params = %+v", sink.lastParams)
	}
}

// Two front-ends using the same token on the same backend each receive only
// their own notification.
func TestGatewayProgressIsolatedPerSession(t *testing.T) {
	ch := mcpmgrtest.NewChannel(mcpmgrtest.Tool("build"))
	m, transport := newTestManager(t, backendSpec{id: "ci", channel: ch})
	ch.CallFunc = func(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
		hooks, _ := transport.Hooks("ci")
		hooks.OnProgress(ctx, &mcp.ProgressNotificationParams{ProgressToken: params.Meta["progressToken"], Progress: 1})
		return &mcp.CallToolResult{}, nil
	}
	g := newTestGatewayFor(t, m, nil)

	var mu sync.Mutex
	received := map[string]int{}
	sessionFor := func(name string) *mcp.ClientSession {
		return connectFrontEnd(t, g, &mcp.ClientOptions{
			ProgressNotificationHandler: func(_ context.Context, req *mcp.ProgressNotificationClientRequest) {
				mu.Lock()
				received[name]++
				mu.Unlock()
			},
		})
	}
	first, second := sessionFor("first"), sessionFor("second")

	for _, session := range []*mcp.ClientSession{first, second} {
		params := &mcp.CallToolParams{Name: "ci_build", Meta: mcp.Meta{"progressToken": 1}}
		if _, err := session.CallTool(context.Background(), params); err != nil {
			t.Fatalf("CallTool: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		a, b := received["first"], received["second"]
		mu.Unlock()
		if a == 1 && b == 1 {
			break
		}
		if a > 1 || b > 1 || time.Now().After(deadline) {
			t.Fatalf("progress per session = first:%d second:%d, want 1 each", a, b)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type fakeProgressSink struct {
	mu         sync.Mutex
	calls      int
	lastParams *mcp.ProgressNotificationParams
}

func (f *fakeProgressSink) NotifyProgress(ctx context.Context, params *mcp.ProgressNotificationParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastParams = params
	return nil
}

func (f *fakeProgressSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
