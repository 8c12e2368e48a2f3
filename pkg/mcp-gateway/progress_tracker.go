package mcpgateway

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const progressTokenKey = "progressToken"

// progressSink is the front-end session a routed call came from.
type progressSink interface {
	NotifyProgress(context.Context, *mcp.ProgressNotificationParams) error
}

// Backends may emit a final notification just after replying.
const progressCleanupGrace = 250 * time.Millisecond

type progressEntry struct {
	backend string
	sink    progressSink
	token   any
}

// progressTracker hands each routed call a gateway-unique progress token so
// that callers reusing the same token on the same backend never see each
// other's notifications. Notifications coming back are mapped to the caller's
// session and original token.
type progressTracker struct {
	mu      sync.RWMutex
	next    uint64
	entries map[string]progressEntry

	logger       *slog.Logger
	cleanupGrace time.Duration
}

func newProgressTracker(logger *slog.Logger) *progressTracker {
	return &progressTracker{
		entries:      make(map[string]progressEntry),
		logger:       logger,
		cleanupGrace: progressCleanupGrace,
	}
}

// bind records that progress for token, sent by sink on a call to backendID,
// must be routed back to sink. It returns the token to send to the backend
// and the release func, which drops the binding after the cleanup grace.
func (pt *progressTracker) bind(backendID string, token any, sink progressSink) (string, func()) {
	pt.mu.Lock()
	pt.next++
	wire := fmt.Sprintf("gw/%s/%d", backendID, pt.next)
	pt.entries[wire] = progressEntry{backend: backendID, sink: sink, token: token}
	pt.mu.Unlock()

	return wire, func() {
		if pt.cleanupGrace <= 0 {
			pt.release(wire)
			return
		}
		time.AfterFunc(pt.cleanupGrace, func() { pt.release(wire) })
	}
}

func (pt *progressTracker) release(wire string) {
	pt.mu.Lock()
	delete(pt.entries, wire)
	pt.mu.Unlock()
}

// lookup resolves a token echoed by backendID to the waiting session and the
// token that session originally used.
func (pt *progressTracker) lookup(backendID string, token any) (progressSink, any, bool) {
	wire, ok := token.(string)
	if !ok {
		return nil, nil, false
	}
	pt.mu.RLock()
	entry, ok := pt.entries[wire]
	pt.mu.RUnlock()
	if !ok || entry.backend != backendID {
		return nil, nil, false
	}
	return entry.sink, entry.token, true
}

func (pt *progressTracker) pending() int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return len(pt.entries)
}

// withProgressToken returns a copy of meta carrying token.
func withProgressToken(meta mcp.Meta, token string) mcp.Meta {
	out := make(mcp.Meta, len(meta)+1)
	maps.Copy(out, meta)
	out[progressTokenKey] = token
	return out
}
