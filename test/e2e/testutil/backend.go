//go:build e2e

package testutil

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cchalm/kb-assistant/internal/tools"
)

// recordingBackend records the names of the tools the model calls
type recordingBackend struct {
	*tools.Server

	mu    sync.Mutex
	calls []string
}

func (b *recordingBackend) Call(ctx context.Context, name string, input json.RawMessage) tools.Result {
	b.mu.Lock()
	b.calls = append(b.calls, name)
	b.mu.Unlock()
	return b.Server.Call(ctx, name, input)
}

func (b *recordingBackend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}
