//go:build e2e

package testutil

import (
	"context"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"

	"github.com/cchalm/kb-assistant/internal/ai"
	appconfig "github.com/cchalm/kb-assistant/internal/config"
	"github.com/cchalm/kb-assistant/internal/extract"
	"github.com/cchalm/kb-assistant/internal/kb"
	"github.com/cchalm/kb-assistant/internal/terminal"
	"github.com/cchalm/kb-assistant/internal/tools"
)

// TestConfig holds configuration for end-to-end tests
type TestConfig struct {
	Model         string
	MaxTokens     int64
	MaxToolRounds int
	Iterations    int
	Timeout       time.Duration
	AnthropicKey  string
}

// LoadTestConfig loads test configuration from environment variables
func LoadTestConfig() TestConfig {
	config := TestConfig{
		Model:         appconfig.DefaultModel,
		MaxTokens:     4000,
		MaxToolRounds: 10,
		Iterations:    3,
		Timeout:       300 * time.Second,
	}

	if model := os.Getenv("E2E_MODEL"); model != "" {
		config.Model = model
	}

	if tokens := os.Getenv("E2E_MAX_TOKENS"); tokens != "" {
		if val, err := strconv.ParseInt(tokens, 10, 64); err == nil {
			config.MaxTokens = val
		}
	}

	if iterations := os.Getenv("E2E_ITERATIONS"); iterations != "" {
		if val, err := strconv.Atoi(iterations); err == nil {
			config.Iterations = val
		}
	}

	if timeout := os.Getenv("E2E_TIMEOUT"); timeout != "" {
		if val, err := strconv.Atoi(timeout); err == nil {
			config.Timeout = time.Duration(val) * time.Second
		}
	}

	config.AnthropicKey = os.Getenv("ANTHROPIC_API_KEY")

	return config
}

// TestHarness wires a real model session to an in-memory knowledge base
type TestHarness struct {
	t       *testing.T
	config  TestConfig
	store   *kb.SQLiteStore
	backend *recordingBackend
	allowed []string
	opener  ai.SessionOpener
}

// NewTestHarness creates a new test harness
func NewTestHarness(t *testing.T) *TestHarness {
	config := LoadTestConfig()

	require.NotEmpty(t, config.AnthropicKey, "ANTHROPIC_API_KEY environment variable is required for e2e tests")

	logger := zaptest.NewLogger(t)
	tracer := noop.NewTracerProvider().Tracer("e2e")

	store, err := kb.OpenSQLiteStore(context.Background(), ":memory:", extract.FileExtractor{}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	kbServer, err := tools.NewKnowledgeServer(store, logger, tracer)
	require.NoError(t, err)
	fileServer, err := tools.NewFileServer(t.TempDir(), logger, tracer)
	require.NoError(t, err)
	combined, err := tools.Combine("e2e", logger, tracer, kbServer, fileServer)
	require.NoError(t, err)

	client := anthropic.NewClient(option.WithAPIKey(config.AnthropicKey))

	return &TestHarness{
		t:       t,
		config:  config,
		store:   store,
		backend: &recordingBackend{Server: combined},
		allowed: append(kbServer.Names(), fileServer.Names()...),
		opener:  ai.NewAnthropicSessionOpener(client, logger, tracer),
	}
}

// Config returns the test configuration
func (h *TestHarness) Config() TestConfig {
	return h.config
}

// Store returns the harness's knowledge base
func (h *TestHarness) Store() kb.Store {
	return h.store
}

// ToolCalls returns the names of the tools called so far, in order
func (h *TestHarness) ToolCalls() []string {
	return h.backend.Calls()
}

// Ask runs one turn and returns the recorded answer together with everything written to the terminal
func (h *TestHarness) Ask(ctx context.Context, question string, history []ai.Message) (answer string, output string) {
	var out strings.Builder
	driver := ai.NewDriver(h.opener, h.backend, h.allowed, terminal.New(false), &out, ai.DriverConfig{
		Model:           h.config.Model,
		MaxToolRounds:   h.config.MaxToolRounds,
		MaxOutputTokens: h.config.MaxTokens,
	}, zaptest.NewLogger(h.t), noop.NewTracerProvider().Tracer("e2e"))
	answer = driver.Ask(ctx, question, history)
	return answer, out.String()
}

// RunIterations runs a test function multiple times and reports results
func (h *TestHarness) RunIterations(testName string, testFunc func(iteration int) error) {
	h.t.Helper()

	successCount := 0
	var lastError error

	for i := 0; i < h.config.Iterations; i++ {
		h.t.Logf("Running iteration %d/%d of %s", i+1, h.config.Iterations, testName)

		err := testFunc(i)
		if err != nil {
			h.t.Logf("Iteration %d failed: %v", i+1, err)
			lastError = err
		} else {
			successCount++
			h.t.Logf("Iteration %d succeeded", i+1)
		}
	}

	h.t.Logf("Test %s: %d/%d iterations succeeded", testName, successCount, h.config.Iterations)

	// Require at least 2/3 success rate for tests to pass
	minSuccessCount := (h.config.Iterations*2 + 2) / 3
	if successCount < minSuccessCount {
		require.NoErrorf(h.t, lastError, "Test %s failed with %d/%d successes (minimum %d required)",
			testName, successCount, h.config.Iterations, minSuccessCount)
	}
}

// WithTimeout runs a function with the configured timeout
func (h *TestHarness) WithTimeout(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	return fn(ctx)
}
